package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/config"
	orderdb "github.com/nao1215/bookhub/internal/order/db"
	"github.com/nao1215/bookhub/pkg/event"
	"github.com/nao1215/bookhub/pkg/httpclient"
	"github.com/nao1215/bookhub/pkg/httpserver"
	"github.com/nao1215/bookhub/pkg/middleware"
	"github.com/nao1215/bookhub/pkg/pagination"
)

// 注文のステータス。
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// statuses は有効なステータスの一覧。
var statuses = []string{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

// validStatus はステータスが有効かどうかを返す。
func validStatus(s string) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Server は注文サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// logger は構造化ロガー。
	logger *zap.Logger
	// db は注文作成のトランザクションに使用する。
	db *sql.DB
	// queries はデータベースのクエリ実行オブジェクト。
	queries *orderdb.Queries
	// verifier はアクセストークンを検証する。
	verifier *middleware.Verifier
	// catalog はカタログサービスのクライアント。
	catalog Catalog
	// publisher はドメインイベントを配信する。
	publisher event.Publisher
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewServer は新しい注文サーバーを生成する。
// pubがnilの場合はイベントを配信しない。
func NewServer(cfg *config.Config, logger *zap.Logger, sqlDB *sql.DB, catalog Catalog, pub event.Publisher) (*Server, error) {
	verifier, err := middleware.NewVerifier(cfg.JWT.Secret, cfg.JWT.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}
	if catalog == nil {
		return nil, errors.New("カタログサービスのクライアントが指定されていません")
	}
	if pub == nil {
		pub = event.NopPublisher{}
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger, "/health"))

	s := &Server{
		router:    router,
		port:      cfg.Server.Port,
		logger:    logger,
		db:        sqlDB,
		queries:   orderdb.New(sqlDB),
		verifier:  verifier,
		catalog:   catalog,
		publisher: pub,
		now:       time.Now,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はOpenTelemetryで計装したHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "order")
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("注文サービスを起動します", zap.String("port", s.port))
	return httpserver.Run(ctx, ":"+s.port, s.Handler(), s.logger)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	orders := s.router.Group("/api/v1/orders")
	orders.Use(middleware.JWTAuth(s.verifier))
	{
		orders.POST("", s.handleCreateOrder())
		orders.GET("", s.handleListOrders())
		orders.GET("/stats", s.handleStats())
		orders.GET("/:id", s.handleGetOrder())
		orders.PATCH("/:id/status", middleware.RequireAdmin(), s.handleUpdateStatus())
		orders.DELETE("/:id", s.handleCancelOrder())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "order"})
	})
}

// orderItemRequest は注文明細のリクエスト。
type orderItemRequest struct {
	BookID   string `json:"book_id" binding:"required,uuid"`
	Quantity int64  `json:"quantity" binding:"required,gte=1"`
}

// createOrderRequest は注文作成リクエストのJSON構造。
type createOrderRequest struct {
	Items []orderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// updateStatusRequest はステータス更新リクエストのJSON構造。
type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// orderItemResponse は注文明細のJSONレスポンス構造。
type orderItemResponse struct {
	ID              string  `json:"id"`
	BookID          string  `json:"book_id"`
	BookTitle       string  `json:"book_title"`
	Quantity        int64   `json:"quantity"`
	PriceAtPurchase float64 `json:"price_at_purchase"`
	Subtotal        float64 `json:"subtotal"`
}

// orderResponse は注文のJSONレスポンス構造。
type orderResponse struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Status      string              `json:"status"`
	TotalAmount float64             `json:"total_amount"`
	Items       []orderItemResponse `json:"items"`
	CreatedAt   string              `json:"created_at"`
	UpdatedAt   string              `json:"updated_at"`
}

// statsResponse は注文統計のJSONレスポンス構造。
type statsResponse struct {
	TotalOrders         int64            `json:"total_orders"`
	TotalSpent          float64          `json:"total_spent"`
	OrdersByStatus      map[string]int64 `json:"orders_by_status"`
	TotalBooksPurchased int64            `json:"total_books_purchased"`
}

// toOrderResponse はDB行をJSONレスポンスに変換する。
func toOrderResponse(o orderdb.Order, items []orderdb.OrderItem) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		Items:       make([]orderItemResponse, 0, len(items)),
		CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   o.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, i := range items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:              i.ID,
			BookID:          i.BookID,
			BookTitle:       i.BookTitle,
			Quantity:        i.Quantity,
			PriceAtPurchase: i.PriceAtPurchase,
			Subtotal:        i.Subtotal,
		})
	}
	return resp
}

// roundCents は金額を小数点以下2桁に丸める。
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// requestContext はリクエストIDを引き継いだカタログ呼び出し用のコンテキストを返す。
func requestContext(c *gin.Context) context.Context {
	return httpclient.WithRequestID(c.Request.Context(), middleware.GetRequestID(c))
}

// handleCreateOrder は注文作成を処理するハンドラを返す。
func (s *Server) handleCreateOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}

		ctx := requestContext(c)
		userID := middleware.GetUserID(c)
		orderID := uuid.New().String()
		now := s.now().UTC()

		items := make([]orderdb.OrderItem, 0, len(req.Items))
		steps := make([]stockStep, 0, len(req.Items))
		var total float64
		for i, it := range req.Items {
			book, err := s.catalog.GetBook(ctx, it.BookID)
			if err != nil {
				s.catalogFailure(c, err)
				return
			}
			if book.StockQuantity < it.Quantity {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient stock for book: " + book.Title})
				return
			}

			price := roundCents(book.Price)
			subtotal := roundCents(price * float64(it.Quantity))
			total += subtotal
			items = append(items, orderdb.OrderItem{
				ID:              uuid.New().String(),
				OrderID:         orderID,
				BookID:          it.BookID,
				BookTitle:       book.Title,
				Quantity:        it.Quantity,
				PriceAtPurchase: price,
				Subtotal:        subtotal,
				Position:        int64(i),
			})
			steps = append(steps, stockStep{BookID: it.BookID, Quantity: it.Quantity})
		}

		reservation := newStockReservation(s.catalog, s.publisher, s.logger, orderID)
		if err := reservation.Reserve(ctx, steps); err != nil {
			s.catalogFailure(c, err)
			return
		}

		o := orderdb.Order{
			ID:          orderID,
			UserID:      userID,
			Status:      StatusPending,
			TotalAmount: roundCents(total),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.insertOrder(ctx, o, items); err != nil {
			reservation.Compensate(ctx, "order persistence failed")
			s.internalError(c, "注文の保存に失敗", err)
			return
		}

		placed := event.OrderPlacedData{UserID: userID, TotalAmount: o.TotalAmount}
		for _, i := range items {
			placed.Items = append(placed.Items, event.OrderItemData{BookID: i.BookID, Quantity: i.Quantity, Price: i.PriceAtPurchase})
		}
		event.Emit(ctx, s.publisher, s.logger, orderID, event.AggregateTypeOrder, event.TypeOrderPlaced, placed)

		s.logger.Info("注文を作成しました",
			zap.String("order_id", orderID),
			zap.String("user_id", userID),
			zap.Int("items", len(items)),
			zap.Float64("total_amount", o.TotalAmount),
		)
		c.JSON(http.StatusCreated, toOrderResponse(o, items))
	}
}

// insertOrder は注文と明細を1つのトランザクションで保存する。
func (s *Server) insertOrder(ctx context.Context, o orderdb.Order, items []orderdb.OrderItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	qtx := s.queries.WithTx(tx)
	if err := qtx.CreateOrder(ctx, o); err != nil {
		return fmt.Errorf("注文の作成に失敗: %w", err)
	}
	for _, i := range items {
		if err := qtx.CreateOrderItem(ctx, i); err != nil {
			return fmt.Errorf("注文明細の作成に失敗: %w", err)
		}
	}
	return tx.Commit()
}

// catalogFailure はカタログサービスのエラーをレスポンスに変換する。
func (s *Server) catalogFailure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient stock"})
	case errors.Is(err, ErrBookNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
	default:
		s.logger.Error("カタログサービスの呼び出しに失敗",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(c)),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Catalog service unavailable"})
	}
}

// handleListOrders は呼び出し元の注文一覧を返すハンドラを返す。
func (s *Server) handleListOrders() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := pagination.FromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid query parameters: %v", err)})
			return
		}
		status := c.Query("status")
		if status != "" && !validStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid query parameters: status が不正です: %q", status)})
			return
		}

		ctx := c.Request.Context()
		userID := middleware.GetUserID(c)
		total, err := s.queries.CountOrdersByUser(ctx, orderdb.CountOrdersByUserParams{UserID: userID, Status: status})
		if err != nil {
			s.internalError(c, "注文数の取得に失敗", err)
			return
		}
		rows, err := s.queries.ListOrdersByUser(ctx, orderdb.ListOrdersByUserParams{
			UserID: userID,
			Status: status,
			Limit:  page.Limit,
			Offset: page.Offset(),
		})
		if err != nil {
			s.internalError(c, "注文一覧の取得に失敗", err)
			return
		}

		orders := make([]orderResponse, 0, len(rows))
		for _, o := range rows {
			items, err := s.queries.ListOrderItems(ctx, o.ID)
			if err != nil {
				s.internalError(c, "注文明細の取得に失敗", err)
				return
			}
			orders = append(orders, toOrderResponse(o, items))
		}
		c.JSON(http.StatusOK, pagination.NewPage(orders, total, page))
	}
}

// handleStats は呼び出し元の注文統計を返すハンドラを返す。
func (s *Server) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := middleware.GetUserID(c)

		stats, err := s.queries.GetOrderStats(ctx, userID)
		if err != nil {
			s.internalError(c, "注文統計の取得に失敗", err)
			return
		}
		counts, err := s.queries.CountOrdersByStatus(ctx, userID)
		if err != nil {
			s.internalError(c, "ステータス別の注文数の取得に失敗", err)
			return
		}

		byStatus := make(map[string]int64, len(statuses))
		for _, st := range statuses {
			byStatus[st] = 0
		}
		for _, sc := range counts {
			byStatus[sc.Status] = sc.Count
		}

		c.JSON(http.StatusOK, statsResponse{
			TotalOrders:         stats.TotalOrders,
			TotalSpent:          roundCents(stats.TotalSpent),
			OrdersByStatus:      byStatus,
			TotalBooksPurchased: stats.TotalBooksPurchased,
		})
	}
}

// handleGetOrder は注文詳細を返すハンドラを返す。管理者は全ユーザーの注文を参照できる。
func (s *Server) handleGetOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		o, items, ok := s.loadOrder(c, middleware.IsAdmin(c))
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toOrderResponse(o, items))
	}
}

// handleUpdateStatus は注文ステータスの変更を処理するハンドラを返す。
// キャンセルへの変更では在庫を戻す。キャンセル済みの注文は変更できない。
func (s *Server) handleUpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}
		if !validStatus(req.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
			return
		}

		o, items, ok := s.loadOrder(c, true)
		if !ok {
			return
		}
		if o.Status == req.Status {
			c.JSON(http.StatusOK, toOrderResponse(o, items))
			return
		}
		if o.Status == StatusCancelled {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot change status of a cancelled order"})
			return
		}

		ctx := requestContext(c)
		from := o.Status
		o.Status = req.Status
		o.UpdatedAt = s.now().UTC()
		n, err := s.queries.UpdateOrderStatus(ctx, orderdb.UpdateOrderStatusParams{
			ID:        o.ID,
			From:      from,
			To:        o.Status,
			UpdatedAt: o.UpdatedAt,
		})
		if err != nil {
			s.internalError(c, "注文ステータスの更新に失敗", err)
			return
		}
		if n == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "Order status was changed by another request"})
			return
		}

		if o.Status == StatusCancelled {
			s.restoreStock(ctx, o.ID, items, "order cancelled by admin")
		}
		event.Emit(ctx, s.publisher, s.logger, o.ID, event.AggregateTypeOrder, event.TypeOrderStatusChanged, event.OrderStatusChangedData{
			From: from,
			To:   o.Status,
		})

		s.logger.Info("注文ステータスを変更しました",
			zap.String("order_id", o.ID),
			zap.String("from", from),
			zap.String("to", o.Status),
		)
		c.JSON(http.StatusOK, toOrderResponse(o, items))
	}
}

// handleCancelOrder は呼び出し元の保留中の注文をキャンセルするハンドラを返す。
func (s *Server) handleCancelOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		o, items, ok := s.loadOrder(c, false)
		if !ok {
			return
		}

		ctx := requestContext(c)
		now := s.now().UTC()
		n, err := s.queries.UpdateOrderStatus(ctx, orderdb.UpdateOrderStatusParams{
			ID:        o.ID,
			From:      StatusPending,
			To:        StatusCancelled,
			UpdatedAt: now,
		})
		if err != nil {
			s.internalError(c, "注文のキャンセルに失敗", err)
			return
		}
		if n == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot cancel order (already processing/completed)"})
			return
		}
		o.Status = StatusCancelled
		o.UpdatedAt = now

		s.restoreStock(ctx, o.ID, items, "order cancelled")
		event.Emit(ctx, s.publisher, s.logger, o.ID, event.AggregateTypeOrder, event.TypeOrderCancelled, event.OrderCancelledData{
			UserID: o.UserID,
		})

		s.logger.Info("注文をキャンセルしました", zap.String("order_id", o.ID), zap.String("user_id", o.UserID))
		c.JSON(http.StatusOK, toOrderResponse(o, items))
	}
}

// restoreStock は注文明細の在庫をカタログサービスに戻す。
func (s *Server) restoreStock(ctx context.Context, orderID string, items []orderdb.OrderItem, reason string) {
	r := newStockReservation(s.catalog, s.publisher, s.logger, orderID)
	for _, i := range items {
		r.reserved = append(r.reserved, stockStep{BookID: i.BookID, Quantity: i.Quantity})
	}
	if failed := r.Compensate(ctx, reason); failed > 0 {
		s.logger.Warn("一部の在庫を戻せませんでした", zap.String("order_id", orderID), zap.Int("failed", failed))
	}
}

// loadOrder はパスパラメータのIDで注文と明細を取得する。
// anyOwnerがfalseの場合、呼び出し元以外の注文は存在しないものとして扱う。
// 見つからない場合やエラーの場合はレスポンスを書き込んでfalseを返す。
func (s *Server) loadOrder(c *gin.Context, anyOwner bool) (orderdb.Order, []orderdb.OrderItem, bool) {
	ctx := c.Request.Context()
	o, err := s.queries.GetOrder(ctx, c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !anyOwner && o.UserID != middleware.GetUserID(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return o, nil, false
	}
	if err != nil {
		s.internalError(c, "注文の取得に失敗", err)
		return o, nil, false
	}

	items, err := s.queries.ListOrderItems(ctx, o.ID)
	if err != nil {
		s.internalError(c, "注文明細の取得に失敗", err)
		return o, nil, false
	}
	return o, items, true
}

// internalError はエラーをログに記録し、500を返す。
func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.Error(err), zap.String("request_id", middleware.GetRequestID(c)))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
