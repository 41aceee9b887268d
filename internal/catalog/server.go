package catalog

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	catalogdb "github.com/nao1215/bookhub/internal/catalog/db"
	"github.com/nao1215/bookhub/internal/config"
	"github.com/nao1215/bookhub/pkg/httpserver"
	"github.com/nao1215/bookhub/pkg/middleware"
	"github.com/nao1215/bookhub/pkg/migration"
	"github.com/nao1215/bookhub/pkg/pagination"
)

// HeaderInternalSecret はサービス間の内部APIで共有シークレットを渡すヘッダー。
const HeaderInternalSecret = "X-Internal-Secret"

// dateLayout は出版日の形式。
const dateLayout = "2006-01-02"

// Server はカタログサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// logger は構造化ロガー。
	logger *zap.Logger
	// queries はデータベースのクエリ実行オブジェクト。
	queries *catalogdb.Queries
	// verifier はアクセストークンを検証する。
	verifier *middleware.Verifier
	// internalSecret は在庫増減APIの共有シークレット。
	internalSecret string
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewServer は新しいカタログサーバーを生成する。
// sqlDB はマイグレーション適用済みのデータベースで、呼び出し元が所有する。
func NewServer(cfg *config.Config, logger *zap.Logger, sqlDB *sql.DB) (*Server, error) {
	verifier, err := middleware.NewVerifier(cfg.JWT.Secret, cfg.JWT.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}
	if cfg.InternalSecret == "" {
		return nil, errors.New("internal_secret が設定されていません")
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger, "/health"))

	s := &Server{
		router:         router,
		port:           cfg.Server.Port,
		logger:         logger,
		queries:        catalogdb.New(sqlDB),
		verifier:       verifier,
		internalSecret: cfg.InternalSecret,
		now:            time.Now,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はOpenTelemetryで計装したHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "catalog")
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("カタログサービスを起動します", zap.String("port", s.port))
	return httpserver.Run(ctx, ":"+s.port, s.Handler(), s.logger)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	admin := []gin.HandlerFunc{middleware.JWTAuth(s.verifier), middleware.RequireAdmin()}

	books := s.router.Group("/api/v1/books")
	{
		// カテゴリ一覧（書籍数付き）
		books.GET("/categories", s.handleListCategories())
		// カテゴリ作成（管理者）
		books.POST("/categories", append(admin, s.handleCreateCategory())...)
		// 書籍一覧
		books.GET("", s.handleListBooks())
		// 書籍作成（管理者）
		books.POST("", append(admin, s.handleCreateBook())...)
		// 書籍詳細
		books.GET("/:id", s.handleGetBook())
		// 書籍更新（管理者）
		books.PUT("/:id", append(admin, s.handleUpdateBook())...)
		// 書籍削除（管理者）
		books.DELETE("/:id", append(admin, s.handleDeleteBook())...)
		// 在庫増減（サービス間の内部API）
		books.PATCH("/:id/stock", s.requireInternalSecret(), s.handleAdjustStock())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "catalog"})
	})
}

// requireInternalSecret は共有シークレットを要求するミドルウェアを返す。
func (s *Server) requireInternalSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.internalSecret)) != 1 {
			s.logger.Warn("内部APIへの不正なアクセス",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// createCategoryRequest はカテゴリ作成リクエストのJSON構造。
type createCategoryRequest struct {
	Name        string  `json:"name" binding:"required,max=100"`
	Description *string `json:"description"`
}

// categoryResponse はカテゴリのJSONレスポンス構造。
type categoryResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	BookCount   int64   `json:"book_count"`
}

// createBookRequest は書籍作成リクエストのJSON構造。
type createBookRequest struct {
	Title         string   `json:"title" binding:"required"`
	Author        string   `json:"author" binding:"required"`
	ISBN          string   `json:"isbn" binding:"required"`
	Description   *string  `json:"description"`
	Price         *float64 `json:"price" binding:"required,gte=0"`
	StockQuantity int64    `json:"stock_quantity" binding:"gte=0"`
	Category      *string  `json:"category"`
	Publisher     *string  `json:"publisher"`
	PublishedDate *string  `json:"published_date"`
}

// updateBookRequest は書籍更新リクエストのJSON構造。指定された項目だけを更新する。
type updateBookRequest struct {
	Title         *string  `json:"title" binding:"omitempty,min=1"`
	Author        *string  `json:"author" binding:"omitempty,min=1"`
	ISBN          *string  `json:"isbn" binding:"omitempty,min=1"`
	Description   *string  `json:"description"`
	Price         *float64 `json:"price" binding:"omitempty,gte=0"`
	StockQuantity *int64   `json:"stock_quantity" binding:"omitempty,gte=0"`
	Category      *string  `json:"category"`
	Publisher     *string  `json:"publisher"`
	PublishedDate *string  `json:"published_date"`
}

// stockRequest は在庫増減リクエストのJSON構造。
type stockRequest struct {
	QuantityChange *int64 `json:"quantity_change" binding:"required"`
}

// bookResponse は書籍のJSONレスポンス構造。
type bookResponse struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	ISBN          string  `json:"isbn"`
	Description   *string `json:"description"`
	Price         float64 `json:"price"`
	StockQuantity int64   `json:"stock_quantity"`
	Category      *string `json:"category"`
	Publisher     *string `json:"publisher"`
	PublishedDate *string `json:"published_date"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// nullable はsql.NullStringをJSON用のポインタに変換する。
func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// nullString はポインタをsql.NullStringに変換する。
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// toBookResponse はDB行をJSONレスポンスに変換する。
func toBookResponse(b catalogdb.Book) bookResponse {
	return bookResponse{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		ISBN:          b.ISBN,
		Description:   nullable(b.Description),
		Price:         b.Price,
		StockQuantity: b.StockQuantity,
		Category:      nullable(b.Category),
		Publisher:     nullable(b.Publisher),
		PublishedDate: nullable(b.PublishedDate),
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// validDate は出版日の形式を検証する。nilは有効とする。
func validDate(s *string) bool {
	if s == nil {
		return true
	}
	_, err := time.Parse(dateLayout, *s)
	return err == nil
}

// handleListCategories はカテゴリ一覧を書籍数とともに返すハンドラを返す。
func (s *Server) handleListCategories() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.ListCategoriesWithCount(c.Request.Context())
		if err != nil {
			s.internalError(c, "カテゴリ一覧の取得に失敗", err)
			return
		}

		categories := make([]categoryResponse, 0, len(rows))
		for _, r := range rows {
			categories = append(categories, categoryResponse{
				ID:          r.ID,
				Name:        r.Name,
				Description: nullable(r.Description),
				BookCount:   r.BookCount,
			})
		}
		c.JSON(http.StatusOK, gin.H{"categories": categories})
	}
}

// handleCreateCategory はカテゴリ作成を処理するハンドラを返す。
func (s *Server) handleCreateCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCategoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}

		id := uuid.New().String()
		err := s.queries.CreateCategory(c.Request.Context(), catalogdb.CreateCategoryParams{
			ID:          id,
			Name:        strings.TrimSpace(req.Name),
			Description: nullString(req.Description),
			CreatedAt:   s.now().UTC(),
		})
		if migration.IsUniqueViolation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Category already exists"})
			return
		}
		if err != nil {
			s.internalError(c, "カテゴリの作成に失敗", err)
			return
		}

		c.JSON(http.StatusCreated, categoryResponse{
			ID:          id,
			Name:        strings.TrimSpace(req.Name),
			Description: req.Description,
		})
	}
}

// parseListParams は書籍一覧のクエリパラメータを解析する。
func parseListParams(c *gin.Context) (catalogdb.ListBooksParams, pagination.Params, error) {
	page, err := pagination.FromQuery(c)
	if err != nil {
		return catalogdb.ListBooksParams{}, page, err
	}

	arg := catalogdb.ListBooksParams{
		Filter: catalogdb.BookFilter{
			Category: strings.TrimSpace(c.Query("category")),
			Author:   strings.TrimSpace(c.Query("author")),
			Search:   strings.TrimSpace(c.Query("search")),
		},
		SortBy: catalogdb.SortByTitle,
		Limit:  page.Limit,
		Offset: page.Offset(),
	}

	for name, dst := range map[string]*sql.NullFloat64{
		"min_price": &arg.Filter.MinPrice,
		"max_price": &arg.Filter.MaxPrice,
	} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return arg, page, fmt.Errorf("%s は0以上の数値である必要があります: %q", name, v)
		}
		*dst = sql.NullFloat64{Float64: f, Valid: true}
	}
	if arg.Filter.MinPrice.Valid && arg.Filter.MaxPrice.Valid && arg.Filter.MinPrice.Float64 > arg.Filter.MaxPrice.Float64 {
		return arg, page, errors.New("min_price は max_price 以下である必要があります")
	}

	if v := c.Query("sort_by"); v != "" {
		switch col := catalogdb.SortColumn(v); col {
		case catalogdb.SortByTitle, catalogdb.SortByPrice, catalogdb.SortByPublishedDate:
			arg.SortBy = col
		default:
			return arg, page, fmt.Errorf("sort_by が不正です: %q", v)
		}
	}
	switch v := strings.ToLower(c.Query("sort_order")); v {
	case "", "asc":
	case "desc":
		arg.Desc = true
	default:
		return arg, page, fmt.Errorf("sort_order が不正です: %q", v)
	}

	return arg, page, nil
}

// handleListBooks は絞り込みと並び替えに対応した書籍一覧を返すハンドラを返す。
func (s *Server) handleListBooks() gin.HandlerFunc {
	return func(c *gin.Context) {
		arg, page, err := parseListParams(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid query parameters: %v", err)})
			return
		}

		ctx := c.Request.Context()
		total, err := s.queries.CountBooks(ctx, arg.Filter)
		if err != nil {
			s.internalError(c, "書籍数の取得に失敗", err)
			return
		}
		rows, err := s.queries.ListBooks(ctx, arg)
		if err != nil {
			s.internalError(c, "書籍一覧の取得に失敗", err)
			return
		}

		items := make([]bookResponse, 0, len(rows))
		for _, b := range rows {
			items = append(items, toBookResponse(b))
		}
		c.JSON(http.StatusOK, pagination.NewPage(items, total, page))
	}
}

// handleCreateBook は書籍作成を処理するハンドラを返す。
func (s *Server) handleCreateBook() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createBookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}
		if !validDate(req.PublishedDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "published_date must be YYYY-MM-DD"})
			return
		}

		now := s.now().UTC()
		book := catalogdb.Book{
			ID:            uuid.New().String(),
			Title:         req.Title,
			Author:        req.Author,
			ISBN:          strings.TrimSpace(req.ISBN),
			Description:   nullString(req.Description),
			Price:         *req.Price,
			StockQuantity: req.StockQuantity,
			Category:      nullString(req.Category),
			Publisher:     nullString(req.Publisher),
			PublishedDate: nullString(req.PublishedDate),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err := s.queries.CreateBook(c.Request.Context(), book)
		if migration.IsUniqueViolation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ISBN already exists"})
			return
		}
		if err != nil {
			s.internalError(c, "書籍の作成に失敗", err)
			return
		}

		s.logger.Info("書籍を登録しました", zap.String("book_id", book.ID), zap.String("isbn", book.ISBN))
		c.JSON(http.StatusCreated, toBookResponse(book))
	}
}

// handleGetBook は書籍詳細を返すハンドラを返す。
func (s *Server) handleGetBook() gin.HandlerFunc {
	return func(c *gin.Context) {
		book, ok := s.loadBook(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toBookResponse(book))
	}
}

// handleUpdateBook は書籍の部分更新を処理するハンドラを返す。
func (s *Server) handleUpdateBook() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateBookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}
		if !validDate(req.PublishedDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "published_date must be YYYY-MM-DD"})
			return
		}

		book, ok := s.loadBook(c)
		if !ok {
			return
		}

		if req.Title != nil {
			book.Title = *req.Title
		}
		if req.Author != nil {
			book.Author = *req.Author
		}
		if req.ISBN != nil {
			book.ISBN = strings.TrimSpace(*req.ISBN)
		}
		if req.Description != nil {
			book.Description = nullString(req.Description)
		}
		if req.Price != nil {
			book.Price = *req.Price
		}
		if req.StockQuantity != nil {
			book.StockQuantity = *req.StockQuantity
		}
		if req.Category != nil {
			book.Category = nullString(req.Category)
		}
		if req.Publisher != nil {
			book.Publisher = nullString(req.Publisher)
		}
		if req.PublishedDate != nil {
			book.PublishedDate = nullString(req.PublishedDate)
		}
		book.UpdatedAt = s.now().UTC()

		err := s.queries.UpdateBook(c.Request.Context(), book)
		if migration.IsUniqueViolation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ISBN already exists"})
			return
		}
		if err != nil {
			s.internalError(c, "書籍の更新に失敗", err)
			return
		}

		c.JSON(http.StatusOK, toBookResponse(book))
	}
}

// handleDeleteBook は書籍削除を処理するハンドラを返す。
func (s *Server) handleDeleteBook() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.queries.DeleteBook(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.internalError(c, "書籍の削除に失敗", err)
			return
		}
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
			return
		}

		s.logger.Info("書籍を削除しました", zap.String("book_id", c.Param("id")))
		c.Status(http.StatusNoContent)
	}
}

// handleAdjustStock は在庫の増減を処理するハンドラを返す。
// 在庫が負になる変更は400を返し、在庫は変更しない。
func (s *Server) handleAdjustStock() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req stockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}

		ctx := c.Request.Context()
		id := c.Param("id")
		n, err := s.queries.AdjustStock(ctx, catalogdb.AdjustStockParams{
			ID:        id,
			Change:    *req.QuantityChange,
			UpdatedAt: s.now().UTC(),
		})
		if err != nil {
			s.internalError(c, "在庫の更新に失敗", err)
			return
		}

		book, ok := s.loadBook(c)
		if !ok {
			return
		}
		if n == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient stock"})
			return
		}

		s.logger.Info("在庫を更新しました",
			zap.String("book_id", id),
			zap.Int64("quantity_change", *req.QuantityChange),
			zap.Int64("stock_quantity", book.StockQuantity),
			zap.String("request_id", middleware.GetRequestID(c)),
		)
		c.JSON(http.StatusOK, toBookResponse(book))
	}
}

// loadBook はパスパラメータのIDで書籍を取得する。
// 見つからない場合やエラーの場合はレスポンスを書き込んでfalseを返す。
func (s *Server) loadBook(c *gin.Context) (catalogdb.Book, bool) {
	book, err := s.queries.GetBook(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return book, false
	}
	if err != nil {
		s.internalError(c, "書籍の取得に失敗", err)
		return book, false
	}
	return book, true
}

// internalError はエラーをログに記録し、500を返す。
func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.Error(err), zap.String("request_id", middleware.GetRequestID(c)))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
