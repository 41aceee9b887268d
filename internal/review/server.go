package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/config"
	reviewdb "github.com/nao1215/bookhub/internal/review/db"
	"github.com/nao1215/bookhub/pkg/event"
	"github.com/nao1215/bookhub/pkg/httpserver"
	"github.com/nao1215/bookhub/pkg/middleware"
	"github.com/nao1215/bookhub/pkg/migration"
	"github.com/nao1215/bookhub/pkg/pagination"
)

// 評価の範囲。
const (
	minRating = 1
	maxRating = 5
)

// Server はレビューサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// logger は構造化ロガー。
	logger *zap.Logger
	// queries はデータベースのクエリ実行オブジェクト。
	queries *reviewdb.Queries
	// verifier はアクセストークンを検証する。
	verifier *middleware.Verifier
	// publisher はドメインイベントを配信する。
	publisher event.Publisher
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewServer は新しいレビューサーバーを生成する。
// pubがnilの場合はイベントを配信しない。
func NewServer(cfg *config.Config, logger *zap.Logger, sqlDB *sql.DB, pub event.Publisher) (*Server, error) {
	verifier, err := middleware.NewVerifier(cfg.JWT.Secret, cfg.JWT.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
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
		queries:   reviewdb.New(sqlDB),
		verifier:  verifier,
		publisher: pub,
		now:       time.Now,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はOpenTelemetryで計装したHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "review")
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("レビューサービスを起動します", zap.String("port", s.port))
	return httpserver.Run(ctx, ":"+s.port, s.Handler(), s.logger)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	auth := middleware.JWTAuth(s.verifier)

	reviews := s.router.Group("/api/v1/reviews")
	{
		reviews.POST("", auth, s.handleCreateReview())
		reviews.GET("/book/:book_id", s.handleListBookReviews())
		reviews.GET("/book/:book_id/summary", s.handleSummary())
		reviews.GET("/user/me", auth, s.handleListMyReviews())
		reviews.GET("/:id", s.handleGetReview())
		reviews.PUT("/:id", auth, s.handleUpdateReview())
		reviews.DELETE("/:id", auth, s.handleDeleteReview())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "review"})
	})
}

// createReviewRequest はレビュー投稿リクエストのJSON構造。
type createReviewRequest struct {
	BookID  string  `json:"book_id" binding:"required,uuid"`
	Rating  int64   `json:"rating" binding:"required,min=1,max=5"`
	Title   *string `json:"title" binding:"omitempty,max=200"`
	Comment *string `json:"comment"`
}

// updateReviewRequest はレビュー更新リクエストのJSON構造。指定された項目だけを更新する。
type updateReviewRequest struct {
	Rating  *int64  `json:"rating" binding:"omitempty,min=1,max=5"`
	Title   *string `json:"title" binding:"omitempty,max=200"`
	Comment *string `json:"comment"`
}

// reviewResponse はレビューのJSONレスポンス構造。
type reviewResponse struct {
	ID        string  `json:"id"`
	BookID    string  `json:"book_id"`
	UserID    string  `json:"user_id"`
	Username  string  `json:"username"`
	Rating    int64   `json:"rating"`
	Title     *string `json:"title"`
	Comment   *string `json:"comment"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// bookReviewsResponse は書籍ごとのレビュー一覧のJSONレスポンス構造。
type bookReviewsResponse struct {
	pagination.Page[reviewResponse]
	AverageRating float64 `json:"average_rating"`
}

// summaryResponse はレビューサマリーのJSONレスポンス構造。
type summaryResponse struct {
	BookID             string           `json:"book_id"`
	TotalReviews       int64            `json:"total_reviews"`
	AverageRating      float64          `json:"average_rating"`
	RatingDistribution map[string]int64 `json:"rating_distribution"`
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

// toReviewResponse はDB行をJSONレスポンスに変換する。
func toReviewResponse(r reviewdb.Review) reviewResponse {
	return reviewResponse{
		ID:        r.ID,
		BookID:    r.BookID,
		UserID:    r.UserID,
		Username:  r.Username,
		Rating:    r.Rating,
		Title:     nullable(r.Title),
		Comment:   nullable(r.Comment),
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// toReviewResponses はDB行の一覧をJSONレスポンスに変換する。
func toReviewResponses(rows []reviewdb.Review) []reviewResponse {
	items := make([]reviewResponse, 0, len(rows))
	for _, r := range rows {
		items = append(items, toReviewResponse(r))
	}
	return items
}

// roundRating は平均評価を小数点以下2桁に丸める。
func roundRating(v float64) float64 {
	return math.Round(v*100) / 100
}

// handleCreateReview はレビュー投稿を処理するハンドラを返す。
func (s *Server) handleCreateReview() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}

		ctx := c.Request.Context()
		userID := middleware.GetUserID(c)
		bookID := strings.ToLower(req.BookID)

		exists, err := s.queries.ExistsReview(ctx, bookID, userID)
		if err != nil {
			s.internalError(c, "レビューの確認に失敗", err)
			return
		}
		if exists {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User already reviewed this book"})
			return
		}

		now := s.now().UTC()
		r := reviewdb.Review{
			ID:        uuid.New().String(),
			BookID:    bookID,
			UserID:    userID,
			Username:  middleware.GetUsername(c),
			Rating:    req.Rating,
			Title:     nullString(req.Title),
			Comment:   nullString(req.Comment),
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.queries.CreateReview(ctx, r)
		if migration.IsUniqueViolation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User already reviewed this book"})
			return
		}
		if err != nil {
			s.internalError(c, "レビューの作成に失敗", err)
			return
		}

		event.Emit(ctx, s.publisher, s.logger, r.ID, event.AggregateTypeReview, event.TypeReviewPosted, event.ReviewPostedData{
			BookID: r.BookID,
			UserID: r.UserID,
			Rating: r.Rating,
		})

		s.logger.Info("レビューを投稿しました",
			zap.String("review_id", r.ID),
			zap.String("book_id", r.BookID),
			zap.String("user_id", r.UserID),
		)
		c.JSON(http.StatusCreated, toReviewResponse(r))
	}
}

// parseBookListParams は書籍ごとのレビュー一覧のクエリパラメータを解析する。
// 並び替えのデフォルトは投稿日時の降順。
func parseBookListParams(c *gin.Context) (reviewdb.ListReviewsParams, pagination.Params, error) {
	page, err := pagination.FromQuery(c)
	if err != nil {
		return reviewdb.ListReviewsParams{}, page, err
	}

	arg := reviewdb.ListReviewsParams{
		Filter: reviewdb.ReviewFilter{BookID: strings.ToLower(c.Param("book_id"))},
		SortBy: reviewdb.SortByCreatedAt,
		Desc:   true,
		Limit:  page.Limit,
		Offset: page.Offset(),
	}

	if v := c.Query("rating"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < minRating || n > maxRating {
			return arg, page, fmt.Errorf("rating は%dから%dの整数である必要があります: %q", minRating, maxRating, v)
		}
		arg.Filter.Rating = n
	}
	if v := c.Query("sort_by"); v != "" {
		switch col := reviewdb.SortColumn(v); col {
		case reviewdb.SortByCreatedAt, reviewdb.SortByRating:
			arg.SortBy = col
		default:
			return arg, page, fmt.Errorf("sort_by が不正です: %q", v)
		}
	}
	switch v := strings.ToLower(c.Query("sort_order")); v {
	case "", "desc":
	case "asc":
		arg.Desc = false
	default:
		return arg, page, fmt.Errorf("sort_order が不正です: %q", v)
	}

	return arg, page, nil
}

// handleListBookReviews は書籍のレビュー一覧を平均評価とともに返すハンドラを返す。
func (s *Server) handleListBookReviews() gin.HandlerFunc {
	return func(c *gin.Context) {
		arg, page, err := parseBookListParams(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid query parameters: %v", err)})
			return
		}

		ctx := c.Request.Context()
		total, err := s.queries.CountReviews(ctx, arg.Filter)
		if err != nil {
			s.internalError(c, "レビュー数の取得に失敗", err)
			return
		}
		rows, err := s.queries.ListReviews(ctx, arg)
		if err != nil {
			s.internalError(c, "レビュー一覧の取得に失敗", err)
			return
		}
		avg, err := s.queries.AverageRating(ctx, arg.Filter.BookID)
		if err != nil {
			s.internalError(c, "平均評価の取得に失敗", err)
			return
		}

		c.JSON(http.StatusOK, bookReviewsResponse{
			Page:          pagination.NewPage(toReviewResponses(rows), total, page),
			AverageRating: roundRating(avg),
		})
	}
}

// handleSummary は書籍のレビューサマリーを返すハンドラを返す。
// 評価の分布にはレビューのない評価も0件として含める。
func (s *Server) handleSummary() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		bookID := strings.ToLower(c.Param("book_id"))

		total, err := s.queries.CountReviews(ctx, reviewdb.ReviewFilter{BookID: bookID})
		if err != nil {
			s.internalError(c, "レビュー数の取得に失敗", err)
			return
		}
		avg, err := s.queries.AverageRating(ctx, bookID)
		if err != nil {
			s.internalError(c, "平均評価の取得に失敗", err)
			return
		}
		counts, err := s.queries.RatingDistribution(ctx, bookID)
		if err != nil {
			s.internalError(c, "評価分布の取得に失敗", err)
			return
		}

		dist := make(map[string]int64, maxRating)
		for r := minRating; r <= maxRating; r++ {
			dist[strconv.Itoa(r)] = 0
		}
		for _, rc := range counts {
			dist[strconv.FormatInt(rc.Rating, 10)] = rc.Count
		}

		c.JSON(http.StatusOK, summaryResponse{
			BookID:             bookID,
			TotalReviews:       total,
			AverageRating:      roundRating(avg),
			RatingDistribution: dist,
		})
	}
}

// handleListMyReviews は呼び出し元のレビュー一覧を新しい順に返すハンドラを返す。
func (s *Server) handleListMyReviews() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := pagination.FromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid query parameters: %v", err)})
			return
		}

		ctx := c.Request.Context()
		filter := reviewdb.ReviewFilter{UserID: middleware.GetUserID(c)}
		total, err := s.queries.CountReviews(ctx, filter)
		if err != nil {
			s.internalError(c, "レビュー数の取得に失敗", err)
			return
		}
		rows, err := s.queries.ListReviews(ctx, reviewdb.ListReviewsParams{
			Filter: filter,
			SortBy: reviewdb.SortByCreatedAt,
			Desc:   true,
			Limit:  page.Limit,
			Offset: page.Offset(),
		})
		if err != nil {
			s.internalError(c, "レビュー一覧の取得に失敗", err)
			return
		}

		c.JSON(http.StatusOK, pagination.NewPage(toReviewResponses(rows), total, page))
	}
}

// handleGetReview はレビュー詳細を返すハンドラを返す。
func (s *Server) handleGetReview() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := s.loadReview(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, toReviewResponse(r))
	}
}

// handleUpdateReview は投稿者によるレビューの部分更新を処理するハンドラを返す。
func (s *Server) handleUpdateReview() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}

		r, ok := s.loadOwnReview(c)
		if !ok {
			return
		}

		if req.Rating != nil {
			r.Rating = *req.Rating
		}
		if req.Title != nil {
			r.Title = nullString(req.Title)
		}
		if req.Comment != nil {
			r.Comment = nullString(req.Comment)
		}
		r.UpdatedAt = s.now().UTC()

		if err := s.queries.UpdateReview(c.Request.Context(), r); err != nil {
			s.internalError(c, "レビューの更新に失敗", err)
			return
		}
		c.JSON(http.StatusOK, toReviewResponse(r))
	}
}

// handleDeleteReview は投稿者によるレビューの削除を処理するハンドラを返す。
func (s *Server) handleDeleteReview() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := s.loadOwnReview(c)
		if !ok {
			return
		}

		if _, err := s.queries.DeleteReview(c.Request.Context(), r.ID); err != nil {
			s.internalError(c, "レビューの削除に失敗", err)
			return
		}

		s.logger.Info("レビューを削除しました", zap.String("review_id", r.ID), zap.String("user_id", r.UserID))
		c.JSON(http.StatusOK, gin.H{"message": "Review deleted successfully"})
	}
}

// loadReview はパスパラメータのIDでレビューを取得する。
// 見つからない場合やエラーの場合はレスポンスを書き込んでfalseを返す。
func (s *Server) loadReview(c *gin.Context) (reviewdb.Review, bool) {
	r, err := s.queries.GetReview(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
		return r, false
	}
	if err != nil {
		s.internalError(c, "レビューの取得に失敗", err)
		return r, false
	}
	return r, true
}

// loadOwnReview は呼び出し元が投稿したレビューを取得する。他人のレビューの場合は403を返す。
func (s *Server) loadOwnReview(c *gin.Context) (reviewdb.Review, bool) {
	r, ok := s.loadReview(c)
	if !ok {
		return r, false
	}
	if r.UserID != middleware.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return r, false
	}
	return r, true
}

// internalError はエラーをログに記録し、500を返す。
func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.Error(err), zap.String("request_id", middleware.GetRequestID(c)))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
