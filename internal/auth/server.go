package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	authdb "github.com/nao1215/bookhub/internal/auth/db"
	"github.com/nao1215/bookhub/internal/config"
	"github.com/nao1215/bookhub/pkg/event"
	"github.com/nao1215/bookhub/pkg/httpserver"
	"github.com/nao1215/bookhub/pkg/middleware"
	"github.com/nao1215/bookhub/pkg/migration"
)

// tokenTypeBearer はトークンレスポンスのtoken_type。
const tokenTypeBearer = "bearer"

// Server は認証サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// logger は構造化ロガー。
	logger *zap.Logger
	// queries はデータベースのクエリ実行オブジェクト。
	queries *authdb.Queries
	// signer はアクセストークンを発行する。
	signer *middleware.Signer
	// verifier は /me でアクセストークンを検証する。
	verifier *middleware.Verifier
	// publisher はイベントの通知先。
	publisher event.Publisher
	// refreshTTL はリフレッシュトークンの有効期間。
	refreshTTL time.Duration
	// admins は登録時に管理者にするユーザー名。
	admins map[string]struct{}
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewServer は新しい認証サーバーを生成する。
// sqlDB はマイグレーション適用済みのデータベースで、呼び出し元が所有する。
func NewServer(cfg *config.Config, logger *zap.Logger, sqlDB *sql.DB, pub event.Publisher) (*Server, error) {
	signer, err := middleware.NewSigner(cfg.JWT.Secret, cfg.JWT.Algorithm, cfg.JWT.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("トークン発行器の生成に失敗: %w", err)
	}
	verifier, err := middleware.NewVerifier(cfg.JWT.Secret, cfg.JWT.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}
	if pub == nil {
		pub = event.NopPublisher{}
	}

	admins := make(map[string]struct{}, len(cfg.Auth.AdminUsernames))
	for _, name := range cfg.Auth.AdminUsernames {
		admins[name] = struct{}{}
	}

	refreshTTL := cfg.JWT.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger, "/health"))

	s := &Server{
		router:     router,
		port:       cfg.Server.Port,
		logger:     logger,
		queries:    authdb.New(sqlDB),
		signer:     signer,
		verifier:   verifier,
		publisher:  pub,
		refreshTTL: refreshTTL,
		admins:     admins,
		now:        time.Now,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はOpenTelemetryで計装したHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "auth")
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("認証サービスを起動します", zap.String("port", s.port))
	return httpserver.Run(ctx, ":"+s.port, s.Handler(), s.logger)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/api/v1/auth")
	{
		// ユーザー登録
		auth.POST("/register", s.handleRegister())
		// ログイン（フォームまたはJSON）
		auth.POST("/login", s.handleLogin())
		// アクセストークンの再発行
		auth.POST("/refresh", s.handleRefresh())
		// ログアウト
		auth.POST("/logout", s.handleLogout())
		// ログイン中のユーザー情報
		auth.GET("/me", middleware.JWTAuth(s.verifier), s.handleMe())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "auth"})
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Username はログインに使用するユーザー名。
	Username string `json:"username" binding:"required,min=3,max=50"`
	// Password はパスワード。
	Password string `json:"password" binding:"required,min=8"`
	// FullName は氏名。
	FullName *string `json:"full_name"`
}

// loginRequest はログインリクエスト。フォームとJSONの両方を受け付ける。
type loginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// refreshRequest はリフレッシュトークンを含むリクエスト。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// userResponse はユーザーのJSONレスポンス構造。
type userResponse struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Username  string  `json:"username"`
	FullName  *string `json:"full_name"`
	IsActive  bool    `json:"is_active"`
	IsAdmin   bool    `json:"is_admin"`
	CreatedAt string  `json:"created_at"`
}

// tokenResponse はログインのレスポンス構造。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// accessTokenResponse はトークン再発行のレスポンス構造。
type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// toUserResponse はDB行をJSONレスポンスに変換する。
func toUserResponse(u authdb.User) userResponse {
	var fullName *string
	if u.FullName.Valid {
		fullName = &u.FullName.String
	}
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FullName:  fullName,
		IsActive:  u.IsActive,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// roleOf はユーザーのロールを返す。
func roleOf(u authdb.User) string {
	if u.IsAdmin {
		return middleware.RoleAdmin
	}
	return middleware.RoleUser
}

// handleRegister はユーザー登録を処理するハンドラを返す。
// メールアドレスとユーザー名の重複を確認し、UserRegisteredイベントを通知する。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		req.Username = strings.TrimSpace(req.Username)

		ctx := c.Request.Context()
		if _, err := s.queries.GetUserByEmail(ctx, req.Email); err == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email already registered"})
			return
		} else if !errors.Is(err, sql.ErrNoRows) {
			s.internalError(c, "ユーザーの検索に失敗", err)
			return
		}
		if _, err := s.queries.GetUserByUsername(ctx, req.Username); err == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
			return
		} else if !errors.Is(err, sql.ErrNoRows) {
			s.internalError(c, "ユーザーの検索に失敗", err)
			return
		}

		hashed, err := hashPassword(req.Password)
		if err != nil {
			s.internalError(c, "パスワードのハッシュ化に失敗", err)
			return
		}

		_, isAdmin := s.admins[req.Username]
		var fullName sql.NullString
		if req.FullName != nil {
			fullName = sql.NullString{String: *req.FullName, Valid: true}
		}

		userID := uuid.New().String()
		err = s.queries.CreateUser(ctx, authdb.CreateUserParams{
			ID:             userID,
			Email:          req.Email,
			Username:       req.Username,
			HashedPassword: hashed,
			FullName:       fullName,
			IsAdmin:        isAdmin,
			CreatedAt:      s.now().UTC(),
		})
		if migration.IsUniqueViolation(err) {
			// 同時に登録された場合
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email or username already registered"})
			return
		}
		if err != nil {
			s.internalError(c, "ユーザーの作成に失敗", err)
			return
		}

		created, err := s.queries.GetUserByID(ctx, userID)
		if err != nil {
			s.internalError(c, "作成したユーザーの取得に失敗", err)
			return
		}

		s.logger.Info("ユーザーを登録しました", zap.String("user_id", userID), zap.Bool("is_admin", isAdmin))
		event.Emit(ctx, s.publisher, s.logger, userID, event.AggregateTypeUser, event.TypeUserRegistered, event.UserRegisteredData{
			Email:    created.Email,
			Username: created.Username,
			IsAdmin:  created.IsAdmin,
		})

		c.JSON(http.StatusCreated, toUserResponse(created))
	}
}

// handleLogin はログインを処理するハンドラを返す。
// アクセストークンとリフレッシュトークンを発行する。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}

		ctx := c.Request.Context()
		user, err := s.queries.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			s.internalError(c, "ユーザーの検索に失敗", err)
			return
		}
		if err != nil || !verifyPassword(user.HashedPassword, req.Password) {
			c.Header("WWW-Authenticate", "Bearer")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		if !user.IsActive {
			c.JSON(http.StatusForbidden, gin.H{"error": "Account inactive"})
			return
		}

		accessToken, err := s.signer.Sign(user.ID, roleOf(user), user.Email, user.Username)
		if err != nil {
			s.internalError(c, "アクセストークンの発行に失敗", err)
			return
		}

		refreshToken, err := newRefreshToken()
		if err != nil {
			s.internalError(c, "リフレッシュトークンの生成に失敗", err)
			return
		}
		now := s.now().UTC()
		if err := s.queries.CreateRefreshToken(ctx, authdb.CreateRefreshTokenParams{
			TokenHash: hashRefreshToken(refreshToken),
			UserID:    user.ID,
			ExpiresAt: now.Add(s.refreshTTL),
			CreatedAt: now,
		}); err != nil {
			s.internalError(c, "リフレッシュトークンの保存に失敗", err)
			return
		}

		// 期限切れのトークンはログインのたびに掃除する
		if n, err := s.queries.DeleteExpiredRefreshTokens(ctx, now); err != nil {
			s.logger.Warn("期限切れリフレッシュトークンの削除に失敗", zap.Error(err))
		} else if n > 0 {
			s.logger.Debug("期限切れリフレッシュトークンを削除しました", zap.Int64("count", n))
		}

		c.JSON(http.StatusOK, tokenResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    tokenTypeBearer,
			ExpiresIn:    int64(s.signer.TTL().Seconds()),
		})
	}
}

// handleRefresh はリフレッシュトークンからアクセストークンを再発行するハンドラを返す。
// 期限切れのリフレッシュトークンは削除する。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}

		ctx := c.Request.Context()
		tokenHash := hashRefreshToken(req.RefreshToken)
		stored, err := s.queries.GetRefreshToken(ctx, tokenHash)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
			return
		}
		if err != nil {
			s.internalError(c, "リフレッシュトークンの取得に失敗", err)
			return
		}

		if !s.now().Before(stored.ExpiresAt) {
			if _, err := s.queries.DeleteRefreshToken(ctx, tokenHash); err != nil {
				s.logger.Warn("期限切れリフレッシュトークンの削除に失敗", zap.Error(err))
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Refresh token expired"})
			return
		}

		user, err := s.queries.GetUserByID(ctx, stored.UserID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !user.IsActive) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
			return
		}
		if err != nil {
			s.internalError(c, "ユーザーの取得に失敗", err)
			return
		}

		accessToken, err := s.signer.Sign(user.ID, roleOf(user), user.Email, user.Username)
		if err != nil {
			s.internalError(c, "アクセストークンの発行に失敗", err)
			return
		}

		c.JSON(http.StatusOK, accessTokenResponse{
			AccessToken: accessToken,
			TokenType:   tokenTypeBearer,
			ExpiresIn:   int64(s.signer.TTL().Seconds()),
		})
	}
}

// handleLogout はリフレッシュトークンを無効化するハンドラを返す。
// 存在しないトークンでも成功を返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}

		if _, err := s.queries.DeleteRefreshToken(c.Request.Context(), hashRefreshToken(req.RefreshToken)); err != nil {
			s.internalError(c, "リフレッシュトークンの削除に失敗", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
	}
}

// handleMe はログイン中のユーザー情報を返すハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.queries.GetUserByID(c.Request.Context(), middleware.GetUserID(c))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		if err != nil {
			s.internalError(c, "ユーザーの取得に失敗", err)
			return
		}

		c.JSON(http.StatusOK, toUserResponse(user))
	}
}

// internalError はエラーをログに記録し、500を返す。
func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.Error(err), zap.String("request_id", middleware.GetRequestID(c)))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
