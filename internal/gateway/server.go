package gateway

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/config"
	"github.com/nao1215/bookhub/pkg/httpserver"
	"github.com/nao1215/bookhub/pkg/middleware"
)

// Server はAPI Gatewayサービスの HTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// logger は構造化ロガー。
	logger *zap.Logger
	// classifier は呼び出し元のクラスを判定する。
	classifier *Classifier
	// enforcer はクラスごとのクォータを判定する。
	enforcer *Enforcer
	// registry はサービス名をバックエンドのベースURLに解決する。
	registry *Registry
	// forwarder はバックエンドへリクエストを転送する。
	forwarder *Forwarder
	// registryMetrics は /metrics で公開するPrometheusレジストリ。
	registryMetrics *prometheus.Registry
	// metrics はゲートウェイのメトリクス。
	metrics *metrics
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewServer は新しいGatewayサーバーを生成する。
// store はクォータカウンタの保存先で、呼び出し元が所有し終了時に閉じる。
func NewServer(cfg *config.Config, logger *zap.Logger, store CounterStore) (*Server, error) {
	verifier, err := middleware.NewVerifier(cfg.JWT.Secret, cfg.JWT.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}

	enforcer, err := NewEnforcer(store, PoliciesFromConfig(cfg.Gateway.Quotas))
	if err != nil {
		return nil, fmt.Errorf("クォータの設定が不正です: %w", err)
	}

	registry, err := NewRegistry(cfg.Gateway.Services)
	if err != nil {
		return nil, fmt.Errorf("サービスレジストリの設定が不正です: %w", err)
	}

	router := gin.New()
	// nilの場合はプロキシを信頼せず、接続元アドレスをクライアントIPとして使う
	if err := router.SetTrustedProxies(cfg.Gateway.TrustedProxies); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定が不正です: %w", err)
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.Gateway.AllowedOrigins))

	promRegistry := prometheus.NewRegistry()
	s := &Server{
		router:          router,
		port:            cfg.Server.Port,
		logger:          logger,
		classifier:      NewClassifier(verifier),
		enforcer:        enforcer,
		registry:        registry,
		forwarder:       NewForwarder(cfg.Gateway.ForwardTimeout),
		registryMetrics: promRegistry,
		metrics:         newMetrics(promRegistry),
		now:             time.Now,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はOpenTelemetryで計装したHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "gateway")
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Gatewayサービスを起動します", zap.String("port", s.port), zap.Strings("services", s.registry.Names()))
	return httpserver.Run(ctx, ":"+s.port, s.Handler(), s.logger)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// ヘルスチェックとメトリクスはパイプラインを通さない
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registryMetrics, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	{
		api.Any("/:service", s.handleProxy())
		api.Any("/:service/*path", s.handleProxy())
	}
}

// handleHealth はゲートウェイのヘルスチェックを返すハンドラを返す。
// バックエンドへの問い合わせは行わず、登録済みのサービス名を列挙する。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		services := make(map[string]string)
		for _, name := range s.registry.Names() {
			services[name] = "healthy"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"services":  services,
			"timestamp": s.now().UTC().Format(time.RFC3339),
		})
	}
}

// requestLog はパイプライン1回分の記録。終了時にログとメトリクスへ1回だけ書き出す。
type requestLog struct {
	start    time.Time
	service  string
	path     string
	class    CallerClass
	outcome  outcome
	status   int
	identity string
	err      error
}

// handleProxy は分類、クォータ判定、サービス解決、転送をこの順に行うハンドラを返す。
// いずれかの段階で失敗した場合はそこで終了し、後続の段階は実行しない。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec := &requestLog{
			start:   s.now(),
			service: c.Param("service"),
			path:    c.Param("path"),
		}
		defer s.record(c, rec)

		resp, err := s.dispatch(c, rec)
		if err != nil {
			rec.err = err
			rec.status, rec.outcome = s.writeError(c, err)
			return
		}

		for name, values := range resp.Header {
			for _, v := range values {
				c.Writer.Header().Add(name, v)
			}
		}
		c.Status(resp.StatusCode)
		if _, err := c.Writer.Write(resp.Body); err != nil {
			rec.err = fmt.Errorf("レスポンスの書き込みに失敗: %w", err)
		}
		rec.status = resp.StatusCode
		rec.outcome = outcomeForwarded
	}
}

// dispatch はパイプラインを実行し、バックエンドのレスポンスを返す。
func (s *Server) dispatch(c *gin.Context, rec *requestLog) (*ProxyResponse, error) {
	ctx := c.Request.Context()

	class, claims, err := s.classifier.Classify(c.GetHeader("Authorization"))
	if err != nil {
		return nil, err
	}
	rec.class = class

	identity := c.ClientIP()
	if claims != nil {
		identity = claims.Subject
	}
	rec.identity = identity

	decision, err := s.enforcer.Allow(ctx, identity, class)
	if err != nil {
		return nil, err
	}
	setRateLimitHeaders(c, decision)
	if !decision.Allowed {
		s.metrics.quotaRejections.WithLabelValues(string(class)).Inc()
		return nil, fmt.Errorf("%w: class=%s count=%d limit=%d", ErrQuotaExceeded, class, decision.Count, decision.Limit)
	}

	base, err := s.registry.Resolve(rec.service)
	if err != nil {
		return nil, err
	}

	upstreamStart := s.now()
	resp, err := s.forwarder.Forward(ctx, ProxyRequest{
		Method:        c.Request.Method,
		Base:          base,
		Path:          rec.path,
		RawQuery:      c.Request.URL.RawQuery,
		Header:        c.Request.Header,
		Body:          c.Request.Body,
		ContentLength: c.Request.ContentLength,
	})
	s.metrics.upstreamDuration.WithLabelValues(rec.service).Observe(s.now().Sub(upstreamStart).Seconds())
	return resp, err
}

// writeError はエラーを {"error": "..."} 形式のレスポンスに変換して書き込む。
func (s *Server) writeError(c *gin.Context, err error) (int, outcome) {
	status, message, out := httpError(err)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
	return status, out
}

// record はリクエストの終了状態をメトリクスとログに1回だけ記録する。
func (s *Server) record(c *gin.Context, rec *requestLog) {
	if rec.outcome == "" {
		rec.outcome = outcomeInternalError
		rec.status = c.Writer.Status()
	}
	elapsed := s.now().Sub(rec.start)

	s.metrics.requests.WithLabelValues(string(rec.outcome), string(rec.class)).Inc()
	s.metrics.duration.WithLabelValues(string(rec.outcome)).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("client_ip", c.ClientIP()),
		zap.String("method", c.Request.Method),
		zap.String("service", rec.service),
		zap.String("path", rec.path),
		zap.String("class", string(rec.class)),
		zap.String("outcome", string(rec.outcome)),
		zap.Int("status", rec.status),
		zap.Duration("latency", elapsed),
	}

	switch rec.outcome {
	case outcomeForwarded:
		s.logger.Info("リクエストを転送しました", fields...)
	case outcomeRejectedUpstream, outcomeInternalError:
		s.logger.Error("リクエストの処理に失敗しました", append(fields, zap.Error(rec.err))...)
	default:
		s.logger.Warn("リクエストを拒否しました", append(fields, zap.Error(rec.err))...)
	}
}

// setRateLimitHeaders はクォータの状態をレスポンスヘッダーに設定する。
// 拒否した場合はウィンドウ終了までの秒数を Retry-After に設定する。
func setRateLimitHeaders(c *gin.Context, d Decision) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.Allowed {
		retryAfter := int64(math.Ceil(d.ResetAfter.Seconds()))
		c.Header("Retry-After", strconv.FormatInt(max(retryAfter, 1), 10))
	}
}
