// Package app は各バイナリの起動処理で共通して使う部品を提供する。
//
// 設定とロガーの初期化、トレーサーの登録、Redisへのイベント配信の準備を行い、
// 終了時にまとめて後始末する。
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/config"
	"github.com/nao1215/bookhub/pkg/event"
	"github.com/nao1215/bookhub/pkg/logging"
	"github.com/nao1215/bookhub/pkg/telemetry"
)

// closeTimeout は後始末全体のタイムアウト。
const closeTimeout = 10 * time.Second

// Runtime は1つのバイナリが起動中に保持する共通の依存オブジェクト。
type Runtime struct {
	// Config は読み込んだ設定。
	Config *config.Config
	// Logger はサービス名を付与したロガー。
	Logger *zap.Logger

	closers []func(context.Context) error
}

// Start は .env、設定ファイル、環境変数を読み込み、ロガーとトレーサーを初期化する。
// .env が存在しない場合は無視する。
func Start(service string) (*Runtime, error) {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return New(service, cfg)
}

// New は読み込み済みの設定からロガーとトレーサーを初期化する。
func New(service string, cfg *config.Config) (*Runtime, error) {
	logger, err := logging.New(service, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}

	rt := &Runtime{Config: cfg, Logger: logger}
	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(service, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("トレーサーの初期化に失敗: %w", err)
		}
		rt.closers = append(rt.closers, shutdown)
	}
	return rt, nil
}

// Publisher はイベントの配信先を返す。
// redis.address が空の場合、またはRedisに接続できない場合は NopPublisher を返す。
// イベント配信はベストエフォートのため、Redisに接続できなくても起動は続ける。
func (r *Runtime) Publisher(ctx context.Context) event.Publisher {
	rc := r.Config.Redis
	if rc.Address == "" {
		r.Logger.Info("Redisが設定されていないためイベントを配信しません")
		return event.NopPublisher{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		r.Logger.Warn("Redisに接続できないためイベントを配信しません",
			zap.String("address", rc.Address),
			zap.Error(err),
		)
		_ = client.Close()
		return event.NopPublisher{}
	}

	r.OnClose(func(context.Context) error { return client.Close() })
	return event.NewRedisPublisher(client)
}

// OnClose は Close で呼び出す後始末を登録する。登録と逆の順に呼び出す。
func (r *Runtime) OnClose(fn func(context.Context) error) {
	r.closers = append(r.closers, fn)
}

// Close は登録された後始末を逆順に呼び出し、ロガーをフラッシュする。
func (r *Runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	_ = r.Logger.Sync()
	return errors.Join(errs...)
}
