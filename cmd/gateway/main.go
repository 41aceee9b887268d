// API Gatewayのエントリポイント。
// 呼び出し元をBearerトークンで分類し、クラスごとのクォータを適用してからバックエンドへ転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/app"
	"github.com/nao1215/bookhub/internal/gateway"
	"github.com/nao1215/bookhub/pkg/counter"
)

func main() {
	rt, err := app.Start("gateway")
	if err != nil {
		log.Fatalf("Gatewayサービスの初期化に失敗: %v", err)
	}
	if err := run(rt); err != nil {
		rt.Logger.Error("Gatewayサービスが異常終了しました", zap.Error(err))
		_ = rt.Close()
		os.Exit(1)
	}
	_ = rt.Close()
}

func run(rt *app.Runtime) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := rt.Config
	store, err := counter.New(ctx, counter.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return err
	}
	rt.OnClose(func(context.Context) error { return store.Close() })

	server, err := gateway.NewServer(cfg, rt.Logger, store)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
