// 認証サービスのエントリポイント。
// ユーザー登録、ログイン、アクセストークンとリフレッシュトークンの発行を担当する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/app"
	"github.com/nao1215/bookhub/internal/auth"
)

func main() {
	rt, err := app.Start("auth")
	if err != nil {
		log.Fatalf("認証サービスの初期化に失敗: %v", err)
	}
	if err := run(rt); err != nil {
		rt.Logger.Error("認証サービスが異常終了しました", zap.Error(err))
		_ = rt.Close()
		os.Exit(1)
	}
	_ = rt.Close()
}

func run(rt *app.Runtime) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := auth.OpenDB(ctx, rt.Config.Database.Path, rt.Logger)
	if err != nil {
		return err
	}
	rt.OnClose(func(context.Context) error { return sqlDB.Close() })

	server, err := auth.NewServer(rt.Config, rt.Logger, sqlDB, rt.Publisher(ctx))
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
