// カタログサービスのエントリポイント。
// 書籍とカテゴリの管理、注文サービス向けの在庫増減APIを担当する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/app"
	"github.com/nao1215/bookhub/internal/catalog"
)

func main() {
	rt, err := app.Start("catalog")
	if err != nil {
		log.Fatalf("カタログサービスの初期化に失敗: %v", err)
	}
	if err := run(rt); err != nil {
		rt.Logger.Error("カタログサービスが異常終了しました", zap.Error(err))
		_ = rt.Close()
		os.Exit(1)
	}
	_ = rt.Close()
}

func run(rt *app.Runtime) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := catalog.OpenDB(ctx, rt.Config.Database.Path, rt.Logger)
	if err != nil {
		return err
	}
	rt.OnClose(func(context.Context) error { return sqlDB.Close() })

	server, err := catalog.NewServer(rt.Config, rt.Logger, sqlDB)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
