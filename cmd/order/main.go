// 注文サービスのエントリポイント。
// 注文の作成とキャンセルを担当し、在庫はカタログサービスの内部APIで引き当てる。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/app"
	"github.com/nao1215/bookhub/internal/order"
)

func main() {
	rt, err := app.Start("order")
	if err != nil {
		log.Fatalf("注文サービスの初期化に失敗: %v", err)
	}
	if err := run(rt); err != nil {
		rt.Logger.Error("注文サービスが異常終了しました", zap.Error(err))
		_ = rt.Close()
		os.Exit(1)
	}
	_ = rt.Close()
}

func run(rt *app.Runtime) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := order.OpenDB(ctx, rt.Config.Database.Path, rt.Logger)
	if err != nil {
		return err
	}
	rt.OnClose(func(context.Context) error { return sqlDB.Close() })

	catalog := order.NewHTTPCatalog(rt.Config.Catalog.URL, rt.Config.InternalSecret)
	server, err := order.NewServer(rt.Config, rt.Logger, sqlDB, catalog, rt.Publisher(ctx))
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
