package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/bookhub/pkg/event"
)

// compensationTimeout は在庫を戻す処理全体のタイムアウト。
const compensationTimeout = 10 * time.Second

// stockStep は1つの書籍に対する在庫の引き当て。
type stockStep struct {
	// BookID は書籍ID。
	BookID string
	// Quantity は引き当てる数量。
	Quantity int64
}

// stockReservation は複数の書籍の在庫を順に引き当てる。
// 途中で失敗した場合は、引き当て済みの在庫を逆順に戻してから失敗を返す。
// 戻す処理は失敗してもログとイベントに記録して続行する。
type stockReservation struct {
	catalog   Catalog
	publisher event.Publisher
	logger    *zap.Logger
	// orderID はログに記録する注文ID。
	orderID string
	// reserved は引き当てに成功したステップ。
	reserved []stockStep
}

// newStockReservation は注文orderIDの在庫引き当てを開始する。
func newStockReservation(catalog Catalog, pub event.Publisher, logger *zap.Logger, orderID string) *stockReservation {
	return &stockReservation{
		catalog:   catalog,
		publisher: pub,
		logger:    logger.With(zap.String("order_id", orderID)),
		orderID:   orderID,
	}
}

// Reserve はstepsを順に引き当てる。失敗した場合は引き当て済みの在庫を戻し、最初のエラーを返す。
func (r *stockReservation) Reserve(ctx context.Context, steps []stockStep) error {
	for _, step := range steps {
		if err := r.catalog.AdjustStock(ctx, step.BookID, -step.Quantity); err != nil {
			r.logger.Warn("在庫の引き当てに失敗しました",
				zap.String("book_id", step.BookID),
				zap.Int64("quantity", step.Quantity),
				zap.Int("reserved_steps", len(r.reserved)),
				zap.Error(err),
			)
			r.Compensate(ctx, "reservation failed: "+err.Error())
			return err
		}
		r.reserved = append(r.reserved, step)
	}
	return nil
}

// Compensate は引き当て済みの在庫を逆順に戻し、戻せなかった件数を返す。
// リクエストがキャンセルされていても実行する。
func (r *stockReservation) Compensate(ctx context.Context, reason string) int {
	if len(r.reserved) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	failed := 0
	for i := len(r.reserved) - 1; i >= 0; i-- {
		step := r.reserved[i]
		err := r.catalog.AdjustStock(ctx, step.BookID, step.Quantity)
		if err != nil {
			failed++
			r.logger.Error("在庫を戻せませんでした",
				zap.String("book_id", step.BookID),
				zap.Int64("quantity", step.Quantity),
				zap.String("reason", reason),
				zap.Error(err),
			)
		} else {
			r.logger.Info("在庫を戻しました",
				zap.String("book_id", step.BookID),
				zap.Int64("quantity", step.Quantity),
				zap.String("reason", reason),
			)
		}
		event.Emit(ctx, r.publisher, r.logger, step.BookID, event.AggregateTypeBook, event.TypeStockCompensated, event.StockCompensatedData{
			Quantity:  step.Quantity,
			Reason:    reason,
			Succeeded: err == nil,
		})
	}
	r.reserved = nil
	return failed
}
