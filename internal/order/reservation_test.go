package order

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nao1215/bookhub/pkg/event"
)

func TestStockReservation(t *testing.T) {
	t.Parallel()

	t.Run("全ての引き当てが成功した場合は在庫を戻さないこと", func(t *testing.T) {
		t.Parallel()

		catalog := newFakeCatalog()
		a := catalog.addBook("a", 1, 3)
		b := catalog.addBook("b", 1, 3)
		pub := &recordingPublisher{}

		r := newStockReservation(catalog, pub, zap.NewNop(), "order-1")
		if err := r.Reserve(t.Context(), []stockStep{{BookID: a, Quantity: 1}, {BookID: b, Quantity: 3}}); err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		if catalog.stock(a) != 2 || catalog.stock(b) != 0 {
			t.Errorf("在庫 = %d, %d, want 2, 0", catalog.stock(a), catalog.stock(b))
		}
		if n := len(pub.ofType(event.TypeStockCompensated)); n != 0 {
			t.Errorf("StockCompensatedイベントの件数 = %d, want 0", n)
		}
	})

	t.Run("キャンセル済みのコンテキストでも在庫を戻すこと", func(t *testing.T) {
		t.Parallel()

		catalog := newFakeCatalog()
		a := catalog.addBook("a", 1, 3)
		pub := &recordingPublisher{}
		r := newStockReservation(catalog, pub, zap.NewNop(), "order-1")

		ctx, cancel := context.WithCancel(t.Context())
		if err := r.Reserve(ctx, []stockStep{{BookID: a, Quantity: 2}}); err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		cancel()

		if failed := r.Compensate(ctx, "client gone"); failed != 0 {
			t.Errorf("Compensate() = %d, want 0", failed)
		}
		if catalog.stock(a) != 3 {
			t.Errorf("在庫 = %d, want 3", catalog.stock(a))
		}

		events := pub.ofType(event.TypeStockCompensated)
		if len(events) != 1 {
			t.Fatalf("StockCompensatedイベントの件数 = %d, want 1", len(events))
		}
		data, err := event.Decode[event.StockCompensatedData](events[0])
		if err != nil {
			t.Fatalf("イベントデータのデコードに失敗: %v", err)
		}
		if data.Quantity != 2 || data.Reason != "client gone" || !data.Succeeded {
			t.Errorf("イベントデータ = %+v", data)
		}

		// 2回目は何もしない
		if failed := r.Compensate(ctx, "again"); failed != 0 {
			t.Errorf("Compensate() = %d, want 0", failed)
		}
		if catalog.stock(a) != 3 {
			t.Errorf("在庫 = %d, want 3", catalog.stock(a))
		}
	})

	t.Run("在庫を戻せなかった場合はエラーログと失敗イベントを残すこと", func(t *testing.T) {
		t.Parallel()

		catalog := newFakeCatalog()
		a := catalog.addBook("a", 1, 3)
		pub := &recordingPublisher{}
		core, logs := observer.New(zapcore.ErrorLevel)

		r := newStockReservation(catalog, pub, zap.New(core), "order-1")
		if err := r.Reserve(t.Context(), []stockStep{{BookID: a, Quantity: 1}}); err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		catalog.down = true

		if failed := r.Compensate(t.Context(), "test"); failed != 1 {
			t.Errorf("Compensate() = %d, want 1", failed)
		}
		if logs.Len() != 1 {
			t.Fatalf("エラーログの件数 = %d, want 1", logs.Len())
		}
		if got := logs.All()[0].ContextMap()["order_id"]; got != "order-1" {
			t.Errorf("order_id = %v", got)
		}

		data, err := event.Decode[event.StockCompensatedData](pub.ofType(event.TypeStockCompensated)[0])
		if err != nil {
			t.Fatalf("イベントデータのデコードに失敗: %v", err)
		}
		if data.Succeeded {
			t.Error("Succeeded = true, want false")
		}
	})
}
