package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/config"
	"github.com/nao1215/bookhub/pkg/event"
	"github.com/nao1215/bookhub/pkg/middleware"
	"github.com/nao1215/bookhub/pkg/migration"
	"github.com/nao1215/bookhub/pkg/pagination"
)

// testJWTSecret はテスト用のJWT署名鍵。
const testJWTSecret = "test-secret-key"

func init() {
	gin.SetMode(gin.TestMode)
}

// adjustCall は在庫増減の呼び出し記録。
type adjustCall struct {
	BookID string
	Change int64
}

// fakeCatalog はメモリ上で書籍と在庫を管理する Catalog。
type fakeCatalog struct {
	mu    sync.Mutex
	books map[string]*Book
	// failReserve は在庫の引き当て時に返すエラー。書籍IDごとに指定する。
	failReserve map[string]error
	// down がtrueの場合は全ての呼び出しが失敗する。
	down  bool
	calls []adjustCall
}

// newFakeCatalog は空の fakeCatalog を生成する。
func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{books: map[string]*Book{}, failReserve: map[string]error{}}
}

// addBook は書籍を追加してIDを返す。
func (f *fakeCatalog) addBook(title string, price float64, stock int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New().String()
	f.books[id] = &Book{ID: id, Title: title, Price: price, StockQuantity: stock}
	return id
}

// GetBook は書籍のコピーを返す。
func (f *fakeCatalog) GetBook(_ context.Context, id string) (*Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("%w: connection refused", ErrCatalogUnavailable)
	}
	b, ok := f.books[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookNotFound, id)
	}
	cp := *b
	return &cp, nil
}

// AdjustStock は在庫を増減する。
func (f *fakeCatalog) AdjustStock(_ context.Context, id string, change int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, adjustCall{BookID: id, Change: change})
	if f.down {
		return fmt.Errorf("%w: connection refused", ErrCatalogUnavailable)
	}
	if err := f.failReserve[id]; err != nil && change < 0 {
		return err
	}
	b, ok := f.books[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBookNotFound, id)
	}
	if b.StockQuantity+change < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientStock, id)
	}
	b.StockQuantity += change
	return nil
}

// stock は書籍の在庫数を返す。
func (f *fakeCatalog) stock(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.books[id].StockQuantity
}

// adjustCalls は在庫増減の呼び出し記録のコピーを返す。
func (f *fakeCatalog) adjustCalls() []adjustCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adjustCall(nil), f.calls...)
}

// recordingPublisher は通知されたイベントを記録する。
type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

// Publish はイベントを記録する。
func (p *recordingPublisher) Publish(_ context.Context, e *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// ofType は指定した種類のイベントを返す。
func (p *recordingPublisher) ofType(t event.Type) []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*event.Event
	for _, e := range p.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// steppingClock は呼び出すたびに1秒進む時計を返す。
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

// testEnv はテスト用のサーバーと依存オブジェクト。
type testEnv struct {
	s          *Server
	catalog    *fakeCatalog
	pub        *recordingPublisher
	aliceID    string
	aliceToken string
	bobToken   string
	adminToken string
}

// setupTestServer はテスト用の注文サーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	sqlDB, err := OpenDB(t.Context(), migration.MemoryPath, zap.NewNop())
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{Port: "0"},
		JWT:    config.JWTConfig{Secret: testJWTSecret, Algorithm: "HS256", AccessTTL: time.Hour},
	}
	catalog := newFakeCatalog()
	pub := &recordingPublisher{}
	s, err := NewServer(cfg, zap.NewNop(), sqlDB, catalog, pub)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	s.now = steppingClock()

	signer, err := middleware.NewSigner(testJWTSecret, "HS256", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	sign := func(id, role, name string) string {
		token, err := signer.Sign(id, role, name+"@example.com", name)
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		return token
	}

	aliceID := uuid.New().String()
	return &testEnv{
		s:          s,
		catalog:    catalog,
		pub:        pub,
		aliceID:    aliceID,
		aliceToken: sign(aliceID, middleware.RoleUser, "alice"),
		bobToken:   sign(uuid.New().String(), middleware.RoleUser, "bob"),
		adminToken: sign(uuid.New().String(), middleware.RoleAdmin, "admin"),
	}
}

// do はテスト用のHTTPリクエストを実行し、レスポンスを返す。
func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.s.router.ServeHTTP(w, req)
	return w
}

// item は注文明細のリクエストを返す。
func item(bookID string, quantity int64) map[string]any {
	return map[string]any{"book_id": bookID, "quantity": quantity}
}

// placeOrder は注文を作成するヘルパー関数。
func (e *testEnv) placeOrder(t *testing.T, token string, items ...map[string]any) orderResponse {
	t.Helper()
	w := e.do(http.MethodPost, "/api/v1/orders", token, map[string]any{"items": items})
	if w.Code != http.StatusCreated {
		t.Fatalf("注文の作成に失敗: status=%d body=%s", w.Code, w.Body.String())
	}
	var o orderResponse
	decode(t, w, &o)
	return o
}

// decode はレスポンスボディをvにデコードする。
func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
}

// errorMessage はエラーレスポンスのメッセージを返す。
func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, w, &body)
	return body["error"]
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	e := setupTestServer(t)
	w := e.do(http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	decode(t, w, &body)
	if body["status"] != "ok" || body["service"] != "order" {
		t.Errorf("レスポンス = %v", body)
	}
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()

	t.Run("注文を作成し在庫を引き当てること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		goBook := e.catalog.addBook("The Go Programming Language", 10.5, 5)
		cBook := e.catalog.addBook("The C Programming Language", 3.25, 3)

		o := e.placeOrder(t, e.aliceToken, item(goBook, 2), item(cBook, 1))

		if o.Status != StatusPending {
			t.Errorf("Status = %q, want %q", o.Status, StatusPending)
		}
		if o.UserID != e.aliceID {
			t.Errorf("UserID = %q, want %q", o.UserID, e.aliceID)
		}
		if o.TotalAmount != 24.25 {
			t.Errorf("TotalAmount = %v, want 24.25", o.TotalAmount)
		}
		if len(o.Items) != 2 {
			t.Fatalf("明細の件数 = %d, want 2", len(o.Items))
		}
		if o.Items[0].BookTitle != "The Go Programming Language" || o.Items[0].Subtotal != 21 {
			t.Errorf("1件目の明細 = %+v", o.Items[0])
		}
		if e.catalog.stock(goBook) != 3 || e.catalog.stock(cBook) != 2 {
			t.Errorf("在庫 = %d, %d, want 3, 2", e.catalog.stock(goBook), e.catalog.stock(cBook))
		}

		placed := e.pub.ofType(event.TypeOrderPlaced)
		if len(placed) != 1 || placed[0].AggregateID != o.ID {
			t.Fatalf("OrderPlacedイベント = %v", placed)
		}
		data, err := event.Decode[event.OrderPlacedData](placed[0])
		if err != nil {
			t.Fatalf("イベントデータのデコードに失敗: %v", err)
		}
		if data.UserID != e.aliceID || len(data.Items) != 2 {
			t.Errorf("イベントデータ = %+v", data)
		}

		w := e.do(http.MethodGet, "/api/v1/orders/"+o.ID, e.aliceToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("注文の取得に失敗: status=%d", w.Code)
		}
		var got orderResponse
		decode(t, w, &got)
		if got.Items[0].BookID != goBook || got.Items[1].BookID != cBook {
			t.Errorf("明細の順序が保存されていない: %+v", got.Items)
		}
	})

	t.Run("存在しない書籍の場合は404を返すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		w := e.do(http.MethodPost, "/api/v1/orders", e.aliceToken, map[string]any{
			"items": []map[string]any{item(uuid.New().String(), 1)},
		})
		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if msg := errorMessage(t, w); msg != "Book not found" {
			t.Errorf("エラーメッセージ = %q", msg)
		}
	})

	t.Run("在庫が不足している場合は400を返し在庫を変更しないこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		book := e.catalog.addBook("Go in Action", 30, 1)
		w := e.do(http.MethodPost, "/api/v1/orders", e.aliceToken, map[string]any{
			"items": []map[string]any{item(book, 2)},
		})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if e.catalog.stock(book) != 1 {
			t.Errorf("在庫 = %d, want 1", e.catalog.stock(book))
		}
		if calls := e.catalog.adjustCalls(); len(calls) != 0 {
			t.Errorf("在庫増減が呼び出された: %v", calls)
		}
	})

	t.Run("途中の引き当てに失敗した場合は引き当て済みの在庫を逆順に戻すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		first := e.catalog.addBook("first", 1, 5)
		second := e.catalog.addBook("second", 1, 5)
		third := e.catalog.addBook("third", 1, 5)
		e.catalog.failReserve[third] = fmt.Errorf("%w: %s", ErrInsufficientStock, third)

		w := e.do(http.MethodPost, "/api/v1/orders", e.aliceToken, map[string]any{
			"items": []map[string]any{item(first, 1), item(second, 2), item(third, 3)},
		})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
		}
		if msg := errorMessage(t, w); msg != "Insufficient stock" {
			t.Errorf("エラーメッセージ = %q", msg)
		}

		want := []adjustCall{
			{BookID: first, Change: -1},
			{BookID: second, Change: -2},
			{BookID: third, Change: -3},
			{BookID: second, Change: 2},
			{BookID: first, Change: 1},
		}
		calls := e.catalog.adjustCalls()
		if len(calls) != len(want) {
			t.Fatalf("在庫増減の呼び出し = %v, want %v", calls, want)
		}
		for i := range want {
			if calls[i] != want[i] {
				t.Errorf("%d番目の呼び出し = %v, want %v", i, calls[i], want[i])
			}
		}
		for _, id := range []string{first, second, third} {
			if got := e.catalog.stock(id); got != 5 {
				t.Errorf("在庫 = %d, want 5", got)
			}
		}

		if got := len(e.pub.ofType(event.TypeStockCompensated)); got != 2 {
			t.Errorf("StockCompensatedイベントの件数 = %d, want 2", got)
		}
		if got := len(e.pub.ofType(event.TypeOrderPlaced)); got != 0 {
			t.Errorf("OrderPlacedイベントの件数 = %d, want 0", got)
		}

		w = e.do(http.MethodGet, "/api/v1/orders", e.aliceToken, nil)
		var page pagination.Page[orderResponse]
		decode(t, w, &page)
		if page.Total != 0 {
			t.Errorf("注文が保存された: total=%d", page.Total)
		}
	})

	t.Run("カタログサービスに到達できない場合は502を返すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		book := e.catalog.addBook("Concurrency in Go", 40, 5)
		e.catalog.down = true

		w := e.do(http.MethodPost, "/api/v1/orders", e.aliceToken, map[string]any{
			"items": []map[string]any{item(book, 1)},
		})
		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
		}
	})

	t.Run("引き当て中にカタログサービスが停止した場合は502を返すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		first := e.catalog.addBook("first", 1, 5)
		second := e.catalog.addBook("second", 1, 5)
		e.catalog.failReserve[second] = fmt.Errorf("%w: timeout", ErrCatalogUnavailable)

		w := e.do(http.MethodPost, "/api/v1/orders", e.aliceToken, map[string]any{
			"items": []map[string]any{item(first, 2), item(second, 1)},
		})
		if w.Code != http.StatusBadGateway {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
		}
		if got := e.catalog.stock(first); got != 5 {
			t.Errorf("在庫 = %d, want 5", got)
		}
	})

	tests := []struct {
		name string
		body any
	}{
		{name: "明細が空", body: map[string]any{"items": []any{}}},
		{name: "明細がない", body: map[string]any{}},
		{name: "数量が0", body: map[string]any{"items": []map[string]any{item(uuid.New().String(), 0)}}},
		{name: "書籍IDがUUIDではない", body: map[string]any{"items": []map[string]any{item("book-1", 1)}}},
	}
	for _, tt := range tests {
		t.Run("不正なリクエストは400を返すこと: "+tt.name, func(t *testing.T) {
			t.Parallel()

			e := setupTestServer(t)
			w := e.do(http.MethodPost, "/api/v1/orders", e.aliceToken, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}

	t.Run("トークンがない場合は401を返すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		w := e.do(http.MethodPost, "/api/v1/orders", "", map[string]any{"items": []any{}})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestListOrders(t *testing.T) {
	t.Parallel()

	e := setupTestServer(t)
	book := e.catalog.addBook("Learning Go", 20, 100)
	var ids []string
	for range 3 {
		ids = append(ids, e.placeOrder(t, e.aliceToken, item(book, 1)).ID)
	}
	e.placeOrder(t, e.bobToken, item(book, 1))
	if w := e.do(http.MethodDelete, "/api/v1/orders/"+ids[0], e.aliceToken, nil); w.Code != http.StatusOK {
		t.Fatalf("キャンセルに失敗: status=%d", w.Code)
	}

	t.Run("自分の注文だけを新しい順に返すこと", func(t *testing.T) {
		t.Parallel()

		w := e.do(http.MethodGet, "/api/v1/orders?limit=2", e.aliceToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var page pagination.Page[orderResponse]
		decode(t, w, &page)
		if page.Total != 3 || page.Pages != 2 || len(page.Items) != 2 {
			t.Fatalf("ページ = total:%d pages:%d items:%d", page.Total, page.Pages, len(page.Items))
		}
		if page.Items[0].ID != ids[2] || page.Items[1].ID != ids[1] {
			t.Errorf("並び順が不正: %s, %s", page.Items[0].ID, page.Items[1].ID)
		}
		if len(page.Items[0].Items) != 1 {
			t.Errorf("明細が含まれていない: %+v", page.Items[0])
		}
	})

	t.Run("ステータスで絞り込めること", func(t *testing.T) {
		t.Parallel()

		w := e.do(http.MethodGet, "/api/v1/orders?status=cancelled", e.aliceToken, nil)
		var page pagination.Page[orderResponse]
		decode(t, w, &page)
		if page.Total != 1 || page.Items[0].ID != ids[0] {
			t.Errorf("絞り込み結果 = %+v", page)
		}
	})

	tests := []struct {
		name  string
		query string
	}{
		{name: "不正なステータス", query: "status=lost"},
		{name: "不正なページ", query: "page=0"},
		{name: "上限を超えるlimit", query: "limit=101"},
	}
	for _, tt := range tests {
		t.Run("不正なクエリは400を返すこと: "+tt.name, func(t *testing.T) {
			t.Parallel()

			w := e.do(http.MethodGet, "/api/v1/orders?"+tt.query, e.aliceToken, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	e := setupTestServer(t)
	goBook := e.catalog.addBook("Go", 10.5, 10)
	cBook := e.catalog.addBook("C", 3.25, 10)
	e.placeOrder(t, e.aliceToken, item(goBook, 2), item(cBook, 1))
	cancelled := e.placeOrder(t, e.aliceToken, item(cBook, 2))
	if w := e.do(http.MethodDelete, "/api/v1/orders/"+cancelled.ID, e.aliceToken, nil); w.Code != http.StatusOK {
		t.Fatalf("キャンセルに失敗: status=%d", w.Code)
	}
	e.placeOrder(t, e.bobToken, item(goBook, 1))

	w := e.do(http.MethodGet, "/api/v1/orders/stats", e.aliceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	var stats statsResponse
	decode(t, w, &stats)

	if stats.TotalOrders != 2 {
		t.Errorf("TotalOrders = %d, want 2", stats.TotalOrders)
	}
	if stats.TotalSpent != 24.25 {
		t.Errorf("TotalSpent = %v, want 24.25", stats.TotalSpent)
	}
	if stats.TotalBooksPurchased != 3 {
		t.Errorf("TotalBooksPurchased = %d, want 3", stats.TotalBooksPurchased)
	}
	want := map[string]int64{
		StatusPending:    1,
		StatusProcessing: 0,
		StatusShipped:    0,
		StatusDelivered:  0,
		StatusCancelled:  1,
	}
	for status, n := range want {
		if stats.OrdersByStatus[status] != n {
			t.Errorf("OrdersByStatus[%s] = %d, want %d", status, stats.OrdersByStatus[status], n)
		}
	}
}

func TestGetOrder(t *testing.T) {
	t.Parallel()

	e := setupTestServer(t)
	book := e.catalog.addBook("Go", 10, 10)
	o := e.placeOrder(t, e.aliceToken, item(book, 1))

	tests := []struct {
		name  string
		id    string
		token string
		want  int
	}{
		{name: "注文者は参照できること", id: o.ID, token: e.aliceToken, want: http.StatusOK},
		{name: "管理者は他人の注文を参照できること", id: o.ID, token: e.adminToken, want: http.StatusOK},
		{name: "他人の注文は404を返すこと", id: o.ID, token: e.bobToken, want: http.StatusNotFound},
		{name: "存在しない注文は404を返すこと", id: uuid.New().String(), token: e.aliceToken, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := e.do(http.MethodGet, "/api/v1/orders/"+tt.id, tt.token, nil)
			if w.Code != tt.want {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	t.Run("管理者はステータスを変更できること", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		book := e.catalog.addBook("Go", 10, 10)
		o := e.placeOrder(t, e.aliceToken, item(book, 1))

		w := e.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/status", e.adminToken, map[string]string{"status": StatusShipped})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		var got orderResponse
		decode(t, w, &got)
		if got.Status != StatusShipped {
			t.Errorf("Status = %q, want %q", got.Status, StatusShipped)
		}
		if e.catalog.stock(book) != 9 {
			t.Errorf("在庫 = %d, want 9", e.catalog.stock(book))
		}

		changed := e.pub.ofType(event.TypeOrderStatusChanged)
		if len(changed) != 1 {
			t.Fatalf("OrderStatusChangedイベントの件数 = %d, want 1", len(changed))
		}
		data, err := event.Decode[event.OrderStatusChangedData](changed[0])
		if err != nil {
			t.Fatalf("イベントデータのデコードに失敗: %v", err)
		}
		if data.From != StatusPending || data.To != StatusShipped {
			t.Errorf("イベントデータ = %+v", data)
		}
	})

	t.Run("キャンセルへの変更では在庫を戻し、以降は変更できないこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		book := e.catalog.addBook("Go", 10, 10)
		o := e.placeOrder(t, e.aliceToken, item(book, 4))
		path := "/api/v1/orders/" + o.ID + "/status"

		if w := e.do(http.MethodPatch, path, e.adminToken, map[string]string{"status": StatusProcessing}); w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if w := e.do(http.MethodPatch, path, e.adminToken, map[string]string{"status": StatusCancelled}); w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if e.catalog.stock(book) != 10 {
			t.Errorf("在庫 = %d, want 10", e.catalog.stock(book))
		}

		w := e.do(http.MethodPatch, path, e.adminToken, map[string]string{"status": StatusPending})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if e.catalog.stock(book) != 10 {
			t.Errorf("在庫 = %d, want 10", e.catalog.stock(book))
		}
	})

	t.Run("不正なステータスは400を返すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		book := e.catalog.addBook("Go", 10, 10)
		o := e.placeOrder(t, e.aliceToken, item(book, 1))

		w := e.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/status", e.adminToken, map[string]string{"status": "lost"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("管理者以外は403を返すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		book := e.catalog.addBook("Go", 10, 10)
		o := e.placeOrder(t, e.aliceToken, item(book, 1))

		w := e.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/status", e.aliceToken, map[string]string{"status": StatusShipped})
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("存在しない注文は404を返すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		w := e.do(http.MethodPatch, "/api/v1/orders/"+uuid.New().String()+"/status", e.adminToken, map[string]string{"status": StatusShipped})
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	t.Run("保留中の注文をキャンセルし在庫を戻すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		book := e.catalog.addBook("Go", 10, 5)
		o := e.placeOrder(t, e.aliceToken, item(book, 3))

		w := e.do(http.MethodDelete, "/api/v1/orders/"+o.ID, e.aliceToken, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var got orderResponse
		decode(t, w, &got)
		if got.Status != StatusCancelled {
			t.Errorf("Status = %q, want %q", got.Status, StatusCancelled)
		}
		if e.catalog.stock(book) != 5 {
			t.Errorf("在庫 = %d, want 5", e.catalog.stock(book))
		}
		if got := len(e.pub.ofType(event.TypeOrderCancelled)); got != 1 {
			t.Errorf("OrderCancelledイベントの件数 = %d, want 1", got)
		}

		// 2回目のキャンセルは失敗し、在庫を二重に戻さない
		w = e.do(http.MethodDelete, "/api/v1/orders/"+o.ID, e.aliceToken, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if e.catalog.stock(book) != 5 {
			t.Errorf("在庫 = %d, want 5", e.catalog.stock(book))
		}
	})

	t.Run("処理中の注文はキャンセルできないこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		book := e.catalog.addBook("Go", 10, 5)
		o := e.placeOrder(t, e.aliceToken, item(book, 1))
		e.do(http.MethodPatch, "/api/v1/orders/"+o.ID+"/status", e.adminToken, map[string]string{"status": StatusProcessing})

		w := e.do(http.MethodDelete, "/api/v1/orders/"+o.ID, e.aliceToken, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if msg := errorMessage(t, w); msg != "Cannot cancel order (already processing/completed)" {
			t.Errorf("エラーメッセージ = %q", msg)
		}
		if e.catalog.stock(book) != 4 {
			t.Errorf("在庫 = %d, want 4", e.catalog.stock(book))
		}
	})

	t.Run("他人の注文は404を返すこと", func(t *testing.T) {
		t.Parallel()

		e := setupTestServer(t)
		book := e.catalog.addBook("Go", 10, 5)
		o := e.placeOrder(t, e.aliceToken, item(book, 1))

		w := e.do(http.MethodDelete, "/api/v1/orders/"+o.ID, e.bobToken, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}
