package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/bookhub/internal/config"
	"github.com/nao1215/bookhub/pkg/counter"
	"github.com/nao1215/bookhub/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のJWT署名秘密鍵。
const testJWTSecret = "test-secret-key"

// testClientIP は httptest.NewRequest が設定する接続元アドレス。
const testClientIP = "192.0.2.1"

// fakeStore はインクリメントの呼び出しを記録するテスト用カウンタストア。
type fakeStore struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	calls  int
	err    error
}

// newFakeStore は空のテスト用カウンタストアを生成する。
func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

// Increment はキーのカウントを1増やす。err が設定されている場合はそれを返す。
func (f *fakeStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	if f.counts[key] == 1 {
		f.ttls[key] = ttl
	}
	return f.counts[key], nil
}

// callCount はインクリメントの呼び出し回数を返す。
func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// errStoreDown はカウンタストアの障害を表すテスト用エラー。
var errStoreDown = errors.New("connection refused")

// testClock はテストから進められる時計。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now は現在時刻を返す。
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance は時計をdだけ進める。
func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestConfig はテスト用の設定を生成する。クォータは小さな値にしてある。
func newTestConfig(services map[string]string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0"},
		JWT: config.JWTConfig{
			Secret:    testJWTSecret,
			Algorithm: "HS256",
			AccessTTL: time.Hour,
		},
		Gateway: config.GatewayConfig{
			Services: services,
			Quotas: config.QuotasConfig{
				Anonymous:     config.QuotaConfig{Limit: 3, WindowSeconds: 60},
				Authenticated: config.QuotaConfig{Limit: 5, WindowSeconds: 60},
				Admin:         config.QuotaConfig{Limit: 10, WindowSeconds: 60},
			},
			ForwardTimeout: 5 * time.Second,
			AllowedOrigins: []string{"*"},
		},
	}
}

// newTestServer はテスト用のGatewayサーバーを生成する。
func newTestServer(t *testing.T, services map[string]string, store CounterStore) *Server {
	t.Helper()

	s, err := NewServer(newTestConfig(services), zap.NewNop(), store)
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}
	return s
}

// newRedisStore はminiredisをバックエンドとするカウンタストアを生成する。
func newRedisStore(t *testing.T) (*counter.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := counter.New(t.Context(), counter.Config{Address: mr.Addr(), Prefix: "test:"})
	if err != nil {
		t.Fatalf("カウンタストアの生成に失敗: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

// generateTestJWT はテスト用のアクセストークンを生成する。
func generateTestJWT(t *testing.T, userID, role string) string {
	t.Helper()

	signer, err := middleware.NewSigner(testJWTSecret, "HS256", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner()でエラーが発生: %v", err)
	}
	token, err := signer.Sign(userID, role, userID+"@example.com", userID)
	if err != nil {
		t.Fatalf("テスト用JWT生成に失敗: %v", err)
	}
	return token
}

// quotaKeys はminiredisに保存されているクォータカウンタのキーのうち、プレフィックスに一致するものを返す。
func quotaKeys(mr *miniredis.Miniredis, prefix string) []string {
	var keys []string
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}
