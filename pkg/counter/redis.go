package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementWithExpiryScript はカウンタをインクリメントし、新規作成時のみ有効期限を設定する。
// KEYS[1] = キー
// ARGV[1] = 有効期限（ミリ秒）
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// Config はRedisカウンタストアの接続設定。
type Config struct {
	// Address は "host:port" 形式の接続先。
	Address string
	// Password は認証パスワード。
	Password string
	// DB はデータベース番号。
	DB int
	// Prefix は全キーに付与するプレフィックス。
	Prefix string
	// DialTimeout は接続タイムアウト。0の場合は5秒。
	DialTimeout time.Duration
}

// RedisStore はRedisをバックエンドとする期限付きカウンタストア。
type RedisStore struct {
	// client はRedisクライアント。
	client *redis.Client
	// prefix は全キーに付与するプレフィックス。
	prefix string
}

// New はRedisカウンタストアを生成し、疎通を確認する。
func New(ctx context.Context, cfg Config) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redisの接続先が設定されていません")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := NewFromClient(client, cfg.Prefix)
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewFromClient は既存のRedisクライアントからカウンタストアを生成する。
func NewFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Increment はキーのカウンタを1増やし、増加後の値を返す。
// キーが存在しなかった場合はttl後に失効するカウンタとして作成する。
// インクリメントと有効期限の設定は1回のアトミックな操作で行う。
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ttlMillis := ttl.Milliseconds()
	if ttlMillis < 1 {
		ttlMillis = 1
	}

	count, err := incrementWithExpiryScript.Run(ctx, s.client, []string{s.prefix + key}, ttlMillis).Int64()
	if err != nil {
		return 0, fmt.Errorf("カウンタのインクリメントに失敗: key=%s: %w", key, err)
	}
	return count, nil
}

// Get はキーの現在のカウントを返す。キーが存在しない場合は0を返す。
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("カウンタの取得に失敗: key=%s: %w", key, err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("カウンタの値が不正です: key=%s: %w", key, err)
	}
	return n, nil
}

// Ping はRedisとの疎通を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return nil
}

// Client は内部のRedisクライアントを返す。イベント配信など同じ接続を共有する用途に使う。
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close はRedisとの接続を閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
