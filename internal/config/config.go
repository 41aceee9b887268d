// Package config は全サービスで共通して使用する設定の読み込みを提供する。
//
// 設定はコード上のデフォルト値、YAMLファイル、環境変数の順に上書きされる。
// 読み込んだ Config は起動時に一度だけ生成し、各コンポーネントにポインタで渡す。
// 起動後に書き換えてはならない。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix は設定を上書きする環境変数のプレフィックス。
// 階層は "__" で区切る（例: BOOKHUB_JWT__SECRET は jwt.secret）。
const EnvPrefix = "BOOKHUB_"

// EnvConfigPath は設定ファイルのパスを指定する環境変数。
const EnvConfigPath = "BOOKHUB_CONFIG"

// DefaultConfigPath は設定ファイルのデフォルトパス。存在しなくてもよい。
const DefaultConfigPath = "config.yaml"

// Config はbookhubの全バイナリが共有する設定。
type Config struct {
	// Server はHTTPサーバーの設定。
	Server ServerConfig `koanf:"server"`
	// Log はロガーの設定。
	Log LogConfig `koanf:"log"`
	// JWT はBearerトークンの署名と検証の設定。
	JWT JWTConfig `koanf:"jwt"`
	// Redis はクォータカウンタとイベント配信に使用するRedisの設定。
	Redis RedisConfig `koanf:"redis"`
	// Gateway はAPI Gatewayの設定。
	Gateway GatewayConfig `koanf:"gateway"`
	// Database はSQLiteデータベースの設定。
	Database DatabaseConfig `koanf:"database"`
	// Auth は認証サービスの設定。
	Auth AuthConfig `koanf:"auth"`
	// Catalog はカタログサービスへの接続設定。注文サービスが使用する。
	Catalog CatalogConfig `koanf:"catalog"`
	// InternalSecret はサービス間の内部APIで使用する共有シークレット。
	InternalSecret string `koanf:"internal_secret"`
	// Tracing はOpenTelemetryトレースの設定。
	Tracing TracingConfig `koanf:"tracing"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `koanf:"port"`
}

// LogConfig はロガーの設定。
type LogConfig struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string `koanf:"level"`
	// Format は出力形式（json, console）。
	Format string `koanf:"format"`
}

// JWTConfig はBearerトークンの設定。
type JWTConfig struct {
	// Secret は署名用の共有秘密鍵。
	Secret string `koanf:"secret"`
	// Algorithm は署名アルゴリズム。これ以外のアルゴリズムのトークンは拒否する。
	Algorithm string `koanf:"algorithm"`
	// AccessTTL はアクセストークンの有効期間。
	AccessTTL time.Duration `koanf:"access_ttl"`
	// RefreshTTL はリフレッシュトークンの有効期間。
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
}

// RedisConfig はRedisの接続設定。
type RedisConfig struct {
	// Address は "host:port" 形式の接続先。空の場合はRedisを使用しない。
	Address string `koanf:"address"`
	// Password は認証パスワード。
	Password string `koanf:"password"`
	// DB はデータベース番号。
	DB int `koanf:"db"`
	// Prefix はキーのプレフィックス。
	Prefix string `koanf:"prefix"`
}

// GatewayConfig はAPI Gatewayの設定。
type GatewayConfig struct {
	// Services は論理サービス名からバックエンドのベースURLへの対応表。
	Services map[string]string `koanf:"services"`
	// Quotas は呼び出し元クラスごとのクォータ。
	Quotas QuotasConfig `koanf:"quotas"`
	// ForwardTimeout はバックエンド呼び出しのタイムアウト。
	ForwardTimeout time.Duration `koanf:"forward_timeout"`
	// AllowedOrigins はCORSで許可するオリジン。"*" は全オリジンを許可する。
	AllowedOrigins []string `koanf:"allowed_origins"`
	// TrustedProxies はクライアントIPの判定で信頼するプロキシ。空の場合は接続元アドレスを使う。
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// QuotasConfig は呼び出し元クラスごとのクォータ。
type QuotasConfig struct {
	// Anonymous は未認証の呼び出し元のクォータ。
	Anonymous QuotaConfig `koanf:"anonymous"`
	// Authenticated は認証済みの呼び出し元のクォータ。
	Authenticated QuotaConfig `koanf:"authenticated"`
	// Admin は管理者のクォータ。
	Admin QuotaConfig `koanf:"admin"`
}

// QuotaConfig は固定ウィンドウあたりのリクエスト上限。
type QuotaConfig struct {
	// Limit はウィンドウあたりの最大リクエスト数。
	Limit int64 `koanf:"limit"`
	// WindowSeconds はウィンドウの長さ（秒）。
	WindowSeconds int64 `koanf:"window_seconds"`
}

// Window はウィンドウの長さを time.Duration で返す。
func (q QuotaConfig) Window() time.Duration {
	return time.Duration(q.WindowSeconds) * time.Second
}

// DatabaseConfig はSQLiteデータベースの設定。
type DatabaseConfig struct {
	// Path はデータベースファイルのパス。":memory:" も指定できる。
	Path string `koanf:"path"`
}

// AuthConfig は認証サービスの設定。
type AuthConfig struct {
	// AdminUsernames は登録時に管理者ロールを付与するユーザー名。
	AdminUsernames []string `koanf:"admin_usernames"`
}

// CatalogConfig はカタログサービスへの接続設定。
type CatalogConfig struct {
	// URL はカタログサービスのベースURL。
	URL string `koanf:"url"`
}

// TracingConfig はOpenTelemetryトレースの設定。
type TracingConfig struct {
	// Enabled がtrueの場合、標準出力へスパンを書き出す。
	Enabled bool `koanf:"enabled"`
}

// defaults は設定ファイルにも環境変数にも値がない場合に使用する値。
var defaults = map[string]any{
	"server.port":                                 "8080",
	"log.level":                                   "info",
	"log.format":                                  "json",
	"jwt.secret":                                  "dev-secret-key",
	"jwt.algorithm":                               "HS256",
	"jwt.access_ttl":                              "1h",
	"jwt.refresh_ttl":                             "720h",
	"redis.address":                               "localhost:6379",
	"redis.prefix":                                "bookhub:",
	"gateway.quotas.anonymous.limit":              20,
	"gateway.quotas.anonymous.window_seconds":     60,
	"gateway.quotas.authenticated.limit":          100,
	"gateway.quotas.authenticated.window_seconds": 60,
	"gateway.quotas.admin.limit":                  500,
	"gateway.quotas.admin.window_seconds":         60,
	"gateway.forward_timeout":                     "30s",
	"gateway.allowed_origins":                     []string{"*"},
	"database.path":                               "/data/bookhub.db",
	"catalog.url":                                 "http://localhost:8002",
	"internal_secret":                             "dev-internal-secret",
}

// defaultServices はゲートウェイのサービスレジストリのデフォルト値。
// バックエンドのルートは /api/v1/{service} 配下にあるため、ベースURLにそのプレフィックスを含める。
var defaultServices = map[string]string{
	"auth":    "http://localhost:8001/api/v1/auth",
	"books":   "http://localhost:8002/api/v1/books",
	"orders":  "http://localhost:8003/api/v1/orders",
	"reviews": "http://localhost:8004/api/v1/reviews",
}

// Load は設定ファイルと環境変数から設定を読み込む。
// pathが空の場合は BOOKHUB_CONFIG、それも空の場合は config.yaml を使用する。
// 設定ファイルが存在しない場合はデフォルト値と環境変数のみを使用する。
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigPath
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("デフォルト値の設定に失敗: %s: %w", key, err)
			}
		}
	}
	if !k.Exists("gateway.services") {
		for name, baseURL := range defaultServices {
			if err := k.Set("gateway.services."+name, baseURL); err != nil {
				return nil, fmt.Errorf("デフォルトのサービスレジストリの設定に失敗: %w", err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// supportedAlgorithms は検証に使用できるHMAC署名アルゴリズム。
var supportedAlgorithms = map[string]struct{}{
	"HS256": {},
	"HS384": {},
	"HS512": {},
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret が設定されていません"))
	}
	if _, ok := supportedAlgorithms[c.JWT.Algorithm]; !ok {
		errs = append(errs, fmt.Errorf("jwt.algorithm %q はサポートされていません", c.JWT.Algorithm))
	}
	if c.JWT.AccessTTL <= 0 {
		errs = append(errs, errors.New("jwt.access_ttl は正の値である必要があります"))
	}

	for name, q := range map[string]QuotaConfig{
		"anonymous":     c.Gateway.Quotas.Anonymous,
		"authenticated": c.Gateway.Quotas.Authenticated,
		"admin":         c.Gateway.Quotas.Admin,
	} {
		if q.Limit <= 0 {
			errs = append(errs, fmt.Errorf("gateway.quotas.%s.limit は正の整数である必要があります", name))
		}
		if q.WindowSeconds <= 0 {
			errs = append(errs, fmt.Errorf("gateway.quotas.%s.window_seconds は正の整数である必要があります", name))
		}
	}

	for name, baseURL := range c.Gateway.Services {
		if name == "" {
			errs = append(errs, errors.New("gateway.services に空のサービス名があります"))
			continue
		}
		u, err := url.Parse(baseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("gateway.services.%s のURLが不正です: %q", name, baseURL))
		}
	}

	if c.Gateway.ForwardTimeout <= 0 {
		errs = append(errs, errors.New("gateway.forward_timeout は正の値である必要があります"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("設定が不正です: %w", errors.Join(errs...))
	}
	return nil
}
