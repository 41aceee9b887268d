package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultForwardTimeout はバックエンド呼び出しのデフォルトタイムアウト。
const DefaultForwardTimeout = 30 * time.Second

// hopByHopHeaders は転送時に取り除くホップバイホップヘッダー。
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyRequest はバックエンドへ転送するリクエスト。1回の転送の間だけ存在する。
type ProxyRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Base は解決済みのベースURL。
	Base *url.URL
	// Path はサービス名より後ろのパス。
	Path string
	// RawQuery はエンコード済みのクエリ文字列。
	RawQuery string
	// Header は受信したリクエストヘッダー。
	Header http.Header
	// Body は受信したリクエストボディ。nilの場合はボディなし。
	Body io.Reader
	// ContentLength はボディの長さ。-1は不明。
	ContentLength int64
}

// ProxyResponse はバックエンドからのレスポンス。
type ProxyResponse struct {
	// StatusCode はバックエンドが返したステータスコード。
	StatusCode int
	// Header はホップバイホップヘッダーを除いたレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ。
	Body []byte
}

// Forwarder はリクエストをバックエンドへ1回だけ転送する。再試行はしない。
type Forwarder struct {
	client *http.Client
}

// NewForwarder はタイムアウトを設定した Forwarder を生成する。
// トランスポートはOpenTelemetryで計装し、リダイレクトは追跡せずにそのまま返す。
func NewForwarder(timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}
	return NewForwarderWithClient(&http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	})
}

// NewForwarderWithClient は任意のHTTPクライアントで Forwarder を生成する。
func NewForwarderWithClient(client *http.Client) *Forwarder {
	return &Forwarder{client: client}
}

// Forward はリクエストをバックエンドへ転送し、ステータスコードとボディをそのまま返す。
// 接続失敗、タイムアウト、ボディの読み取り失敗は ErrUpstreamUnavailable を返す。
// レスポンスボディはどの経路でも必ず閉じる。
func (f *Forwarder) Forward(ctx context.Context, pr ProxyRequest) (*ProxyResponse, error) {
	target := TargetURL(pr.Base, pr.Path, pr.RawQuery)

	body := pr.Body
	if body == nil || pr.ContentLength == 0 {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, pr.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("転送リクエストの作成に失敗: %w", err)
	}
	if body != http.NoBody {
		req.ContentLength = pr.ContentLength
	}

	req.Header = cloneEndToEndHeader(pr.Header)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUpstreamUnavailable, pr.Method, target.Redacted(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: レスポンスの読み取りに失敗: %s: %w", ErrUpstreamUnavailable, target.Redacted(), err)
	}

	header := cloneEndToEndHeader(resp.Header)
	// 中継時にボディの長さから再計算される
	header.Del("Content-Length")

	return &ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       respBody,
	}, nil
}

// TargetURL はベースURLに残りのパスとクエリ文字列を連結した転送先URLを返す。
// 連結部分の区切りは常に1つのスラッシュになる。残りのパスが空の場合はベースURLのパスをそのまま使う。
func TargetURL(base *url.URL, path, rawQuery string) *url.URL {
	target := *base

	if remainder := strings.TrimLeft(path, "/"); remainder != "" {
		target.Path = strings.TrimRight(base.Path, "/") + "/" + remainder
		target.RawPath = ""
	}

	switch {
	case rawQuery == "":
	case target.RawQuery == "":
		target.RawQuery = rawQuery
	default:
		target.RawQuery = target.RawQuery + "&" + rawQuery
	}
	return &target
}

// cloneEndToEndHeader はホップバイホップヘッダーを取り除いたヘッダーのコピーを返す。
// Connection ヘッダーに列挙されたヘッダーも取り除く。
func cloneEndToEndHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}

	for _, v := range h.Values("Connection") {
		for name := range strings.SplitSeq(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				out.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	for name := range out {
		if strings.HasPrefix(name, "Proxy-") {
			delete(out, name)
		}
	}
	return out
}
