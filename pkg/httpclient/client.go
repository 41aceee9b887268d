package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 30 * time.Second
	// errorBodyLimit はエラー応答から読むボディの上限。
	errorBodyLimit = 64 << 10
)

// Client は1つの接続先サービスに対するJSONクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    http.Header
}

// Option はClientの設定。
type Option func(*Client)

// WithTimeout は1リクエストあたりのタイムアウトを変更する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHeader は全リクエストに固定のヘッダーを付ける。内部APIの共有シークレットに使う。
func WithHeader(name, value string) Option {
	return func(c *Client) { c.headers.Set(name, value) }
}

// WithHTTPClient は下位の *http.Client を差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New はbaseURL("http://catalog:8002" など)に対するClientを返す。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError は接続先が2xx以外を返したことを表す。
type StatusError struct {
	StatusCode int
	// Message は応答ボディの "error" か "detail"。どちらも無ければボディ全体。
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("接続先が %d を返しました: %s", e.StatusCode, e.Message)
}

// StatusCode はerrに含まれる *StatusError のステータスコードを返す。含まれなければ0。
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// GetJSON はpathをGETし、応答をoutに読み込む。outがnilなら応答ボディは捨てる。
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.Call(ctx, http.MethodGet, path, nil, out)
}

// PatchJSON はinをJSONにしてpathへPATCHする。
func (c *Client) PatchJSON(ctx context.Context, path string, in, out any) error {
	return c.Call(ctx, http.MethodPatch, path, in, out)
}

// PostJSON はinをJSONにしてpathへPOSTする。
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.Call(ctx, http.MethodPost, path, in, out)
}

// Call はmethodとpathでリクエストを送る。inがnilでなければJSONボディとして送り、
// 2xxの応答はoutに読み込む。
func (c *Client) Call(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{StatusCode: resp.StatusCode, Message: messageFrom(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s の応答を読み取れません: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディをJSONに変換できません: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := requestIDFrom(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	return req, nil
}

func messageFrom(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Error != "":
			return body.Error
		case body.Detail != "":
			return body.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}

type requestIDKey struct{}

// WithRequestID はctxにリクエストIDを載せる。このctxで送るリクエストに引き継がれる。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
