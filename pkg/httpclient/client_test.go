package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// testPayload はテスト用のリクエスト/レスポンスペイロード。
type testPayload struct {
	// Name はテスト用の名前フィールド。
	Name string `json:"name"`
	// Value はテスト用の値フィールド。
	Value int `json:"value"`
}

// newRecordingServer は受け取ったリクエストを記録し、respを返すテストサーバーを生成する。
func newRecordingServer(t *testing.T, status int, resp any) (*httptest.Server, *testRequest) {
	t.Helper()

	received := &testRequest{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Method = r.Method
		received.Path = r.URL.Path
		received.Body, _ = io.ReadAll(r.Body)
		received.Headers = r.Header.Clone()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if resp != nil {
			json.NewEncoder(w).Encode(resp)
		}
	}))
	t.Cleanup(ts.Close)
	return ts, received
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("クライアントが正常に生成されること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080/")
		if client == nil {
			t.Fatal("New()がnilを返した")
		}
		if client.baseURL != "http://localhost:8080" {
			t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:8080")
		}
		if client.httpClient == nil {
			t.Fatal("httpClientがnil")
		}
	})

	t.Run("タイムアウトが30秒に設定されていること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", client.httpClient.Timeout)
		}
	})

	t.Run("オプションでタイムアウトを変更できること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080", WithTimeout(5*time.Second))
		if client.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", client.httpClient.Timeout)
		}
	})
}

// TestPostJSON はPostJSON関数を検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にPOSTリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		ts, received := newRecordingServer(t, http.StatusCreated, testPayload{Name: "response", Value: 200})

		client := New(ts.URL)
		var result testPayload
		err := client.PostJSON(context.Background(), "/api/v1/test", testPayload{Name: "request", Value: 100}, &result)
		if err != nil {
			t.Fatalf("PostJSON() error = %v", err)
		}

		if received.Method != http.MethodPost {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodPost)
		}
		if received.Path != "/api/v1/test" {
			t.Errorf("Path = %q, want %q", received.Path, "/api/v1/test")
		}
		if ct := received.Headers.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want %q", ct, "application/json")
		}

		var sent testPayload
		if err := json.Unmarshal(received.Body, &sent); err != nil {
			t.Fatalf("リクエストボディのデシリアライズに失敗: %v", err)
		}
		if sent.Name != "request" || sent.Value != 100 {
			t.Errorf("送信ボディ = %+v", sent)
		}
		if result.Name != "response" || result.Value != 200 {
			t.Errorf("レスポンス = %+v", result)
		}
	})

	t.Run("resultがnilの場合もエラーにならないこと", func(t *testing.T) {
		t.Parallel()

		ts, _ := newRecordingServer(t, http.StatusOK, testPayload{Name: "ignored"})

		client := New(ts.URL)
		if err := client.PostJSON(context.Background(), "/test", testPayload{}, nil); err != nil {
			t.Fatalf("PostJSON() error = %v", err)
		}
	})
}

// TestPatchJSON はPatchJSON関数を検証する。
func TestPatchJSON(t *testing.T) {
	t.Parallel()

	t.Run("PATCHリクエストを送信できること", func(t *testing.T) {
		t.Parallel()

		ts, received := newRecordingServer(t, http.StatusOK, testPayload{Name: "patched", Value: 7})

		client := New(ts.URL)
		var result testPayload
		if err := client.PatchJSON(context.Background(), "/api/v1/books/1/stock", map[string]int{"quantity": -2}, &result); err != nil {
			t.Fatalf("PatchJSON() error = %v", err)
		}
		if received.Method != http.MethodPatch {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodPatch)
		}
		if string(received.Body) != `{"quantity":-2}` {
			t.Errorf("Body = %s", received.Body)
		}
		if result.Value != 7 {
			t.Errorf("Value = %d, want 7", result.Value)
		}
	})
}

// TestGetJSON はGetJSON関数を検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にGETリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		ts, received := newRecordingServer(t, http.StatusOK, testPayload{Name: "book", Value: 1})

		client := New(ts.URL)
		var result testPayload
		if err := client.GetJSON(context.Background(), "/api/v1/books/1", &result); err != nil {
			t.Fatalf("GetJSON() error = %v", err)
		}
		if received.Method != http.MethodGet {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodGet)
		}
		if len(received.Body) != 0 {
			t.Errorf("GETリクエストにボディがある: %s", received.Body)
		}
		if ct := received.Headers.Get("Content-Type"); ct != "" {
			t.Errorf("GETリクエストにContent-Typeが設定されている: %q", ct)
		}
		if result.Name != "book" {
			t.Errorf("Name = %q, want %q", result.Name, "book")
		}
	})

	t.Run("不正なJSONレスポンスの場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload
		if err := client.GetJSON(context.Background(), "/", &result); err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("接続できない場合はStatusErrorではないエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		client := New(url)
		err := client.GetJSON(context.Background(), "/", nil)
		if err == nil {
			t.Fatal("エラーが返されなかった")
		}
		if code := StatusCode(err); code != 0 {
			t.Errorf("StatusCode() = %d, want 0", code)
		}
	})
}

// TestCall はCallで任意のメソッドを送れることを検証する。
func TestCall(t *testing.T) {
	t.Parallel()

	ts, received := newRecordingServer(t, http.StatusOK, testPayload{Name: "deleted"})

	client := New(ts.URL, WithHTTPClient(&http.Client{Timeout: time.Second}))
	if err := client.Call(context.Background(), http.MethodDelete, "/api/v1/reviews/1", nil, nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if received.Method != http.MethodDelete || received.Path != "/api/v1/reviews/1" {
		t.Errorf("リクエスト = %s %s", received.Method, received.Path)
	}
	if got := received.Headers.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
}

// TestStatusError は2xx以外のレスポンスがStatusErrorになることを検証する。
func TestStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        any
		wantMessage string
	}{
		{
			name:        "errorフィールドをメッセージとして取り出すこと",
			status:      http.StatusNotFound,
			body:        map[string]string{"error": "Book not found"},
			wantMessage: "Book not found",
		},
		{
			name:        "detailフィールドをメッセージとして取り出すこと",
			status:      http.StatusBadRequest,
			body:        map[string]string{"detail": "Insufficient stock"},
			wantMessage: "Insufficient stock",
		},
		{
			name:        "JSONでない場合はボディをそのまま使うこと",
			status:      http.StatusInternalServerError,
			body:        "boom",
			wantMessage: `"boom"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts, _ := newRecordingServer(t, tt.status, tt.body)

			client := New(ts.URL)
			err := client.GetJSON(context.Background(), "/", nil)

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("StatusErrorではない: %v", err)
			}
			if se.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", se.StatusCode, tt.status)
			}
			if se.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", se.Message, tt.wantMessage)
			}
			if StatusCode(err) != tt.status {
				t.Errorf("StatusCode() = %d, want %d", StatusCode(err), tt.status)
			}
		})
	}
}

// TestHeaders はヘッダーの付与と伝播を検証する。
func TestHeaders(t *testing.T) {
	t.Parallel()

	t.Run("WithHeaderで指定したヘッダーが全リクエストに付与されること", func(t *testing.T) {
		t.Parallel()

		ts, received := newRecordingServer(t, http.StatusOK, nil)

		client := New(ts.URL, WithHeader("X-Internal-Secret", "s3cret"))
		if err := client.GetJSON(context.Background(), "/", nil); err != nil {
			t.Fatalf("GetJSON() error = %v", err)
		}
		if got := received.Headers.Get("X-Internal-Secret"); got != "s3cret" {
			t.Errorf("X-Internal-Secret = %q, want %q", got, "s3cret")
		}
	})

	t.Run("コンテキストのリクエストIDが伝播されること", func(t *testing.T) {
		t.Parallel()

		ts, received := newRecordingServer(t, http.StatusOK, nil)

		client := New(ts.URL)
		ctx := WithRequestID(context.Background(), "req-123")
		if err := client.PostJSON(ctx, "/", testPayload{}, nil); err != nil {
			t.Fatalf("PostJSON() error = %v", err)
		}
		if got := received.Headers.Get("X-Request-ID"); got != "req-123" {
			t.Errorf("X-Request-ID = %q, want %q", got, "req-123")
		}
	})

	t.Run("リクエストIDがない場合はヘッダーを付与しないこと", func(t *testing.T) {
		t.Parallel()

		ts, received := newRecordingServer(t, http.StatusOK, nil)

		client := New(ts.URL)
		if err := client.GetJSON(context.Background(), "/", nil); err != nil {
			t.Fatalf("GetJSON() error = %v", err)
		}
		if got := received.Headers.Get("X-Request-ID"); got != "" {
			t.Errorf("X-Request-ID = %q, want empty", got)
		}
	})
}
