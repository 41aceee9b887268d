package pagination

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestParse はページ指定の解析を検証する。
func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		page    string
		limit   string
		want    Params
		wantErr bool
	}{
		{name: "未指定の場合はデフォルト値を使うこと", want: Params{Page: 1, Limit: 20}},
		{name: "指定した値を使うこと", page: "3", limit: "50", want: Params{Page: 3, Limit: 50}},
		{name: "limitは上限値まで指定できること", limit: "100", want: Params{Page: 1, Limit: 100}},
		{name: "pageが0の場合はエラー", page: "0", wantErr: true},
		{name: "pageが負の場合はエラー", page: "-1", wantErr: true},
		{name: "pageが数値でない場合はエラー", page: "abc", wantErr: true},
		{name: "limitが0の場合はエラー", limit: "0", wantErr: true},
		{name: "limitが上限を超える場合はエラー", limit: "101", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.page, tt.limit)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidParams) {
					t.Errorf("Parse() error = %v, want ErrInvalidParams", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// TestFromQuery はginのクエリパラメータからの解析を検証する。
func TestFromQuery(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/books?page=2&limit=10", nil)

	got, err := FromQuery(c)
	if err != nil {
		t.Fatalf("FromQuery() error = %v", err)
	}
	if got.Page != 2 || got.Limit != 10 {
		t.Errorf("FromQuery() = %+v", got)
	}
	if got.Offset() != 10 {
		t.Errorf("Offset() = %d, want 10", got.Offset())
	}
}

// TestPages は総ページ数の計算を検証する。
func TestPages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total int64
		limit int
		want  int
	}{
		{total: 0, limit: 20, want: 0},
		{total: 1, limit: 20, want: 1},
		{total: 20, limit: 20, want: 1},
		{total: 21, limit: 20, want: 2},
		{total: 5, limit: 0, want: 0},
	}
	for _, tt := range tests {
		if got := Pages(tt.total, tt.limit); got != tt.want {
			t.Errorf("Pages(%d, %d) = %d, want %d", tt.total, tt.limit, got, tt.want)
		}
	}
}

// TestNewPage はレスポンスの組み立てを検証する。
func TestNewPage(t *testing.T) {
	t.Parallel()

	t.Run("要素がnilの場合は空配列としてシリアライズされること", func(t *testing.T) {
		t.Parallel()

		page := NewPage[string](nil, 0, Params{Page: 1, Limit: 20})
		b, err := json.Marshal(page)
		if err != nil {
			t.Fatalf("json.Marshal() error = %v", err)
		}
		want := `{"items":[],"total":0,"page":1,"limit":20,"pages":0}`
		if string(b) != want {
			t.Errorf("JSON = %s, want %s", b, want)
		}
	})

	t.Run("総ページ数が計算されること", func(t *testing.T) {
		t.Parallel()

		page := NewPage([]int{1, 2}, 42, Params{Page: 3, Limit: 10})
		if page.Pages != 5 {
			t.Errorf("Pages = %d, want 5", page.Pages)
		}
	})
}
