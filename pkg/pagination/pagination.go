// Package pagination はCRUDサービスで共通して使用するページ指定の解析とページ計算を提供する。
package pagination

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultPage はpage未指定時のページ番号。
	DefaultPage = 1
	// DefaultLimit はlimit未指定時の1ページあたりの件数。
	DefaultLimit = 20
	// MaxLimit は1ページあたりの最大件数。
	MaxLimit = 100
)

// ErrInvalidParams はページ指定が不正な場合のエラー。
var ErrInvalidParams = errors.New("ページ指定が不正です")

// Params はページ指定。
type Params struct {
	// Page は1始まりのページ番号。
	Page int
	// Limit は1ページあたりの件数。
	Limit int
}

// Offset はSQLのOFFSETに指定する値を返す。
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Parse はクエリ文字列の値からページ指定を解析する。
// 空文字列はデフォルト値として扱う。pageは1以上、limitは1以上MaxLimit以下である必要がある。
func Parse(page, limit string) (Params, error) {
	p := Params{Page: DefaultPage, Limit: DefaultLimit}

	if page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			return Params{}, fmt.Errorf("%w: page=%q", ErrInvalidParams, page)
		}
		p.Page = n
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > MaxLimit {
			return Params{}, fmt.Errorf("%w: limit=%q", ErrInvalidParams, limit)
		}
		p.Limit = n
	}
	return p, nil
}

// FromQuery はginのクエリパラメータ "page" と "limit" からページ指定を解析する。
func FromQuery(c *gin.Context) (Params, error) {
	return Parse(c.Query("page"), c.Query("limit"))
}

// Pages は総件数とlimitから総ページ数を返す。
func Pages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// Page は一覧APIのレスポンス。
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// NewPage は取得した要素と総件数からレスポンスを組み立てる。
// itemsがnilの場合も空配列としてシリアライズされる。
func NewPage[T any](items []T, total int64, p Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items: items,
		Total: total,
		Page:  p.Page,
		Limit: p.Limit,
		Pages: Pages(total, p.Limit),
	}
}
