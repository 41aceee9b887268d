package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/bookhub/pkg/httpclient"
)

// headerInternalSecret はカタログサービスの内部APIに共有シークレットを渡すヘッダー。
const headerInternalSecret = "X-Internal-Secret"

var (
	// ErrBookNotFound は書籍が存在しない場合のエラー。
	ErrBookNotFound = errors.New("book not found")
	// ErrInsufficientStock は在庫が不足している場合のエラー。
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCatalogUnavailable はカタログサービスに到達できない場合のエラー。
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// Book は注文に必要な書籍情報。
type Book struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Price         float64 `json:"price"`
	StockQuantity int64   `json:"stock_quantity"`
}

// Catalog は注文サービスが使用するカタログサービスの操作。
type Catalog interface {
	// GetBook は書籍を取得する。
	GetBook(ctx context.Context, id string) (*Book, error)
	// AdjustStock は在庫を増減する。changeが負の場合は引き当て、正の場合は戻す。
	AdjustStock(ctx context.Context, id string, change int64) error
}

// HTTPCatalog はHTTPでカタログサービスを呼び出す。
type HTTPCatalog struct {
	client *httpclient.Client
}

// NewHTTPCatalog はカタログサービスのクライアントを生成する。
// baseURLはカタログサービスのベースURL、secretは在庫増減APIの共有シークレット。
func NewHTTPCatalog(baseURL, secret string, opts ...httpclient.Option) *HTTPCatalog {
	opts = append([]httpclient.Option{httpclient.WithHeader(headerInternalSecret, secret)}, opts...)
	return &HTTPCatalog{client: httpclient.New(baseURL, opts...)}
}

// GetBook は書籍を取得する。
func (c *HTTPCatalog) GetBook(ctx context.Context, id string) (*Book, error) {
	var b Book
	if err := c.client.GetJSON(ctx, "/api/v1/books/"+url.PathEscape(id), &b); err != nil {
		return nil, catalogError(id, err)
	}
	return &b, nil
}

// AdjustStock は在庫を増減する。
func (c *HTTPCatalog) AdjustStock(ctx context.Context, id string, change int64) error {
	body := map[string]int64{"quantity_change": change}
	if err := c.client.PatchJSON(ctx, "/api/v1/books/"+url.PathEscape(id)+"/stock", body, nil); err != nil {
		return catalogError(id, err)
	}
	return nil
}

// catalogError はカタログサービスのエラーを注文サービスのエラーに変換する。
func catalogError(bookID string, err error) error {
	switch httpclient.StatusCode(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInsufficientStock, bookID)
	default:
		return fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, bookID, err)
	}
}
