package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const bookColumns = `id, title, author, isbn, description, price, stock_quantity, category, publisher, published_date, created_at, updated_at`

// scanBook は1行をBookに読み込む。
func scanBook(row interface{ Scan(...any) error }) (Book, error) {
	var b Book
	err := row.Scan(
		&b.ID,
		&b.Title,
		&b.Author,
		&b.ISBN,
		&b.Description,
		&b.Price,
		&b.StockQuantity,
		&b.Category,
		&b.Publisher,
		&b.PublishedDate,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

const createBook = `
INSERT INTO books (` + bookColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// CreateBook は書籍を作成する。
func (q *Queries) CreateBook(ctx context.Context, b Book) error {
	_, err := q.db.ExecContext(ctx, createBook,
		b.ID,
		b.Title,
		b.Author,
		b.ISBN,
		b.Description,
		b.Price,
		b.StockQuantity,
		b.Category,
		b.Publisher,
		b.PublishedDate,
		b.CreatedAt,
		b.UpdatedAt,
	)
	return err
}

const getBook = `SELECT ` + bookColumns + ` FROM books WHERE id = ?`

// GetBook はIDで書籍を取得する。
func (q *Queries) GetBook(ctx context.Context, id string) (Book, error) {
	return scanBook(q.db.QueryRowContext(ctx, getBook, id))
}

const updateBook = `
UPDATE books
SET title = ?, author = ?, isbn = ?, description = ?, price = ?, stock_quantity = ?,
    category = ?, publisher = ?, published_date = ?, updated_at = ?
WHERE id = ?
`

// UpdateBook は書籍の全項目を更新する。
func (q *Queries) UpdateBook(ctx context.Context, b Book) error {
	_, err := q.db.ExecContext(ctx, updateBook,
		b.Title,
		b.Author,
		b.ISBN,
		b.Description,
		b.Price,
		b.StockQuantity,
		b.Category,
		b.Publisher,
		b.PublishedDate,
		b.UpdatedAt,
		b.ID,
	)
	return err
}

const deleteBook = `DELETE FROM books WHERE id = ?`

// DeleteBook は書籍を削除し、削除した件数を返す。
func (q *Queries) DeleteBook(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteBook, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const adjustStock = `
UPDATE books
SET stock_quantity = stock_quantity + ?, updated_at = ?
WHERE id = ? AND stock_quantity + ? >= 0
`

// AdjustStockParams はAdjustStockの引数。
type AdjustStockParams struct {
	ID        string
	Change    int64
	UpdatedAt time.Time
}

// AdjustStock は在庫数を増減する。在庫が負になる場合は更新せず0を返す。
// 判定と更新は1つのUPDATE文で行う。
func (q *Queries) AdjustStock(ctx context.Context, arg AdjustStockParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, adjustStock, arg.Change, arg.UpdatedAt, arg.ID, arg.Change)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SortColumn は一覧の並び替えに使用できる列。
type SortColumn string

const (
	// SortByTitle はタイトル順。
	SortByTitle SortColumn = "title"
	// SortByPrice は価格順。
	SortByPrice SortColumn = "price"
	// SortByPublishedDate は出版日順。
	SortByPublishedDate SortColumn = "published_date"
)

// BookFilter は書籍一覧の絞り込み条件。空の項目は条件にしない。
type BookFilter struct {
	// Category はカテゴリ名の部分一致。
	Category string
	// Author は著者名の部分一致。
	Author string
	// Search はタイトルまたは説明の部分一致。
	Search string
	// MinPrice は価格の下限。
	MinPrice sql.NullFloat64
	// MaxPrice は価格の上限。
	MaxPrice sql.NullFloat64
}

// likePattern は部分一致用のLIKEパターンを返す。ワイルドカードはエスケープする。
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// where はWHERE句と引数を組み立てる。
func (f BookFilter) where() (string, []any) {
	var conds []string
	var args []any

	if f.Category != "" {
		conds = append(conds, `category LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.Category))
	}
	if f.Author != "" {
		conds = append(conds, `author LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.Author))
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		conds = append(conds, `(title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`)
		args = append(args, p, p)
	}
	if f.MinPrice.Valid {
		conds = append(conds, "price >= ?")
		args = append(args, f.MinPrice.Float64)
	}
	if f.MaxPrice.Valid {
		conds = append(conds, "price <= ?")
		args = append(args, f.MaxPrice.Float64)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CountBooks は条件に一致する書籍数を返す。
func (q *Queries) CountBooks(ctx context.Context, f BookFilter) (int64, error) {
	where, args := f.where()
	var n int64
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM books"+where, args...).Scan(&n)
	return n, err
}

// ListBooksParams はListBooksの引数。
type ListBooksParams struct {
	Filter BookFilter
	SortBy SortColumn
	Desc   bool
	Limit  int
	Offset int
}

// ListBooks は条件に一致する書籍を並び替えて返す。
func (q *Queries) ListBooks(ctx context.Context, arg ListBooksParams) ([]Book, error) {
	switch arg.SortBy {
	case SortByTitle, SortByPrice, SortByPublishedDate:
	default:
		return nil, fmt.Errorf("並び替えできない列です: %q", arg.SortBy)
	}
	order := "ASC"
	if arg.Desc {
		order = "DESC"
	}

	where, args := arg.Filter.where()
	query := "SELECT " + bookColumns + " FROM books" + where +
		fmt.Sprintf(" ORDER BY %s %s, id ASC LIMIT ? OFFSET ?", arg.SortBy, order)
	args = append(args, arg.Limit, arg.Offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
