package db

import (
	"context"
	"database/sql"
	"time"
)

const createCategory = `
INSERT INTO categories (id, name, description, created_at)
VALUES (?, ?, ?, ?)
`

// CreateCategoryParams はCreateCategoryの引数。
type CreateCategoryParams struct {
	ID          string
	Name        string
	Description sql.NullString
	CreatedAt   time.Time
}

// CreateCategory はカテゴリを作成する。
func (q *Queries) CreateCategory(ctx context.Context, arg CreateCategoryParams) error {
	_, err := q.db.ExecContext(ctx, createCategory, arg.ID, arg.Name, arg.Description, arg.CreatedAt)
	return err
}

const listCategoriesWithCount = `
SELECT c.id, c.name, c.description, c.created_at, COUNT(b.id) AS book_count
FROM categories c
LEFT JOIN books b ON b.category = c.name
GROUP BY c.id
ORDER BY c.name
`

// ListCategoriesWithCount はカテゴリを書籍数とともに名前順で返す。
func (q *Queries) ListCategoriesWithCount(ctx context.Context) ([]CategoryWithCount, error) {
	rows, err := q.db.QueryContext(ctx, listCategoriesWithCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CategoryWithCount
	for rows.Next() {
		var i CategoryWithCount
		if err := rows.Scan(&i.ID, &i.Name, &i.Description, &i.CreatedAt, &i.BookCount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
