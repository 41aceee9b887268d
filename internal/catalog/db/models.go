package db

import (
	"database/sql"
	"time"
)

// Category はcategoriesテーブルの行。
type Category struct {
	ID          string
	Name        string
	Description sql.NullString
	CreatedAt   time.Time
}

// CategoryWithCount は書籍数を含むカテゴリ。
type CategoryWithCount struct {
	Category
	BookCount int64
}

// Book はbooksテーブルの行。
type Book struct {
	ID            string
	Title         string
	Author        string
	ISBN          string
	Description   sql.NullString
	Price         float64
	StockQuantity int64
	Category      sql.NullString
	Publisher     sql.NullString
	PublishedDate sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
