package db

import (
	"database/sql"
	"time"
)

// Review はreviewsテーブルの行。
type Review struct {
	ID        string
	BookID    string
	UserID    string
	Username  string
	Rating    int64
	Title     sql.NullString
	Comment   sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RatingCount は評価ごとのレビュー数。
type RatingCount struct {
	Rating int64
	Count  int64
}
