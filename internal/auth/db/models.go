package db

import (
	"database/sql"
	"time"
)

// User はusersテーブルの行。
type User struct {
	ID             string
	Email          string
	Username       string
	HashedPassword string
	FullName       sql.NullString
	IsActive       bool
	IsAdmin        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RefreshToken はrefresh_tokensテーブルの行。
type RefreshToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
