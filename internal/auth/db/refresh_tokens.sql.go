package db

import (
	"context"
	"time"
)

const createRefreshToken = `
INSERT INTO refresh_tokens (token_hash, user_id, expires_at, created_at)
VALUES (?, ?, ?, ?)
`

// CreateRefreshTokenParams はCreateRefreshTokenの引数。
type CreateRefreshTokenParams struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CreateRefreshToken はリフレッシュトークンを保存する。
func (q *Queries) CreateRefreshToken(ctx context.Context, arg CreateRefreshTokenParams) error {
	_, err := q.db.ExecContext(ctx, createRefreshToken, arg.TokenHash, arg.UserID, arg.ExpiresAt, arg.CreatedAt)
	return err
}

const getRefreshToken = `
SELECT token_hash, user_id, expires_at, created_at
FROM refresh_tokens
WHERE token_hash = ?
`

// GetRefreshToken はハッシュでリフレッシュトークンを取得する。
func (q *Queries) GetRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var t RefreshToken
	err := q.db.QueryRowContext(ctx, getRefreshToken, tokenHash).Scan(
		&t.TokenHash,
		&t.UserID,
		&t.ExpiresAt,
		&t.CreatedAt,
	)
	return t, err
}

const deleteRefreshToken = `DELETE FROM refresh_tokens WHERE token_hash = ?`

// DeleteRefreshToken はリフレッシュトークンを削除し、削除した件数を返す。
func (q *Queries) DeleteRefreshToken(ctx context.Context, tokenHash string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRefreshToken, tokenHash)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteExpiredRefreshTokens = `DELETE FROM refresh_tokens WHERE expires_at <= ?`

// DeleteExpiredRefreshTokens は期限切れのリフレッシュトークンを削除する。
func (q *Queries) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpiredRefreshTokens, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
