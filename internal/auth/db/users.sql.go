package db

import (
	"context"
	"database/sql"
	"time"
)

const userColumns = `id, email, username, hashed_password, full_name, is_active, is_admin, created_at, updated_at`

// scanUser は1行をUserに読み込む。
func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.HashedPassword,
		&u.FullName,
		&u.IsActive,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

const createUser = `
INSERT INTO users (id, email, username, hashed_password, full_name, is_active, is_admin, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
`

// CreateUserParams はCreateUserの引数。
type CreateUserParams struct {
	ID             string
	Email          string
	Username       string
	HashedPassword string
	FullName       sql.NullString
	IsAdmin        bool
	CreatedAt      time.Time
}

// CreateUser はユーザーを作成する。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser,
		arg.ID,
		arg.Email,
		arg.Username,
		arg.HashedPassword,
		arg.FullName,
		arg.IsAdmin,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = ?`

// GetUserByID はIDでユーザーを取得する。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByID, id))
}

const getUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = ?`

// GetUserByEmail はメールアドレスでユーザーを取得する。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByEmail, email))
}

const getUserByUsername = `SELECT ` + userColumns + ` FROM users WHERE username = ?`

// GetUserByUsername はユーザー名でユーザーを取得する。
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByUsername, username))
}

const setUserActive = `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`

// SetUserActiveParams はSetUserActiveの引数。
type SetUserActiveParams struct {
	IsActive  bool
	UpdatedAt time.Time
	ID        string
}

// SetUserActive はアカウントの有効/無効を切り替える。
func (q *Queries) SetUserActive(ctx context.Context, arg SetUserActiveParams) error {
	_, err := q.db.ExecContext(ctx, setUserActive, arg.IsActive, arg.UpdatedAt, arg.ID)
	return err
}
