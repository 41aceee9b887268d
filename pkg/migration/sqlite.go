package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryPath はインメモリデータベースを表すパス。
const MemoryPath = ":memory:"

// dsn はパスから接続文字列を組み立てる。
// 外部キー制約を有効にし、ファイルの場合はWALモードとビジータイムアウトを設定する。
func dsn(path string) string {
	pragmas := []string{"_pragma=foreign_keys(1)"}
	if path != MemoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=busy_timeout(5000)")
	}
	return path + "?" + strings.Join(pragmas, "&")
}

// OpenSQLite はSQLiteデータベースを開き、fsysのdirにあるマイグレーションを適用する。
// インメモリの場合は接続ごとに別のデータベースになるため、接続数を1に制限する。
func OpenSQLite(ctx context.Context, path string, fsys fs.FS, dir string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %s: %w", path, err)
	}

	if _, err := Run(ctx, db, fsys, dir, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// IsUniqueViolation はerrがUNIQUE制約違反かどうかを返す。
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// 拡張エラーコードが無効な接続ではメッセージで判定する
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}
