package auth

import (
	"context"
	"database/sql"
	"embed"

	"go.uber.org/zap"

	"github.com/nao1215/bookhub/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// OpenDB はデータベースを開き、認証サービスのマイグレーションを適用する。
func OpenDB(ctx context.Context, path string, logger *zap.Logger) (*sql.DB, error) {
	return migration.OpenSQLite(ctx, path, migrations, "migrations", logger)
}
