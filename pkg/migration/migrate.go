// Package migration はサービスごとのSQLiteスキーマを管理する。
//
// 各サービスは migrations/NNNNNN_name.up.sql を embed.FS に埋め込み、起動時に
// OpenSQLite を通して、記録済みの最大番号より新しいものだけを番号順に流す。適用した番号と名前は
// schema_migrations テーブルに残る。down.sql は読み込まない。
package migration

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"

	"go.uber.org/zap"
)

// fileName はマイグレーションとして扱うファイル名。
var fileName = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_]+)\.up\.sql$`)

// Migration は1つのスキーマ変更。
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Load はfsysのdir直下からマイグレーションを読み込み、番号順に返す。
// 名前の形式に合わないファイルは無視し、番号が重複していればエラーにする。
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("%s を読み込めません: %w", dir, err)
	}

	byVersion := make(map[int]string, len(entries))
	var out []Migration
	for _, entry := range entries {
		m := fileName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%s の番号を解釈できません: %w", entry.Name(), err)
		}
		if prev, ok := byVersion[version]; ok {
			return nil, fmt.Errorf("番号 %d が %s と %s で重複しています", version, prev, entry.Name())
		}
		byVersion[version] = entry.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s を読み込めません: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: m[2], SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// Run は未適用のマイグレーションを番号順に適用し、今回適用したものを返す。
// 途中で失敗した場合は、それまでに適用したものとエラーを返す。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, logger *zap.Logger) ([]Migration, error) {
	pending, err := Load(fsys, dir)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	)`); err != nil {
		return nil, fmt.Errorf("schema_migrations を作成できません: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return nil, fmt.Errorf("適用済みの番号を取得できません: %w", err)
	}

	var applied []Migration
	for _, m := range pending {
		if m.Version <= current {
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return applied, fmt.Errorf("マイグレーション %d_%s: %w", m.Version, m.Name, err)
		}
		applied = append(applied, m)
		logger.Info("マイグレーションを適用しました", zap.Int("version", m.Version), zap.String("name", m.Name))
	}
	return applied, nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
