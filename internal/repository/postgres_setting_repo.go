package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresSettingRepo はPostgreSQLを使用した設定リポジトリ。
type PostgresSettingRepo struct {
	db *sql.DB
}

// NewPostgresSettingRepo はPostgresSettingRepoを生成する。
func NewPostgresSettingRepo(db *sql.DB) *PostgresSettingRepo {
	return &PostgresSettingRepo{db: db}
}

// ListByService は指定サービスの設定を key → value で返す。
// 返却するキーからは "service." の接頭辞を取り除く。
func (r *PostgresSettingRepo) ListByService(ctx context.Context, service string) (map[string]string, error) {
	prefix := service + "."
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE key LIKE $1 || '%'`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("設定の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("設定の読み取りに失敗しました: %w", err)
		}
		values[strings.TrimPrefix(key, prefix)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("設定のイテレーションに失敗しました: %w", err)
	}
	return values, nil
}

// Upsert は設定値を作成または更新する。
func (r *PostgresSettingRepo) Upsert(ctx context.Context, service, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		service+"."+key, value,
	)
	if err != nil {
		return fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	return nil
}
