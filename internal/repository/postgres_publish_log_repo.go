package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pressroom/internal/model"
)

// PostgresPublishLogRepo はPostgreSQLを使用した公開ログリポジトリ。
type PostgresPublishLogRepo struct {
	db *sql.DB
}

// NewPostgresPublishLogRepo はPostgresPublishLogRepoを生成する。
func NewPostgresPublishLogRepo(db *sql.DB) *PostgresPublishLogRepo {
	return &PostgresPublishLogRepo{db: db}
}

// Create は監査ログを1件追加し、採番されたIDと作成日時をlogに設定する。
func (r *PostgresPublishLogRepo) Create(ctx context.Context, log *model.PublishLog) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO publish_logs (article_id, step, success, detail)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		log.ArticleID, string(log.Step), log.Success, log.Detail,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("公開ログの保存に失敗しました: %w", err)
	}
	return nil
}

// ListByArticle は記事の監査ログを新しい順に最大limit件返す。
func (r *PostgresPublishLogRepo) ListByArticle(ctx context.Context, articleID int64, limit int) ([]*model.PublishLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, article_id, step, success, detail, created_at
		 FROM publish_logs
		 WHERE article_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		articleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("公開ログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var logs []*model.PublishLog
	for rows.Next() {
		l := &model.PublishLog{}
		var step string
		if err := rows.Scan(&l.ID, &l.ArticleID, &step, &l.Success, &l.Detail, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("公開ログの読み取りに失敗しました: %w", err)
		}
		l.Step = model.PublishStep(step)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公開ログのイテレーションに失敗しました: %w", err)
	}
	return logs, nil
}
