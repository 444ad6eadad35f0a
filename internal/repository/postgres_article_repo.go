package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/pressroom/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反エラーコード。
const uniqueViolation = "23505"

const articleColumns = `id, external_id, status, finished, republished,
		        scheduled_at, published_at, title, body, description, hashtags,
		        featured, image_path, social_image_path, author, source,
		        social_media_id, social_published_at, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// scanArticle は1行分の記事を読み取る。
func scanArticle(s rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var externalID, imagePath, socialImagePath, socialMediaID sql.NullString
	var scheduledAt, publishedAt, socialPublishedAt sql.NullTime
	var status, source string

	if err := s.Scan(
		&a.ID, &externalID, &status, &a.Finished, &a.Republished,
		&scheduledAt, &publishedAt, &a.Title, &a.Body, &a.Description, &a.Hashtags,
		&a.Featured, &imagePath, &socialImagePath, &a.Author, &source,
		&socialMediaID, &socialPublishedAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Status = model.ArticleStatus(status)
	a.Source = model.ArticleSource(source)
	a.ExternalID = nullStringValue(externalID)
	a.ImagePath = nullStringValue(imagePath)
	a.SocialImagePath = nullStringValue(socialImagePath)
	a.SocialMediaID = nullStringValue(socialMediaID)
	a.ScheduledAt = nullTimePtr(scheduledAt)
	a.PublishedAt = nullTimePtr(publishedAt)
	a.SocialPublishedAt = nullTimePtr(socialPublishedAt)

	return a, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id int64) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+`
		 FROM articles WHERE id = $1`,
		id,
	)

	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return a, nil
}

// ListUnpublished は未公開の記事をID順に返す。
func (r *PostgresArticleRepo) ListUnpublished(ctx context.Context) ([]*model.Article, error) {
	return r.list(ctx, "未公開記事",
		`SELECT `+articleColumns+`
		 FROM articles
		 WHERE status <> 'published'
		 ORDER BY id ASC`,
	)
}

// ListPublishedWithoutExternalID はリモートレコードを持たない公開済み記事を返す。
func (r *PostgresArticleRepo) ListPublishedWithoutExternalID(ctx context.Context, limit int) ([]*model.Article, error) {
	return r.list(ctx, "リモート未登録の公開済み記事",
		`SELECT `+articleColumns+`
		 FROM articles
		 WHERE status = 'published' AND external_id IS NULL
		 ORDER BY published_at DESC NULLS LAST
		 LIMIT $1`,
		limit,
	)
}

func (r *PostgresArticleRepo) list(ctx context.Context, label, query string, args ...any) ([]*model.Article, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗しました: %w", label, err)
	}
	defer rows.Close()

	var articles []*model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("%sの読み取りに失敗しました: %w", label, err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%sのイテレーションに失敗しました: %w", label, err)
	}
	return articles, nil
}

// ListExternalIDs はリモートIDを持つ全記事の externalID → 記事ID の対応を返す。
func (r *PostgresArticleRepo) ListExternalIDs(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT external_id, id FROM articles WHERE external_id IS NOT NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("リモートIDの一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var externalID string
		var id int64
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, fmt.Errorf("リモートIDの読み取りに失敗しました: %w", err)
		}
		ids[externalID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リモートIDのイテレーションに失敗しました: %w", err)
	}
	return ids, nil
}

// MarkPublished は記事を公開済みに更新し、更新後の記事を返す。
// status <> 'published' を条件にした単一のUPDATEで、二重公開と published_at の上書きを防ぐ。
// 再公開待ちの記事を直接公開した場合は republished も同じUPDATEで解除する。
func (r *PostgresArticleRepo) MarkPublished(ctx context.Context, id int64, now time.Time) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE articles
		 SET status = 'published', finished = true, republished = false,
		     published_at = COALESCE(published_at, $2), updated_at = $2
		 WHERE id = $1 AND status <> 'published'
		 RETURNING `+articleColumns,
		id, now,
	)

	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, ErrAlreadyPublished
	}
	if err != nil {
		return nil, fmt.Errorf("記事の公開状態の更新に失敗しました: %w", err)
	}
	return a, nil
}

// SetExternalID はリモートIDを保存する。
// external_id が未設定または同じ値の場合のみ更新する。
func (r *PostgresArticleRepo) SetExternalID(ctx context.Context, id int64, externalID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET external_id = $2, updated_at = now()
		 WHERE id = $1 AND (external_id IS NULL OR external_id = $2)`,
		id, externalID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("リモートID %s は別の記事で使用されています: %w", externalID, ErrExternalIDConflict)
		}
		return fmt.Errorf("リモートIDの保存に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("リモートIDの保存結果の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("記事 %d のリモートIDを上書きできません: %w", id, ErrExternalIDConflict)
	}
	return nil
}

// UpdateSocialPost はSNS投稿のメディアIDと投稿日時を保存する。
func (r *PostgresArticleRepo) UpdateSocialPost(ctx context.Context, id int64, mediaID string, postedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE articles SET social_media_id = $2, social_published_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, nullString(mediaID), postedAt,
	)
	if err != nil {
		return fmt.Errorf("SNS投稿情報の保存に失敗しました: %w", err)
	}
	return nil
}

// MarkRepublished は公開済み記事を下書きに戻し republished フラグを立てる。
func (r *PostgresArticleRepo) MarkRepublished(ctx context.Context, id int64) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE articles SET status = 'draft', republished = true, updated_at = now()
		 WHERE id = $1 AND status = 'published'
		 RETURNING `+articleColumns,
		id,
	)

	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotPublished
	}
	if err != nil {
		return nil, fmt.Errorf("記事の再公開設定に失敗しました: %w", err)
	}
	return a, nil
}

// ClearRepublished は republished フラグを解除する。記事が存在しない場合はnilを返す。
func (r *PostgresArticleRepo) ClearRepublished(ctx context.Context, id int64) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE articles SET republished = false, updated_at = now()
		 WHERE id = $1
		 RETURNING `+articleColumns,
		id,
	)

	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("再公開フラグの解除に失敗しました: %w", err)
	}
	return a, nil
}
