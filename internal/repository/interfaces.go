// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/pressroom/internal/model"
)

var (
	// ErrAlreadyPublished は公開済み（または存在しない）記事に対して公開更新を行ったことを示す。
	ErrAlreadyPublished = errors.New("記事は既に公開済みです")

	// ErrNotPublished は公開済みでない記事に対して再公開操作を行ったことを示す。
	ErrNotPublished = errors.New("記事は公開されていません")

	// ErrExternalIDConflict は既に別のリモートIDを持つ記事にIDを設定しようとしたことを示す。
	ErrExternalIDConflict = errors.New("記事には既に別のリモートIDが設定されています")
)

// ArticleRepository は記事データの永続化インターフェース。
// 記事の作成と削除はCRUD層の責務であり、ここでは公開処理に必要な操作のみを提供する。
type ArticleRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Article, error)

	// ListUnpublished は未公開の記事をID順に返す。
	// スケジューラの候補一覧として使われ、期日判定は呼び出し側で行う。
	ListUnpublished(ctx context.Context) ([]*model.Article, error)

	// ListPublishedWithoutExternalID はリモートレコードを持たない公開済み記事を返す。
	ListPublishedWithoutExternalID(ctx context.Context, limit int) ([]*model.Article, error)

	// ListExternalIDs はリモートIDを持つ全記事の externalID → 記事ID の対応を返す。
	ListExternalIDs(ctx context.Context) (map[string]int64, error)

	// MarkPublished は記事を公開済みに更新し、更新後の記事を返す。
	// published_at は未設定の場合のみ now で埋める。
	// 既に公開済みの場合は ErrAlreadyPublished を返し、何も更新しない。
	MarkPublished(ctx context.Context, id int64, now time.Time) (*model.Article, error)

	// SetExternalID はリモートIDを保存する。
	// 同じ値の再設定は成功し、異なる値での上書きは ErrExternalIDConflict を返す。
	SetExternalID(ctx context.Context, id int64, externalID string) error

	// UpdateSocialPost はSNS投稿のメディアIDと投稿日時を保存する。
	UpdateSocialPost(ctx context.Context, id int64, mediaID string, postedAt time.Time) error

	// MarkRepublished は公開済み記事を下書きに戻し republished フラグを立てる。
	// published_at は変更しない。公開済みでない場合は ErrNotPublished を返す。
	MarkRepublished(ctx context.Context, id int64) (*model.Article, error)

	// ClearRepublished は republished フラグを解除する。
	ClearRepublished(ctx context.Context, id int64) (*model.Article, error)
}

// SettingRepository は外部連携設定（settingsテーブル）の永続化インターフェース。
// キーは "service.key" 形式で保存する。
type SettingRepository interface {
	// ListByService は指定サービスの設定を key → value で返す。
	ListByService(ctx context.Context, service string) (map[string]string, error)

	// Upsert は設定値を作成または更新する。
	Upsert(ctx context.Context, service, key, value string) error
}

// PublishLogRepository は公開副作用の監査ログの永続化インターフェース。
type PublishLogRepository interface {
	// Create は監査ログを1件追加する。
	Create(ctx context.Context, log *model.PublishLog) error

	// ListByArticle は記事の監査ログを新しい順に最大limit件返す。
	ListByArticle(ctx context.Context, articleID int64, limit int) ([]*model.PublishLog, error)
}
