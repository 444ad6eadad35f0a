// Package publish は記事の公開状態の遷移と公開後処理を提供する。
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pressroom/internal/model"
	"github.com/hitoshi/pressroom/internal/repository"
	"github.com/hitoshi/pressroom/internal/social"
	"github.com/hitoshi/pressroom/internal/webhook"
)

// ErrArticleNotFound は指定された記事が存在しないことを示す。
var ErrArticleNotFound = errors.New("記事が見つかりません")

// ArticleStore は公開状態の更新に使う記事の永続化操作。
type ArticleStore interface {
	FindByID(ctx context.Context, id int64) (*model.Article, error)
	MarkPublished(ctx context.Context, id int64, now time.Time) (*model.Article, error)
	MarkRepublished(ctx context.Context, id int64) (*model.Article, error)
	ClearRepublished(ctx context.Context, id int64) (*model.Article, error)
}

// Reconciler はレコードストアとの同期。recordstore.Reconcilerが実装する。
type Reconciler interface {
	Reconcile(ctx context.Context, a *model.Article) *model.Article
	SyncLinkFields(ctx context.Context, a *model.Article) error
}

// Notifier はWebhook通知。webhook.Notifierが実装する。
type Notifier interface {
	Notify(ctx context.Context, action webhook.Action, articleID int64) webhook.Outcome
}

// SocialPoster はSNS投稿。social.Sagaが実装する。
type SocialPoster interface {
	Run(ctx context.Context, a *model.Article) social.Result
}

// PublishLogStore は公開後処理の監査ログの保存先。
type PublishLogStore interface {
	Create(ctx context.Context, log *model.PublishLog) error
}

// MetricsRecorder は公開数のメトリクスを記録する。
type MetricsRecorder interface {
	RecordPublished()
}

// Transition は記事を公開状態に遷移させ、公開後処理を実行する。
// 公開状態の保存が成功した時点で公開は確定し、以降の処理の失敗は公開を取り消さない。
type Transition struct {
	articles   ArticleStore
	reconciler Reconciler
	notifier   Notifier
	poster     SocialPoster
	logs       PublishLogStore
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time
	effects    []SideEffect
}

// NewTransition はTransitionを生成する。
// 公開後処理は Webhook通知、参照フィールド同期、SNS投稿の順に実行される。
func NewTransition(
	articles ArticleStore,
	reconciler Reconciler,
	notifier Notifier,
	poster SocialPoster,
	logs PublishLogStore,
	m MetricsRecorder,
	logger *slog.Logger,
) *Transition {
	t := &Transition{
		articles:   articles,
		reconciler: reconciler,
		notifier:   notifier,
		poster:     poster,
		logs:       logs,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
	t.effects = []SideEffect{
		{Step: model.PublishStepWebhook, Run: t.notifyPublished},
		{Step: model.PublishStepLinkSync, Run: t.syncLinks},
		{Step: model.PublishStepSocial, Run: t.postSocial},
	}
	return t
}

// ReconcileAndPublish はレコードストアと同期してから記事を公開する。
// 同期の失敗は公開を妨げない。
func (t *Transition) ReconcileAndPublish(ctx context.Context, a *model.Article) (*model.Article, []EffectOutcome, error) {
	return t.Publish(ctx, t.reconciler.Reconcile(ctx, a))
}

// Publish は記事を公開済みにし、公開後処理を実行する。
// 公開状態の保存に失敗した場合のみエラーを返す。公開済みの記事には repository.ErrAlreadyPublished を返す。
func (t *Transition) Publish(ctx context.Context, a *model.Article) (*model.Article, []EffectOutcome, error) {
	if a.IsPublished() {
		return nil, nil, fmt.Errorf("記事 %d の公開: %w", a.ID, repository.ErrAlreadyPublished)
	}

	published, err := t.articles.MarkPublished(ctx, a.ID, t.now().UTC())
	if err != nil {
		return nil, nil, fmt.Errorf("記事 %d の公開状態の保存に失敗しました: %w", a.ID, err)
	}

	t.metrics.RecordPublished()
	t.logger.Info("記事を公開しました",
		slog.Int64("article_id", published.ID),
		slog.String("external_id", published.ExternalID),
		slog.Time("published_at", derefTime(published.PublishedAt)),
	)

	// 呼び出し元のキャンセルで公開後処理が中断されないようにする
	effectCtx := context.WithoutCancel(ctx)
	outcomes := make([]EffectOutcome, 0, len(t.effects))
	for _, e := range t.effects {
		outcomes = append(outcomes, t.run(effectCtx, e, published))
	}

	return published, outcomes, nil
}

// Republish は公開済みの記事を下書きに戻し、編集の通知を送る。
// republished の間はスケジューラの公開対象にならない。
func (t *Transition) Republish(ctx context.Context, id int64) (*model.Article, error) {
	if _, err := t.find(ctx, id); err != nil {
		return nil, err
	}

	a, err := t.articles.MarkRepublished(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事 %d の再公開設定に失敗しました: %w", id, err)
	}

	t.logger.Info("記事を再公開待ちに戻しました", slog.Int64("article_id", id))
	t.run(context.WithoutCancel(ctx), SideEffect{
		Step: model.PublishStepWebhook,
		Run: func(ctx context.Context, a *model.Article) (string, error) {
			return describeWebhook(t.notifier.Notify(ctx, webhook.ActionEdited, a.ID))
		},
	}, a)

	return a, nil
}

// ClearRepublish は republished フラグを解除し、記事を再びスケジューラの対象にする。
func (t *Transition) ClearRepublish(ctx context.Context, id int64) (*model.Article, error) {
	a, err := t.articles.ClearRepublished(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事 %d の再公開フラグの解除に失敗しました: %w", id, err)
	}
	if a == nil {
		return nil, ErrArticleNotFound
	}

	t.logger.Info("記事の再公開フラグを解除しました", slog.Int64("article_id", id))
	return a, nil
}

// RetrySocial は公開済み記事のSNS投稿を手動で再実行する。
func (t *Transition) RetrySocial(ctx context.Context, id int64) (EffectOutcome, error) {
	a, err := t.find(ctx, id)
	if err != nil {
		return EffectOutcome{}, err
	}
	if !a.IsPublished() {
		return EffectOutcome{}, fmt.Errorf("記事 %d: %w", id, repository.ErrNotPublished)
	}

	return t.run(context.WithoutCancel(ctx), SideEffect{Step: model.PublishStepSocial, Run: t.postSocial}, a), nil
}

func (t *Transition) find(ctx context.Context, id int64) (*model.Article, error) {
	a, err := t.articles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事 %d の取得に失敗しました: %w", id, err)
	}
	if a == nil {
		return nil, ErrArticleNotFound
	}
	return a, nil
}

// run は副作用を実行し、結果を監査ログに保存する。
func (t *Transition) run(ctx context.Context, e SideEffect, a *model.Article) EffectOutcome {
	out := runIsolated(ctx, e, a, t.logger)

	entry := &model.PublishLog{
		ArticleID: a.ID,
		Step:      out.Step,
		Success:   out.Success,
		Detail:    out.Detail,
	}
	if err := t.logs.Create(ctx, entry); err != nil {
		t.logger.Warn("公開ログの保存に失敗しました",
			slog.Int64("article_id", a.ID),
			slog.String("step", string(out.Step)),
			slog.String("error", err.Error()),
		)
	}
	return out
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
