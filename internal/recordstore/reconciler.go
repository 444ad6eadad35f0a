package recordstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/pressroom/internal/metrics"
	"github.com/hitoshi/pressroom/internal/model"
	"github.com/hitoshi/pressroom/internal/settings"
)

// 同期操作の種別（メトリクスとログのラベル）
const (
	OperationCreate   = "create"
	OperationUpdate   = "update"
	OperationLinkSync = "link_sync"
	OperationSkip     = "skip"
)

// ErrDisabled はレコードストア連携が無効または未設定であることを示す。
var ErrDisabled = errors.New("レコードストア連携が設定されていません")

// RemoteClient はレコードストアAPIの操作。Clientが実装する。
type RemoteClient interface {
	Create(ctx context.Context, t Target, fields Fields) (*Record, error)
	Update(ctx context.Context, t Target, id string, fields Fields) (*Record, error)
	ListIDs(ctx context.Context, t Target) ([]string, error)
}

// ConfigSource は同期先の設定を返す。settings.Providerが実装する。
type ConfigSource interface {
	RecordStore(ctx context.Context) settings.RecordStore
}

// ExternalIDStore はリモートIDを記事に保存する。
type ExternalIDStore interface {
	SetExternalID(ctx context.Context, id int64, externalID string) error
}

// URLResolver は画像参照を公開URLに変換する。
type URLResolver interface {
	PublicURL(ref string) string
}

// MetricsRecorder は同期結果のメトリクスを記録する。
type MetricsRecorder interface {
	RecordReconcile(operation, result string)
}

// Reconciler は記事とリモートレコードの同期を行う。
// 作成か更新かは記事のリモートIDの有無だけで決める。
// 同一記事の同時実行はスケジューラの排他制御で防がれる前提で、リモート側のロックは取らない。
type Reconciler struct {
	client  RemoteClient
	config  ConfigSource
	store   ExternalIDStore
	urls    URLResolver
	text    TextConverter
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(
	client RemoteClient,
	config ConfigSource,
	store ExternalIDStore,
	urls URLResolver,
	text TextConverter,
	m MetricsRecorder,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		client:  client,
		config:  config,
		store:   store,
		urls:    urls,
		text:    text,
		metrics: m,
		logger:  logger,
	}
}

// Enabled は連携に必要な設定が揃っているかを返す。
func (r *Reconciler) Enabled(ctx context.Context) bool {
	return r.config.RecordStore(ctx).Configured()
}

func (r *Reconciler) target(ctx context.Context) (Target, bool) {
	cfg := r.config.RecordStore(ctx)
	if !cfg.Configured() {
		return Target{}, false
	}
	return Target{APIKey: cfg.APIKey, BaseID: cfg.BaseID, Table: cfg.Table}, true
}

// Reconcile は記事に対応するリモートレコードを作成または更新する。
// 失敗してもエラーは返さず、ログに記録して記事をそのまま返す。
// 作成に成功した場合のみ、リモートIDを保存した記事の複製を返す。
func (r *Reconciler) Reconcile(ctx context.Context, a *model.Article) *model.Article {
	t, ok := r.target(ctx)
	if !ok {
		r.logger.Info("レコードストア連携が未設定のため同期をスキップしました",
			slog.Int64("article_id", a.ID),
		)
		r.metrics.RecordReconcile(OperationSkip, metrics.ResultSkipped)
		return a
	}

	fields := articleFields(a, r.text)

	if a.HasExternalID() {
		if _, err := r.client.Update(ctx, t, a.ExternalID, fields); err != nil {
			r.logger.Error("リモートレコードの更新に失敗しました",
				slog.Int64("article_id", a.ID),
				slog.String("external_id", a.ExternalID),
				slog.String("error", err.Error()),
			)
			r.metrics.RecordReconcile(OperationUpdate, metrics.ResultFailure)
			return a
		}

		r.logger.Info("リモートレコードを更新しました",
			slog.Int64("article_id", a.ID),
			slog.String("external_id", a.ExternalID),
		)
		r.metrics.RecordReconcile(OperationUpdate, metrics.ResultSuccess)
		return a
	}

	rec, err := r.client.Create(ctx, t, fields)
	if err != nil {
		r.logger.Error("リモートレコードの作成に失敗しました",
			slog.Int64("article_id", a.ID),
			slog.String("error", err.Error()),
		)
		r.metrics.RecordReconcile(OperationCreate, metrics.ResultFailure)
		return a
	}

	if err := r.store.SetExternalID(ctx, a.ID, rec.ID); err != nil {
		// リモートには作成済みのため、手動での紐付けに必要なIDをログに残す
		r.logger.Error("作成したリモートレコードのIDの保存に失敗しました",
			slog.Int64("article_id", a.ID),
			slog.String("external_id", rec.ID),
			slog.String("error", err.Error()),
		)
		r.metrics.RecordReconcile(OperationCreate, metrics.ResultFailure)
		return a
	}

	r.logger.Info("リモートレコードを作成しました",
		slog.Int64("article_id", a.ID),
		slog.String("external_id", rec.ID),
	)
	r.metrics.RecordReconcile(OperationCreate, metrics.ResultSuccess)

	updated := a.Clone()
	updated.ExternalID = rec.ID
	return updated
}

// SyncLinkFields は画像の公開URLをリモートの参照フィールドに送る。
// リモートIDがない記事と連携未設定の場合は何もしない。
// フィールドごとに更新し、テーブルに存在しないフィールドのエラーは無視する。
func (r *Reconciler) SyncLinkFields(ctx context.Context, a *model.Article) error {
	t, ok := r.target(ctx)
	if !ok || !a.HasExternalID() {
		return nil
	}

	links := []struct {
		field string
		ref   string
	}{
		{FieldImageURL, a.ImagePath},
		{FieldSocialImageURL, a.SocialImagePath},
	}

	var errs []error
	synced := 0
	for _, l := range links {
		publicURL := r.urls.PublicURL(l.ref)
		if publicURL == "" {
			continue
		}

		_, err := r.client.Update(ctx, t, a.ExternalID, Fields{l.field: publicURL})
		if err == nil {
			synced++
			continue
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsUnknownField() {
			r.logger.Warn("リモートテーブルに参照フィールドが存在しないためスキップしました",
				slog.Int64("article_id", a.ID),
				slog.String("field", l.field),
			)
			continue
		}
		errs = append(errs, fmt.Errorf("%s の更新に失敗しました: %w", l.field, err))
	}

	if err := errors.Join(errs...); err != nil {
		r.metrics.RecordReconcile(OperationLinkSync, metrics.ResultFailure)
		return err
	}
	if synced > 0 {
		r.metrics.RecordReconcile(OperationLinkSync, metrics.ResultSuccess)
	}
	return nil
}
