// Package handler は運用APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/pressroom/internal/model"
	"github.com/hitoshi/pressroom/internal/publish"
	"github.com/hitoshi/pressroom/internal/recordstore"
	"github.com/hitoshi/pressroom/internal/repository"
	"github.com/hitoshi/pressroom/internal/worker/schedule"
)

// SchedulerControl は公開スケジューラの操作。schedule.Schedulerが実装する。
type SchedulerControl interface {
	RunOnce(ctx context.Context) (*schedule.CycleSummary, error)
	Exclusive(ctx context.Context, fn func(ctx context.Context) error) error
	Status() schedule.Status
}

// ArticleFinder は記事の取得。見つからない場合はnilを返す。
type ArticleFinder interface {
	FindByID(ctx context.Context, id int64) (*model.Article, error)
}

// Publisher は公開状態の遷移。publish.Transitionが実装する。
type Publisher interface {
	ReconcileAndPublish(ctx context.Context, a *model.Article) (*model.Article, []publish.EffectOutcome, error)
	Republish(ctx context.Context, id int64) (*model.Article, error)
	ClearRepublish(ctx context.Context, id int64) (*model.Article, error)
	RetrySocial(ctx context.Context, id int64) (publish.EffectOutcome, error)
}

// RecordSync はレコードストアとの手動同期。recordstore.Reconcilerが実装する。
type RecordSync interface {
	Enabled(ctx context.Context) bool
	Reconcile(ctx context.Context, a *model.Article) *model.Article
	SyncLinkFields(ctx context.Context, a *model.Article) error
	Drift(ctx context.Context, src recordstore.DriftSource) (*recordstore.DriftReport, error)
}

// PublishLogReader は公開後処理の監査ログの参照。repository.PostgresPublishLogRepoが実装する。
type PublishLogReader interface {
	ListByArticle(ctx context.Context, articleID int64, limit int) ([]*model.PublishLog, error)
}

// AdminHandler は運用APIのHTTPハンドラー。
type AdminHandler struct {
	scheduler SchedulerControl
	articles  ArticleFinder
	publisher Publisher
	records   RecordSync
	drift     recordstore.DriftSource
	logs      PublishLogReader
	logger    *slog.Logger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(
	scheduler SchedulerControl,
	articles ArticleFinder,
	publisher Publisher,
	records RecordSync,
	drift recordstore.DriftSource,
	logs PublishLogReader,
	logger *slog.Logger,
) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		scheduler: scheduler,
		articles:  articles,
		publisher: publisher,
		records:   records,
		drift:     drift,
		logs:      logs,
		logger:    logger,
	}
}

// publishResponse は手動公開のAPIレスポンス。
type publishResponse struct {
	Article articleResponse  `json:"article"`
	Effects []effectResponse `json:"effects"`
}

// syncResponse は手動同期のAPIレスポンス。
type syncResponse struct {
	Article       articleResponse `json:"article"`
	LinkSynced    bool            `json:"link_synced"`
	LinkSyncError string          `json:"link_sync_error,omitempty"`
}

// SchedulerStatus はスケジューラの状態を返す。
// GET /admin/scheduler
func (h *AdminHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// RunScheduler は公開サイクルを1回実行する。
// POST /admin/scheduler/run
func (h *AdminHandler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunOnce(r.Context())
	if err != nil {
		handleServiceError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// PublishArticle は記事を即時公開する。スケジューラのサイクルとは排他的に実行する。
// POST /admin/articles/{id}/publish
func (h *AdminHandler) PublishArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseArticleID(w, r)
	if !ok {
		return
	}

	var (
		published *model.Article
		outcomes  []publish.EffectOutcome
	)
	err := h.scheduler.Exclusive(r.Context(), func(ctx context.Context) error {
		a, err := h.find(ctx, id)
		if err != nil {
			return err
		}
		if a.IsPublished() {
			return repository.ErrAlreadyPublished
		}
		published, outcomes, err = h.publisher.ReconcileAndPublish(ctx, a)
		return err
	})
	if err != nil {
		handleServiceError(w, err, id)
		return
	}

	h.logger.Info("記事を手動で公開しました", slog.Int64("article_id", id))
	writeJSON(w, http.StatusOK, publishResponse{
		Article: toArticleResponse(published),
		Effects: toEffectResponses(outcomes),
	})
}

// SyncArticle は記事をレコードストアと手動で同期する。公開済みの記事はリンク項目も同期する。
// POST /admin/articles/{id}/sync
func (h *AdminHandler) SyncArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseArticleID(w, r)
	if !ok {
		return
	}

	if !h.records.Enabled(r.Context()) {
		handleServiceError(w, recordstore.ErrDisabled, id)
		return
	}

	var res syncResponse
	err := h.scheduler.Exclusive(r.Context(), func(ctx context.Context) error {
		a, err := h.find(ctx, id)
		if err != nil {
			return err
		}

		synced := h.records.Reconcile(ctx, a)
		res.Article = toArticleResponse(synced)

		if synced.IsPublished() && synced.HasExternalID() {
			if err := h.records.SyncLinkFields(ctx, synced); err != nil {
				res.LinkSyncError = err.Error()
			} else {
				res.LinkSynced = true
			}
		}
		return nil
	})
	if err != nil {
		handleServiceError(w, err, id)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// RepublishArticle は公開済みの記事を再公開待ちに戻す。
// POST /admin/articles/{id}/republish
func (h *AdminHandler) RepublishArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseArticleID(w, r)
	if !ok {
		return
	}

	var a *model.Article
	err := h.scheduler.Exclusive(r.Context(), func(ctx context.Context) error {
		var err error
		a, err = h.publisher.Republish(ctx, id)
		return err
	})
	if err != nil {
		handleServiceError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

// ClearRepublish は再公開フラグを解除し、記事をスケジューラの対象に戻す。
// POST /admin/articles/{id}/republish/clear
func (h *AdminHandler) ClearRepublish(w http.ResponseWriter, r *http.Request) {
	id, ok := parseArticleID(w, r)
	if !ok {
		return
	}

	var a *model.Article
	err := h.scheduler.Exclusive(r.Context(), func(ctx context.Context) error {
		var err error
		a, err = h.publisher.ClearRepublish(ctx, id)
		return err
	})
	if err != nil {
		handleServiceError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

// RetrySocial は公開済み記事のSNS投稿を再実行する。
// 投稿IDは media_publish の成功後にしか保存されないため、スケジューラのサイクルや他の再投稿と排他的に実行する。
// 投稿に失敗した場合も結果は200で返し、successで判別する。
// POST /admin/articles/{id}/social
func (h *AdminHandler) RetrySocial(w http.ResponseWriter, r *http.Request) {
	id, ok := parseArticleID(w, r)
	if !ok {
		return
	}

	var out publish.EffectOutcome
	err := h.scheduler.Exclusive(r.Context(), func(ctx context.Context) error {
		var err error
		out, err = h.publisher.RetrySocial(ctx, id)
		return err
	})
	if err != nil {
		handleServiceError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, toEffectResponse(out))
}

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// publishLogsResponse は記事の監査ログのAPIレスポンス。
type publishLogsResponse struct {
	ArticleID int64                `json:"article_id"`
	Logs      []publishLogResponse `json:"logs"`
}

type publishLogResponse struct {
	ID        int64     `json:"id"`
	Step      string    `json:"step"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ArticleLogs は記事の公開後処理の監査ログを新しい順に返す。
// limit は1〜200で、未指定・不正な値は50件として扱う。
// GET /admin/articles/{id}/logs?limit=N
func (h *AdminHandler) ArticleLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseArticleID(w, r)
	if !ok {
		return
	}

	if _, err := h.find(r.Context(), id); err != nil {
		handleServiceError(w, err, id)
		return
	}

	logs, err := h.logs.ListByArticle(r.Context(), id, parseLogLimit(r.URL.Query().Get("limit")))
	if err != nil {
		handleServiceError(w, err, id)
		return
	}

	res := publishLogsResponse{ArticleID: id, Logs: make([]publishLogResponse, 0, len(logs))}
	for _, l := range logs {
		res.Logs = append(res.Logs, publishLogResponse{
			ID:        l.ID,
			Step:      string(l.Step),
			Success:   l.Success,
			Detail:    l.Detail,
			CreatedAt: l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func parseLogLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil || n <= 0:
		return defaultLogLimit
	case n > maxLogLimit:
		return maxLogLimit
	default:
		return n
	}
}

// RecordStoreDrift はローカルとレコードストアの差分を返す。
// GET /admin/recordstore/drift
func (h *AdminHandler) RecordStoreDrift(w http.ResponseWriter, r *http.Request) {
	report, err := h.records.Drift(r.Context(), h.drift)
	if err != nil {
		handleServiceError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) find(ctx context.Context, id int64) (*model.Article, error) {
	a, err := h.articles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事 %d の取得に失敗しました: %w", id, err)
	}
	if a == nil {
		return nil, publish.ErrArticleNotFound
	}
	return a, nil
}

