// Package schedule は予約記事の定期公開を行うスケジューラを提供する。
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pressroom/internal/metrics"
	"github.com/hitoshi/pressroom/internal/model"
	"github.com/hitoshi/pressroom/internal/publish"
	"github.com/hitoshi/pressroom/internal/repository"
	"github.com/hitoshi/pressroom/internal/settings"
)

// ErrCycleInProgress は公開サイクルまたは手動操作が実行中であることを示す。
var ErrCycleInProgress = errors.New("公開サイクルが実行中です")

// defaultInterval は間隔が未設定または不正な場合の実行間隔。
const defaultInterval = time.Minute

// CandidateSource は公開候補の記事を返す。
type CandidateSource interface {
	ListUnpublished(ctx context.Context) ([]*model.Article, error)
}

// Publisher は記事の同期と公開。publish.Transitionが実装する。
type Publisher interface {
	ReconcileAndPublish(ctx context.Context, a *model.Article) (*model.Article, []publish.EffectOutcome, error)
}

// ConfigSource はスケジューラの設定を返す。settings.Providerが実装する。
type ConfigSource interface {
	Scheduler(ctx context.Context) settings.Scheduler
}

// MetricsRecorder はサイクルのメトリクスを記録する。
type MetricsRecorder interface {
	RecordCycle(result string, duration time.Duration)
}

// CycleSummary は1回の公開サイクルの結果。
type CycleSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Candidates int       `json:"candidates"`
	Due        int       `json:"due"`
	Published  []int64   `json:"published"`
	Failed     []int64   `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// Status はスケジューラの状態。
type Status struct {
	Running   bool          `json:"running"`
	LastCycle *CycleSummary `json:"last_cycle"`
}

// Scheduler は一定間隔で期日を迎えた記事を公開する。
// サイクルは同時に1つだけ実行され、実行中に到来した起動はキューに積まずスキップする。
// 記事は1件ずつ順に処理する。
type Scheduler struct {
	articles  CandidateSource
	publisher Publisher
	config    ConfigSource
	metrics   MetricsRecorder
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool

	mu   sync.Mutex
	last *CycleSummary
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	articles CandidateSource,
	publisher Publisher,
	config ConfigSource,
	m MetricsRecorder,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		articles:  articles,
		publisher: publisher,
		config:    config,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Start はティッカーでスケジューラを起動し、コンテキストがキャンセルされるまで実行を継続する。
// 実行間隔は settings の scheduler.interval から毎ティック後に読み直し、変わっていればティッカーを再設定する。
// 0以下の値は1分として扱う。
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.interval(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("公開スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("公開スケジューラを停止しました")
			return
		case <-ticker.C:
			s.tick(ctx)
		}

		if next := s.interval(ctx); next != interval {
			s.logger.Info("公開スケジューラの実行間隔を変更しました",
				slog.Duration("previous", interval),
				slog.Duration("interval", next),
			)
			interval = next
			ticker.Reset(interval)
		}
	}
}

func (s *Scheduler) interval(ctx context.Context) time.Duration {
	if d := s.config.Scheduler(ctx).Interval; d > 0 {
		return d
	}
	return defaultInterval
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		s.logger.Error("公開サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は公開サイクルを1回実行する。
// 他のサイクルまたは手動操作が実行中の場合は何もせず ErrCycleInProgress を返す。
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("前回の公開サイクルが実行中のためスキップしました")
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	summary, err := s.cycle(ctx)

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	return summary, err
}

// Exclusive はサイクルと排他的に fn を実行する。手動公開などの運用操作で使う。
func (s *Scheduler) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer s.running.Store(false)

	return fn(ctx)
}

// Status は実行中かどうかと直近のサイクル結果を返す。
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running.Load()}
	if s.last != nil {
		c := *s.last
		st.LastCycle = &c
	}
	return st
}

func (s *Scheduler) cycle(ctx context.Context) (*CycleSummary, error) {
	start := s.now()
	summary := &CycleSummary{
		ID:        uuid.NewString(),
		StartedAt: start.UTC(),
		Published: []int64{},
		Failed:    []int64{},
	}
	logger := s.logger.With(slog.String("cycle_id", summary.ID))

	result := metrics.ResultSuccess
	defer func() {
		d := time.Since(start)
		summary.DurationMS = d.Milliseconds()
		s.metrics.RecordCycle(result, d)
		logger.Info("公開サイクルが完了しました",
			slog.String("result", result),
			slog.Int("due_count", summary.Due),
			slog.Int("published_count", len(summary.Published)),
			slog.Int("failed_count", len(summary.Failed)),
			slog.Float64("duration_ms", float64(d.Milliseconds())),
		)
	}()

	candidates, err := s.articles.ListUnpublished(ctx)
	if err != nil {
		result = metrics.ResultFailure
		summary.Error = err.Error()
		return summary, fmt.Errorf("公開候補の取得に失敗しました: %w", err)
	}
	summary.Candidates = len(candidates)

	cfg := s.config.Scheduler(ctx)
	due := SelectDue(candidates, start, cfg.DueWindow)
	summary.Due = len(due)
	if len(due) == 0 {
		result = metrics.ResultEmpty
		return summary, nil
	}

	logger.Info("公開サイクルを開始します",
		slog.Int("candidate_count", len(candidates)),
		slog.Int("due_count", len(due)),
	)

	for _, a := range due {
		if ctx.Err() != nil {
			logger.Warn("公開サイクルを中断しました",
				slog.String("error", ctx.Err().Error()),
			)
			break
		}

		err := s.process(ctx, a)
		switch {
		case err == nil:
			summary.Published = append(summary.Published, a.ID)
		case errors.Is(err, repository.ErrAlreadyPublished):
			logger.Info("記事は既に公開済みのためスキップしました",
				slog.Int64("article_id", a.ID),
			)
		default:
			summary.Failed = append(summary.Failed, a.ID)
			logger.Error("記事の公開に失敗しました",
				slog.Int64("article_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(summary.Failed) > 0 {
		result = metrics.ResultFailure
	}
	return summary, nil
}

// process は1件の記事を公開する。パニックはエラーに変換し、後続の記事の処理を続ける。
func (s *Scheduler) process(ctx context.Context, a *model.Article) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("記事 %d の処理中にパニックが発生しました: %v", a.ID, rec)
		}
	}()

	_, _, err = s.publisher.ReconcileAndPublish(ctx, a)
	return err
}
