package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pressroom/internal/config"
	"github.com/hitoshi/pressroom/internal/media"
	"github.com/hitoshi/pressroom/internal/metrics"
	"github.com/hitoshi/pressroom/internal/publish"
	"github.com/hitoshi/pressroom/internal/recordstore"
	"github.com/hitoshi/pressroom/internal/repository"
	"github.com/hitoshi/pressroom/internal/security"
	"github.com/hitoshi/pressroom/internal/settings"
	"github.com/hitoshi/pressroom/internal/social"
	"github.com/hitoshi/pressroom/internal/webhook"
	"github.com/hitoshi/pressroom/internal/worker/cleanup"
	"github.com/hitoshi/pressroom/internal/worker/schedule"
)

const (
	recordStoreHTTPTimeout = 30 * time.Second
	socialHTTPTimeout      = 60 * time.Second
	cleanupInterval        = 24 * time.Hour
)

// engine は公開エンジンの依存関係をまとめたもの。serve / worker / run-once で共有する。
type engine struct {
	registry    *prometheus.Registry
	settings    *settings.Provider
	articles    *repository.PostgresArticleRepo
	publishLogs *repository.PostgresPublishLogRepo
	reconciler  *recordstore.Reconciler
	transition  *publish.Transition
	scheduler   *schedule.Scheduler
	cleanup     *cleanup.CleanupJob
}

// newEngine はDB接続と設定から公開エンジンを組み立てる。
func newEngine(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*engine, error) {
	// 1. リポジトリ
	articleRepo := repository.NewPostgresArticleRepo(db)
	settingRepo := repository.NewPostgresSettingRepo(db)
	logRepo := repository.NewPostgresPublishLogRepo(db)

	// 2. 設定・メトリクス
	provider := settings.NewProvider(settingRepo, cfg, logger)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. 共通サービス
	sanitizer := security.NewContentSanitizer()
	resolver := media.NewResolver(cfg.BaseURL, cfg.MediaRoot)

	fallback, err := social.LoadFallbackImage(cfg.FallbackImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback image: %w", err)
	}

	// 4. 外部連携
	recordClient := recordstore.NewClient(
		&http.Client{Timeout: recordStoreHTTPTimeout},
		logger,
		recordstore.ClientOptions{
			BaseURL:    cfg.RecordStoreAPIURL,
			RateLimit:  cfg.RecordStoreRateLimit,
			MaxRetries: cfg.RecordStoreMaxRetries,
		},
	)
	reconciler := recordstore.NewReconciler(recordClient, provider, articleRepo, resolver, sanitizer, collector, logger)

	notifier := webhook.NewNotifier(&http.Client{}, provider, collector, logger, cfg.WebhookTimeout)

	images := social.NewImageLoader(resolver, security.NewImageFetcher(cfg.ImageFetchTimeout, cfg.ImageMaxSize), fallback)
	socialClient := social.NewClient(&http.Client{Timeout: socialHTTPTimeout}, logger, cfg.SocialGraphURL)
	saga := social.NewSaga(socialClient, provider, images, articleRepo, sanitizer, collector, logger)

	// 5. 公開処理
	transition := publish.NewTransition(articleRepo, reconciler, notifier, saga, logRepo, collector, logger)
	scheduler := schedule.NewScheduler(articleRepo, transition, provider, collector, logger)

	return &engine{
		registry:    registry,
		settings:    provider,
		articles:    articleRepo,
		publishLogs: logRepo,
		reconciler:  reconciler,
		transition:  transition,
		scheduler:   scheduler,
		cleanup:     cleanup.NewCleanupJob(db, logger, cfg.LogRetentionDays),
	}, nil
}

// startBackground はスケジューラとクリーンアップジョブをバックグラウンドで起動する。
// ctxのキャンセルで両方停止し、返されたチャネルが閉じる。
func (e *engine) startBackground(ctx context.Context) <-chan struct{} {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.cleanup.Start(ctx, cleanupInterval)
	}()
	go func() {
		defer wg.Done()
		e.scheduler.Start(ctx)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
