package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/pressroom/internal/config"
	"github.com/hitoshi/pressroom/internal/database"
	"github.com/hitoshi/pressroom/internal/handler"
	"github.com/hitoshi/pressroom/internal/logger"
	"github.com/hitoshi/pressroom/internal/middleware"
)

const connectTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandRunOnce:
		return runOnce(cfg, w)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe は運用APIサーバーと公開スケジューラを1プロセスで起動する。
// スケジューラの排他制御はプロセス内で行うため、手動公開とサイクルは同じプロセスに置く。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	eng, err := newEngine(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAdmin))
	defer rateLimiter.Stop()

	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN が未設定のため運用APIは認証なしで公開されます")
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		AdminToken:  cfg.AdminToken,
		RateLimiter: rateLimiter,
		Health:      db,
		Gatherer:    eng.registry,
		Admin: handler.NewAdminHandler(
			eng.scheduler, eng.articles, eng.transition, eng.reconciler, eng.articles, eng.publishLogs, slog.Default(),
		),
		Settings: handler.NewSettingsHandler(eng.settings),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // 手動公開はSNS投稿の完了まで待つ
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signalContext()
	defer stop()

	background := eng.startBackground(ctx)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stop()
		<-background
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-background

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker は運用APIなしで公開スケジューラとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	eng, err := newEngine(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	slog.Info("worker starting",
		slog.Duration("scheduler_interval", eng.settings.Scheduler(ctx).Interval),
		slog.Int("log_retention_days", cfg.LogRetentionDays),
	)

	<-eng.startBackground(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runOnce は公開サイクルを1回実行し、結果のサマリをJSONで出力する。
func runOnce(cfg *config.Config, w io.Writer) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	eng, err := newEngine(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	summary, err := eng.scheduler.RunOnce(ctx)
	if summary != nil {
		if encErr := writeSummary(w, summary); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return fmt.Errorf("publish cycle failed: %w", err)
	}
	return nil
}

func writeSummary(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to write cycle summary: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("マイグレーションを開始します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("マイグレーションが完了しました", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
