package app

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/pressroom/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		DatabaseURL:           "postgres://localhost/pressroom",
		BaseURL:               "http://localhost:8080",
		SchedulerInterval:     time.Hour,
		SchedulerDueWindow:    2 * time.Hour,
		MediaRoot:             "./uploads",
		ImageFetchTimeout:     time.Second,
		ImageMaxSize:          1024,
		RecordStoreAPIURL:     "http://127.0.0.1:1",
		RecordStoreTable:      "Articles",
		RecordStoreRateLimit:  5,
		RecordStoreMaxRetries: 0,
		SocialGraphURL:        "http://127.0.0.1:1",
		WebhookTimeout:        time.Second,
		LogRetentionDays:      14,
	}
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestNewEngine_WiresComponents(t *testing.T) {
	db, _ := newMockDB(t)
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	eng, err := newEngine(testConfig(), db, logger)
	if err != nil {
		t.Fatalf("newEngine() error = %v", err)
	}

	if eng.registry == nil || eng.scheduler == nil || eng.transition == nil || eng.reconciler == nil {
		t.Fatalf("engine has nil components: %+v", eng)
	}

	// 初期状態ではサイクル未実行
	if st := eng.scheduler.Status(); st.Running || st.LastCycle != nil {
		t.Errorf("initial status = %+v", st)
	}

	// メトリクスがレジストリに登録されていること
	if _, err := eng.registry.Gather(); err != nil {
		t.Errorf("Gather() error = %v", err)
	}
}

func TestNewEngine_InvalidFallbackImage(t *testing.T) {
	db, _ := newMockDB(t)
	cfg := testConfig()
	cfg.FallbackImagePath = filepath.Join(t.TempDir(), "missing.png")

	if _, err := newEngine(cfg, db, slog.Default()); err == nil {
		t.Fatal("expected error for missing fallback image")
	}
}

func TestNewEngine_CustomFallbackImage(t *testing.T) {
	db, _ := newMockDB(t)
	cfg := testConfig()
	cfg.FallbackImagePath = filepath.Join(t.TempDir(), "fallback.jpg")
	if err := os.WriteFile(cfg.FallbackImagePath, []byte{0xFF, 0xD8, 0xFF, 0xE0}, 0o600); err != nil {
		t.Fatalf("failed to write fallback image: %v", err)
	}

	if _, err := newEngine(cfg, db, slog.Default()); err != nil {
		t.Fatalf("newEngine() error = %v", err)
	}
}

func TestEngine_StartBackground_StopsOnCancel(t *testing.T) {
	db, mock := newMockDB(t)
	mock.MatchExpectationsInOrder(false)
	// 設定はDBから読めなくても環境変数の値で動く
	mock.ExpectQuery(`SELECT .+ FROM settings`).WillReturnError(context.Canceled)
	mock.ExpectQuery(`FROM articles`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`DELETE FROM publish_logs`).WillReturnResult(sqlmock.NewResult(0, 0))

	var logBuf bytes.Buffer
	eng, err := newEngine(testConfig(), db, slog.New(slog.NewJSONHandler(&logBuf, nil)))
	if err != nil {
		t.Fatalf("newEngine() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := eng.startBackground(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background jobs did not stop after cancel")
	}
}
