package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/hitoshi/pressroom/internal/model"
)

var articleRowColumns = []string{
	"id", "external_id", "status", "finished", "republished",
	"scheduled_at", "published_at", "title", "body", "description", "hashtags",
	"featured", "image_path", "social_image_path", "author", "source",
	"social_media_id", "social_published_at", "created_at", "updated_at",
}

func newMockArticleRepo(t *testing.T) (*PostgresArticleRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresArticleRepo(db), mock
}

// PostgresArticleRepoはArticleRepositoryインターフェースを満たすことを検証
func TestPostgresArticleRepo_ImplementsInterface(t *testing.T) {
	var _ ArticleRepository = (*PostgresArticleRepo)(nil)
}

func TestPostgresArticleRepo_FindByID_MapsNullableColumns(t *testing.T) {
	repo, mock := newMockArticleRepo(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM articles WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(articleRowColumns).AddRow(
			int64(7), nil, "draft", false, false,
			now, nil, "春の特集", "<p>本文</p>", "説明", "spring,news",
			true, "/uploads/a.jpg", nil, "編集部", "chatbot",
			nil, nil, now, now,
		))

	a, err := repo.FindByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if a == nil {
		t.Fatal("expected article, got nil")
	}
	if a.ExternalID != "" {
		t.Errorf("ExternalID = %q, want empty", a.ExternalID)
	}
	if a.Status != model.ArticleStatusDraft {
		t.Errorf("Status = %q, want %q", a.Status, model.ArticleStatusDraft)
	}
	if a.ScheduledAt == nil || !a.ScheduledAt.Equal(now) {
		t.Errorf("ScheduledAt = %v, want %v", a.ScheduledAt, now)
	}
	if a.PublishedAt != nil {
		t.Errorf("PublishedAt = %v, want nil", a.PublishedAt)
	}
	if a.ImagePath != "/uploads/a.jpg" {
		t.Errorf("ImagePath = %q, want %q", a.ImagePath, "/uploads/a.jpg")
	}
	if a.Source != model.ArticleSourceChatbot {
		t.Errorf("Source = %q, want %q", a.Source, model.ArticleSourceChatbot)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet SQL expectations: %v", err)
	}
}

func TestPostgresArticleRepo_FindByID_NotFound_ReturnsNil(t *testing.T) {
	repo, mock := newMockArticleRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM articles WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	a, err := repo.FindByID(context.Background(), 99)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if a != nil {
		t.Errorf("expected nil article, got %+v", a)
	}
}

func TestPostgresArticleRepo_ListUnpublished(t *testing.T) {
	repo, mock := newMockArticleRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status <> 'published' ORDER BY id ASC")).
		WillReturnRows(sqlmock.NewRows(articleRowColumns).
			AddRow(int64(1), "rec1", "pending", true, false, now, nil, "a", "", "", "", false, nil, nil, "", "admin", nil, nil, now, now).
			AddRow(int64(2), nil, "draft", false, true, nil, nil, "b", "", "", "", false, nil, nil, "", "admin", nil, nil, now, now))

	articles, err := repo.ListUnpublished(context.Background())
	if err != nil {
		t.Fatalf("ListUnpublished returned error: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("len(articles) = %d, want 2", len(articles))
	}
	if articles[0].ExternalID != "rec1" {
		t.Errorf("articles[0].ExternalID = %q, want %q", articles[0].ExternalID, "rec1")
	}
	if !articles[1].Republished {
		t.Error("articles[1].Republished = false, want true")
	}
	if articles[1].ScheduledAt != nil {
		t.Errorf("articles[1].ScheduledAt = %v, want nil", articles[1].ScheduledAt)
	}
}

func TestPostgresArticleRepo_MarkPublished_ReturnsUpdatedRow(t *testing.T) {
	repo, mock := newMockArticleRepo(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("published_at = COALESCE(published_at, $2), updated_at = $2 WHERE id = $1 AND status <> 'published'")).
		WithArgs(int64(7), now).
		WillReturnRows(sqlmock.NewRows(articleRowColumns).AddRow(
			int64(7), "recABC", "published", true, false,
			now.Add(-5*time.Minute), now, "t", "", "", "", false, nil, nil, "", "admin", nil, nil, now, now,
		))

	a, err := repo.MarkPublished(context.Background(), 7, now)
	if err != nil {
		t.Fatalf("MarkPublished returned error: %v", err)
	}
	if !a.IsPublished() {
		t.Errorf("Status = %q, want published", a.Status)
	}
	if !a.Finished {
		t.Error("Finished = false, want true")
	}
	if a.PublishedAt == nil || !a.PublishedAt.Equal(now) {
		t.Errorf("PublishedAt = %v, want %v", a.PublishedAt, now)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet SQL expectations: %v", err)
	}
}

func TestPostgresArticleRepo_MarkPublished_ClearsRepublishedFlag(t *testing.T) {
	repo, mock := newMockArticleRepo(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := now.Add(-72 * time.Hour)

	// 再公開待ちの記事を直接公開しても published_at は初回のまま
	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'published', finished = true, republished = false,")).
		WithArgs(int64(7), now).
		WillReturnRows(sqlmock.NewRows(articleRowColumns).AddRow(
			int64(7), "recABC", "published", true, false,
			now.Add(-5*time.Minute), first, "t", "", "", "", false, nil, nil, "", "admin", nil, nil, now, now,
		))

	a, err := repo.MarkPublished(context.Background(), 7, now)
	if err != nil {
		t.Fatalf("MarkPublished returned error: %v", err)
	}
	if a.Republished {
		t.Error("Republished = true, want false after publish")
	}
	if a.PublishedAt == nil || !a.PublishedAt.Equal(first) {
		t.Errorf("PublishedAt = %v, want %v", a.PublishedAt, first)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet SQL expectations: %v", err)
	}
}

func TestPostgresArticleRepo_MarkPublished_AlreadyPublished(t *testing.T) {
	repo, mock := newMockArticleRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status <> 'published'")).
		WithArgs(int64(7), now).
		WillReturnRows(sqlmock.NewRows(articleRowColumns))

	_, err := repo.MarkPublished(context.Background(), 7, now)
	if !errors.Is(err, ErrAlreadyPublished) {
		t.Fatalf("err = %v, want ErrAlreadyPublished", err)
	}
}

func TestPostgresArticleRepo_MarkPublished_DBError(t *testing.T) {
	repo, mock := newMockArticleRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status <> 'published'")).
		WithArgs(int64(7), now).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.MarkPublished(context.Background(), 7, now)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrAlreadyPublished) {
		t.Error("DB error must not be reported as ErrAlreadyPublished")
	}
}

func TestPostgresArticleRepo_SetExternalID(t *testing.T) {
	tests := []struct {
		name     string
		result   driverResult
		execErr  error
		wantErr  error
		wantAnyErr bool
	}{
		{name: "未設定の記事に設定", result: driverResult{affected: 1}},
		{name: "別のIDが設定済み", result: driverResult{affected: 0}, wantErr: ErrExternalIDConflict},
		{name: "他記事と重複", execErr: &pq.Error{Code: uniqueViolation}, wantErr: ErrExternalIDConflict},
		{name: "DBエラー", execErr: errors.New("boom"), wantAnyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockArticleRepo(t)

			exp := mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND (external_id IS NULL OR external_id = $2)")).
				WithArgs(int64(7), "recABC")
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.result.affected))
			}

			err := repo.SetExternalID(context.Background(), 7, "recABC")
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.wantAnyErr:
				if err == nil {
					t.Error("expected error, got nil")
				}
			default:
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

type driverResult struct {
	affected int64
}

func TestPostgresArticleRepo_MarkRepublished_NotPublished(t *testing.T) {
	repo, mock := newMockArticleRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'draft', republished = true")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(articleRowColumns))

	_, err := repo.MarkRepublished(context.Background(), 3)
	if !errors.Is(err, ErrNotPublished) {
		t.Fatalf("err = %v, want ErrNotPublished", err)
	}
}

func TestPostgresArticleRepo_MarkRepublished_KeepsPublishedAt(t *testing.T) {
	repo, mock := newMockArticleRepo(t)
	published := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'draft', republished = true")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(articleRowColumns).AddRow(
			int64(3), "rec3", "draft", true, true, nil, published, "t", "", "", "", false, nil, nil, "", "admin", nil, nil, now, now,
		))

	a, err := repo.MarkRepublished(context.Background(), 3)
	if err != nil {
		t.Fatalf("MarkRepublished returned error: %v", err)
	}
	if a.Status != model.ArticleStatusDraft || !a.Republished {
		t.Errorf("got status=%q republished=%v, want draft/true", a.Status, a.Republished)
	}
	if a.PublishedAt == nil || !a.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want %v", a.PublishedAt, published)
	}
}

func TestPostgresArticleRepo_ListExternalIDs(t *testing.T) {
	repo, mock := newMockArticleRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT external_id, id FROM articles WHERE external_id IS NOT NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"external_id", "id"}).
			AddRow("recA", int64(1)).
			AddRow("recB", int64(2)))

	ids, err := repo.ListExternalIDs(context.Background())
	if err != nil {
		t.Fatalf("ListExternalIDs returned error: %v", err)
	}
	if len(ids) != 2 || ids["recA"] != 1 || ids["recB"] != 2 {
		t.Errorf("ids = %v, want map[recA:1 recB:2]", ids)
	}
}

func TestPostgresArticleRepo_UpdateSocialPost(t *testing.T) {
	repo, mock := newMockArticleRepo(t)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("SET social_media_id = $2, social_published_at = $3")).
		WithArgs(int64(5), "1789", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateSocialPost(context.Background(), 5, "1789", at); err != nil {
		t.Fatalf("UpdateSocialPost returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet SQL expectations: %v", err)
	}
}
