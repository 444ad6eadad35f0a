package schedule

import (
	"testing"
	"time"

	"github.com/hitoshi/pressroom/internal/model"
)

func at(t time.Time) *time.Time { return &t }

func ids(items []*model.Article) []int64 {
	out := make([]int64, 0, len(items))
	for _, a := range items {
		out = append(out, a.ID)
	}
	return out
}

func TestSelectDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		item   *model.Article
		window time.Duration
		want   bool
	}{
		{name: "1秒前は対象", item: &model.Article{ID: 1, Status: model.ArticleStatusDraft, ScheduledAt: at(now.Add(-time.Second))}, window: 2 * time.Hour, want: true},
		{name: "ちょうど現在時刻は対象", item: &model.Article{ID: 1, Status: model.ArticleStatusPending, ScheduledAt: at(now)}, window: 2 * time.Hour, want: true},
		{name: "1秒後は対象外", item: &model.Article{ID: 1, Status: model.ArticleStatusDraft, ScheduledAt: at(now.Add(time.Second))}, window: 2 * time.Hour, want: false},
		{name: "予定日時なしは対象外", item: &model.Article{ID: 1, Status: model.ArticleStatusDraft}, window: 2 * time.Hour, want: false},
		{name: "ゼロ値の予定日時は対象外", item: &model.Article{ID: 1, Status: model.ArticleStatusDraft, ScheduledAt: at(time.Time{})}, window: 0, want: false},
		{name: "republishedは対象外", item: &model.Article{ID: 1, Status: model.ArticleStatusDraft, Republished: true, ScheduledAt: at(now.Add(-time.Minute))}, window: 2 * time.Hour, want: false},
		{name: "公開済みは対象外", item: &model.Article{ID: 1, Status: model.ArticleStatusPublished, ScheduledAt: at(now.Add(-time.Minute))}, window: 2 * time.Hour, want: false},
		{name: "ウィンドウより古いものは対象外", item: &model.Article{ID: 1, Status: model.ArticleStatusDraft, ScheduledAt: at(now.Add(-3 * time.Hour))}, window: 2 * time.Hour, want: false},
		{name: "ウィンドウの境界は対象", item: &model.Article{ID: 1, Status: model.ArticleStatusDraft, ScheduledAt: at(now.Add(-2 * time.Hour))}, window: 2 * time.Hour, want: true},
		{name: "ウィンドウ0は下限なし", item: &model.Article{ID: 1, Status: model.ArticleStatusDraft, ScheduledAt: at(now.Add(-30 * 24 * time.Hour))}, window: 0, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectDue([]*model.Article{tt.item}, now, tt.window)
			if (len(got) == 1) != tt.want {
				t.Errorf("SelectDue() = %v, want due=%v", ids(got), tt.want)
			}
		})
	}
}

func TestSelectDue_KeepsScanOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []*model.Article{
		{ID: 5, Status: model.ArticleStatusDraft, ScheduledAt: at(now.Add(-time.Minute))},
		{ID: 2, Status: model.ArticleStatusDraft, ScheduledAt: at(now.Add(time.Minute))},
		nil,
		{ID: 3, Status: model.ArticleStatusPending, ScheduledAt: at(now.Add(-time.Hour))},
		{ID: 1, Status: model.ArticleStatusDraft, ScheduledAt: at(now.Add(-2 * time.Minute))},
	}

	got := ids(SelectDue(items, now, 2*time.Hour))
	want := []int64{5, 3, 1}
	if len(got) != len(want) {
		t.Fatalf("SelectDue() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SelectDue()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSelectDue_Empty(t *testing.T) {
	if got := SelectDue(nil, time.Now(), time.Hour); len(got) != 0 {
		t.Errorf("SelectDue(nil) = %v, want empty", ids(got))
	}
}
