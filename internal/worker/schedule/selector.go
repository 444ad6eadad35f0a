package schedule

import (
	"time"

	"github.com/hitoshi/pressroom/internal/model"
)

// SelectDue は候補の中から公開期日を迎えた記事を走査順のまま返す。
// 公開予定日時が設定され、now 以前で、republished でない未公開の記事が対象。
// window が正の場合は now-window より前に予定されていた記事を除く。
func SelectDue(items []*model.Article, now time.Time, window time.Duration) []*model.Article {
	var lower time.Time
	if window > 0 {
		lower = now.Add(-window)
	}

	due := make([]*model.Article, 0, len(items))
	for _, a := range items {
		if a == nil || a.IsPublished() || a.Republished {
			continue
		}
		if a.ScheduledAt == nil || a.ScheduledAt.IsZero() {
			continue
		}
		at := *a.ScheduledAt
		if at.After(now) {
			continue
		}
		if !lower.IsZero() && at.Before(lower) {
			continue
		}
		due = append(due, a)
	}
	return due
}
