package recordstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/pressroom/internal/model"
)

// driftScanLimit はリモート未登録の公開済み記事を列挙する上限。
const driftScanLimit = 500

// DriftSource はローカル側の同期状態を返す。repository.ArticleRepositoryが実装する。
type DriftSource interface {
	ListPublishedWithoutExternalID(ctx context.Context, limit int) ([]*model.Article, error)
	ListExternalIDs(ctx context.Context) (map[string]int64, error)
}

// MissingRecord はローカルが参照しているがリモートに存在しないレコード。
type MissingRecord struct {
	ExternalID string `json:"external_id"`
	ArticleID  int64  `json:"article_id"`
}

// DriftReport はローカルとリモートの不整合の一覧。
// 公開後は再選択されないため、同期に失敗した記事はここで検出して手動で同期する。
type DriftReport struct {
	UnsyncedArticleIDs []int64         `json:"unsynced_article_ids"`
	MissingRemote      []MissingRecord `json:"missing_remote"`
	RemoteOnlyCount    int             `json:"remote_only_count"`
	CheckedAt          time.Time       `json:"checked_at"`
}

// Drift はローカルとリモートの不整合を調べる。連携が未設定の場合は ErrDisabled を返す。
func (r *Reconciler) Drift(ctx context.Context, src DriftSource) (*DriftReport, error) {
	t, ok := r.target(ctx)
	if !ok {
		return nil, ErrDisabled
	}

	unsynced, err := src.ListPublishedWithoutExternalID(ctx, driftScanLimit)
	if err != nil {
		return nil, err
	}
	local, err := src.ListExternalIDs(ctx)
	if err != nil {
		return nil, err
	}
	remoteIDs, err := r.client.ListIDs(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("リモートレコードの一覧取得に失敗しました: %w", err)
	}

	report := &DriftReport{
		UnsyncedArticleIDs: make([]int64, 0, len(unsynced)),
		MissingRemote:      []MissingRecord{},
		CheckedAt:          time.Now().UTC(),
	}
	for _, a := range unsynced {
		report.UnsyncedArticleIDs = append(report.UnsyncedArticleIDs, a.ID)
	}

	remote := make(map[string]struct{}, len(remoteIDs))
	for _, id := range remoteIDs {
		remote[id] = struct{}{}
		if _, ok := local[id]; !ok {
			report.RemoteOnlyCount++
		}
	}
	for externalID, articleID := range local {
		if _, ok := remote[externalID]; !ok {
			report.MissingRemote = append(report.MissingRemote, MissingRecord{ExternalID: externalID, ArticleID: articleID})
		}
	}
	sort.Slice(report.MissingRemote, func(i, j int) bool {
		return report.MissingRemote[i].ArticleID < report.MissingRemote[j].ArticleID
	})

	return report, nil
}
