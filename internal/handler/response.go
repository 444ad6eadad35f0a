package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pressroom/internal/middleware"
	"github.com/hitoshi/pressroom/internal/model"
	"github.com/hitoshi/pressroom/internal/publish"
	"github.com/hitoshi/pressroom/internal/recordstore"
	"github.com/hitoshi/pressroom/internal/repository"
	"github.com/hitoshi/pressroom/internal/worker/schedule"
)

// articleResponse は記事の公開状態のAPIレスポンス。
type articleResponse struct {
	ID            int64      `json:"id"`
	ExternalID    string     `json:"external_id"`
	Status        string     `json:"status"`
	Republished   bool       `json:"republished"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	PublishedAt   *time.Time `json:"published_at"`
	SocialMediaID string     `json:"social_media_id,omitempty"`
}

// effectResponse は公開後処理1件の結果。
type effectResponse struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

func toArticleResponse(a *model.Article) articleResponse {
	return articleResponse{
		ID:            a.ID,
		ExternalID:    a.ExternalID,
		Status:        string(a.Status),
		Republished:   a.Republished,
		ScheduledAt:   a.ScheduledAt,
		PublishedAt:   a.PublishedAt,
		SocialMediaID: a.SocialMediaID,
	}
}

func toEffectResponses(outcomes []publish.EffectOutcome) []effectResponse {
	res := make([]effectResponse, 0, len(outcomes))
	for _, o := range outcomes {
		res = append(res, toEffectResponse(o))
	}
	return res
}

func toEffectResponse(o publish.EffectOutcome) effectResponse {
	return effectResponse{
		Step:    string(o.Step),
		Success: o.Success,
		Detail:  o.Detail,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseArticleID はURLパラメータから記事IDを取り出す。
// 不正な値の場合は400レスポンスを書き込み、falseを返す。
func parseArticleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidArticleIDError(raw))
		return 0, false
	}
	return id, true
}

// handleServiceError はサービス層のエラーをステータスコード付きの統一エラーに変換して書き込む。
func handleServiceError(w http.ResponseWriter, err error, articleID int64) {
	switch {
	case errors.Is(err, schedule.ErrCycleInProgress):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewSchedulerBusyError())
	case errors.Is(err, publish.ErrArticleNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewArticleNotFoundError(articleID))
	case errors.Is(err, repository.ErrAlreadyPublished):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewAlreadyPublishedError(articleID))
	case errors.Is(err, repository.ErrNotPublished):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewNotPublishedError(articleID))
	case errors.Is(err, recordstore.ErrDisabled):
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewRecordStoreDisabledError())
	default:
		// 詳細はログのみに記録する
		slog.Error("internal server error",
			slog.Int64("article_id", articleID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}
