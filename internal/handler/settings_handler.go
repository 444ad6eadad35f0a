package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pressroom/internal/middleware"
	"github.com/hitoshi/pressroom/internal/model"
	"github.com/hitoshi/pressroom/internal/settings"
)

// SettingsWriter は外部連携設定の更新。settings.Providerが実装する。
type SettingsWriter interface {
	Set(ctx context.Context, service, key, value string) error
}

// SettingsHandler は外部連携設定のHTTPハンドラー。
// 値は次のサイクルから反映される。
type SettingsHandler struct {
	writer SettingsWriter
}

// NewSettingsHandler はSettingsHandlerを生成する。
func NewSettingsHandler(writer SettingsWriter) *SettingsHandler {
	return &SettingsHandler{writer: writer}
}

type updateSettingRequest struct {
	Value string `json:"value"`
}

// UpdateSetting は設定値を1件保存する。
// PUT /admin/settings/{service}/{key}
func (h *SettingsHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	key := chi.URLParam(r, "key")

	var req updateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	if err := h.writer.Set(r.Context(), service, key, req.Value); err != nil {
		if errors.Is(err, settings.ErrUnknownSetting) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnknownSettingError(service, key))
			return
		}
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 値には認証情報が含まれるためログに出さない
	slog.Info("外部連携設定を更新しました",
		slog.String("service", service),
		slog.String("key", key),
	)
	w.WriteHeader(http.StatusNoContent)
}
