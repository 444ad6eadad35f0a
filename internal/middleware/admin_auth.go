// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/pressroom/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// operatorContextKey はリクエストコンテキストに操作者を格納するためのキー。
var operatorContextKey = contextKey("operator")

const (
	// OperatorAdmin は管理トークンで認証された操作者。
	OperatorAdmin = "admin"
	// OperatorAnonymous は管理トークン未設定時の操作者。
	OperatorAnonymous = "anonymous"
)

// NewAdminAuthMiddleware は Authorization: Bearer ヘッダーの管理トークンを検証するミドルウェアを返す。
// tokenが空の場合は検証を行わず、全てのリクエストを通す。
// 認証に失敗したリクエストには401 Unauthorizedを返す。
func NewAdminAuthMiddleware(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				serveAs(next, w, r, OperatorAnonymous)
				return
			}

			presented, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("管理APIの認証に失敗しました",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", clientIP(r)),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			serveAs(next, w, r, OperatorAdmin)
		})
	}
}

func serveAs(next http.Handler, w http.ResponseWriter, r *http.Request, operator string) {
	if sink, ok := w.(operatorSink); ok {
		sink.setOperator(operator)
	}
	next.ServeHTTP(w, r.WithContext(ContextWithOperator(r.Context(), operator)))
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// OperatorFromContext はリクエストコンテキストから操作者を取得する。
func OperatorFromContext(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(operatorContextKey).(string)
	return op, ok && op != ""
}

// ContextWithOperator はコンテキストに操作者を注入する。
func ContextWithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorContextKey, operator)
}
