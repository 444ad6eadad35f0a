package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

var requestIDContextKey = contextKey("request_id")

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードと操作者を記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
	operator   string
}

// operatorSink は内側のミドルウェアから操作者を書き戻すためのインターフェース。
type operatorSink interface {
	setOperator(op string)
}

func (sr *statusRecorder) setOperator(op string) {
	sr.operator = op
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// RequestIDFromContext はLoggingミドルウェアが割り当てたリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// requestID は受信したX-Request-IDを採用し、なければ新しいUUIDを発行する。
func requestID(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLen {
		return uuid.NewString()
	}
	for _, c := range id {
		if c > unicode.MaxASCII || !unicode.IsPrint(c) {
			return uuid.NewString()
		}
	}
	return id
}

// NewLoggingMiddleware は運用APIへのリクエストをJSON構造化ログに記録するミドルウェアを返す。
// ログには request_id, method, path, status, duration_ms, remote_addr と、認証済みの場合は operator を含む。
// リクエストIDはレスポンスヘッダーにも返す。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := requestID(r)
			w.Header().Set(RequestIDHeader, id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDContextKey, id))

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
				slog.String("remote_addr", clientIP(r)),
			}
			// 操作者は認証ミドルウェアの内側で決まるため、ラッパー経由で受け取る
			if rec.operator != "" {
				args = append(args, slog.String("operator", rec.operator))
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400:
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "運用APIリクエスト", args...)
		})
	}
}
