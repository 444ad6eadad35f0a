// Package webhook は記事の状態変化を外部サービスに通知する。
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pressroom/internal/metrics"
	"github.com/hitoshi/pressroom/internal/settings"
)

// Action は通知するイベントの種別。
type Action string

const (
	ActionPublished Action = "published"
	ActionEdited    Action = "edited"
	ActionDeleted   Action = "deleted"
)

// FailureReason は送信失敗の分類。
type FailureReason string

const (
	ReasonTimeout           FailureReason = "timeout"
	ReasonDNS               FailureReason = "dns"
	ReasonConnectionRefused FailureReason = "connection_refused"
	ReasonHTTPStatus        FailureReason = "http_status"
	ReasonOther             FailureReason = "other"
)

const (
	// maxLoggedBody はログに残すレスポンスボディの最大バイト数。
	maxLoggedBody = 512
	// DeliveryHeader は配信ごとに一意なIDを入れるヘッダー。
	DeliveryHeader = "X-Pressroom-Delivery"
	userAgent      = "pressroom-webhook/1.0"
)

// Payload は通知のリクエストボディ。
type Payload struct {
	Action    Action `json:"action"`
	ArticleID int64  `json:"articleId"`
	Timestamp string `json:"timestamp"`
}

// Outcome は1回の通知の結果。
type Outcome struct {
	Delivered  bool
	Skipped    bool
	DeliveryID string
	StatusCode int
	Reason     FailureReason
	Err        error
}

// ConfigSource は通知先の設定を返す。settings.Providerが実装する。
type ConfigSource interface {
	Webhook(ctx context.Context) settings.Webhook
}

// MetricsRecorder は通知結果のメトリクスを記録する。
type MetricsRecorder interface {
	RecordWebhook(action, result string)
}

// Notifier はWebhookを1回だけ送信する。再試行は行わず、失敗はログとOutcomeで返す。
type Notifier struct {
	httpClient *http.Client
	config     ConfigSource
	metrics    MetricsRecorder
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

// NewNotifier はNotifierを生成する。timeoutは1回の送信全体の上限。
func NewNotifier(httpClient *http.Client, config ConfigSource, m MetricsRecorder, logger *slog.Logger, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		httpClient: httpClient,
		config:     config,
		metrics:    m,
		logger:     logger,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Notify は記事のイベントを通知する。
func (n *Notifier) Notify(ctx context.Context, action Action, articleID int64) Outcome {
	cfg := n.config.Webhook(ctx)
	if !cfg.Configured() {
		n.logger.Info("Webhookの通知先が未設定のため送信をスキップしました",
			slog.String("action", string(action)),
			slog.Int64("article_id", articleID),
		)
		n.metrics.RecordWebhook(string(action), metrics.ResultSkipped)
		return Outcome{Skipped: true}
	}

	out := n.send(ctx, cfg.URL, action, articleID)
	if out.Delivered {
		n.metrics.RecordWebhook(string(action), metrics.ResultSuccess)
	} else {
		n.metrics.RecordWebhook(string(action), metrics.ResultFailure)
	}
	return out
}

func (n *Notifier) send(ctx context.Context, endpoint string, action Action, articleID int64) Outcome {
	deliveryID := uuid.NewString()
	out := Outcome{DeliveryID: deliveryID}

	body, err := json.Marshal(Payload{
		Action:    action,
		ArticleID: articleID,
		Timestamp: n.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		out.Reason = ReasonOther
		out.Err = fmt.Errorf("Webhookペイロードのエンコードに失敗しました: %w", err)
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		out.Reason = ReasonOther
		out.Err = fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		n.logFailure(out, action, articleID, "")
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(DeliveryHeader, deliveryID)

	n.logger.Info("Webhookを送信します",
		slog.String("delivery_id", deliveryID),
		slog.String("action", string(action)),
		slog.Int64("article_id", articleID),
		slog.String("url", endpoint),
	)

	start := time.Now()
	resp, err := n.httpClient.Do(req)
	if err != nil {
		out.Reason = Classify(err)
		out.Err = fmt.Errorf("Webhookの送信に失敗しました: %w", err)
		n.logFailure(out, action, articleID, "")
		return out
	}
	defer resp.Body.Close()

	out.StatusCode = resp.StatusCode
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out.Reason = ReasonHTTPStatus
		out.Err = fmt.Errorf("Webhookの送信先がエラーを返しました: status=%d", resp.StatusCode)
		n.logFailure(out, action, articleID, string(respBody))
		return out
	}

	out.Delivered = true
	n.logger.Info("Webhookを送信しました",
		slog.String("delivery_id", deliveryID),
		slog.String("action", string(action)),
		slog.Int64("article_id", articleID),
		slog.Int("http_status", resp.StatusCode),
		slog.String("response_body", string(respBody)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return out
}

func (n *Notifier) logFailure(out Outcome, action Action, articleID int64, respBody string) {
	attrs := []any{
		slog.String("delivery_id", out.DeliveryID),
		slog.String("action", string(action)),
		slog.Int64("article_id", articleID),
		slog.String("reason", string(out.Reason)),
		slog.String("error", out.Err.Error()),
	}
	if out.StatusCode != 0 {
		attrs = append(attrs, slog.Int("http_status", out.StatusCode))
	}
	if respBody != "" {
		attrs = append(attrs, slog.String("response_body", respBody))
	}
	n.logger.Error("Webhookの送信に失敗しました", attrs...)
}

// Classify は送信エラーを分類する。
func Classify(err error) FailureReason {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ReasonTimeout
		}
		return ReasonDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonOther
}
