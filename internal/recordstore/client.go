// Package recordstore はリモートのレコードストア（Airtable互換API）との同期を提供する。
// 記事ごとに1レコードを作成・更新し、返却されたレコードIDを記事に保存する。
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"
)

const (
	// maxErrorBody はエラーレスポンスから読み取る最大バイト数。
	maxErrorBody = 4096
	// listPageSize は一覧取得の1ページあたりの件数（APIの上限）。
	listPageSize = 100
)

// Target は操作対象のベースとテーブル。
type Target struct {
	APIKey string
	BaseID string
	Table  string
}

// Fields はレコードのフィールド名 → 値。
type Fields map[string]any

// Record はリモートのレコード。
type Record struct {
	ID          string `json:"id"`
	CreatedTime string `json:"createdTime,omitempty"`
	Fields      Fields `json:"fields"`
}

// APIError はレコードストアAPIが返したエラー。
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("レコードストアAPIエラー (status=%d, type=%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("レコードストアAPIエラー (status=%d, type=%s)", e.StatusCode, e.Type)
}

// Retryable は再試行で回復しうるエラーかを返す。
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsUnknownField はスキーマに存在しないフィールドを指定したエラーかを返す。
func (e *APIError) IsUnknownField() bool {
	return e.StatusCode == http.StatusUnprocessableEntity && e.Type == "UNKNOWN_FIELD_NAME"
}

// ClientOptions はClientの動作設定。
type ClientOptions struct {
	BaseURL    string
	RateLimit  float64 // 1秒あたりのリクエスト数
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client はレコードストアのREST APIクライアント。
// 全リクエストはレートリミッタを通し、429と5xx、ネットワークエラーは
// 指数バックオフで再試行する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	limiter    *rate.Limiter
	executor   failsafe.Executor[[]byte]
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, opts ClientOptions) *Client {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 10 * opts.BaseDelay
	}

	policy := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool {
			return shouldRetry(err)
		}).
		WithBackoff(opts.BaseDelay, opts.MaxDelay).
		WithMaxRetries(opts.MaxRetries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[[]byte]) {
			logger.Warn("レコードストアAPIを再試行します",
				slog.Int("attempt", e.Attempts()),
				slog.String("error", errorString(e.LastError())),
			)
		}).
		Build()

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    opts.BaseURL,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		executor:   failsafe.With[[]byte](policy),
	}
}

// shouldRetry は再試行対象のエラーかを判定する。
// コンテキストのキャンセルと4xxは再試行しない。
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// Create はレコードを1件作成する。
func (c *Client) Create(ctx context.Context, t Target, fields Fields) (*Record, error) {
	body, err := json.Marshal(map[string]any{"fields": fields, "typecast": true})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	resp, err := c.do(ctx, t, http.MethodPost, c.tableURL(t), body)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(resp, &rec); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if rec.ID == "" {
		return nil, errors.New("レスポンスにレコードIDが含まれていません")
	}
	return &rec, nil
}

// Update はレコードのフィールドを部分更新する。指定しないフィールドは変更されない。
func (c *Client) Update(ctx context.Context, t Target, id string, fields Fields) (*Record, error) {
	body, err := json.Marshal(map[string]any{"fields": fields, "typecast": true})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	resp, err := c.do(ctx, t, http.MethodPatch, c.tableURL(t)+"/"+url.PathEscape(id), body)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(resp, &rec); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return &rec, nil
}

// ListIDs はテーブルの全レコードIDを取得する。offsetによるページングを最後まで辿る。
func (c *Client) ListIDs(ctx context.Context, t Target) ([]string, error) {
	var ids []string
	offset := ""

	for {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(listPageSize))
		// 本文を含めないよう取得フィールドを絞る
		q.Add("fields[]", FieldLocalID)
		if offset != "" {
			q.Set("offset", offset)
		}

		resp, err := c.do(ctx, t, http.MethodGet, c.tableURL(t)+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			Records []Record `json:"records"`
			Offset  string   `json:"offset"`
		}
		if err := json.Unmarshal(resp, &page); err != nil {
			return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
		}
		for _, r := range page.Records {
			ids = append(ids, r.ID)
		}

		if page.Offset == "" {
			return ids, nil
		}
		offset = page.Offset
	}
}

func (c *Client) tableURL(t Target) string {
	return c.baseURL + "/" + url.PathEscape(t.BaseID) + "/" + url.PathEscape(t.Table)
}

// do はレート制限と再試行のもとでリクエストを実行し、成功時のレスポンスボディを返す。
func (c *Client) do(ctx context.Context, t Target, method, reqURL string, body []byte) ([]byte, error) {
	return c.executor.WithContext(ctx).Get(func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("レコードストアAPIの呼び出しに失敗しました: %w", err)
		}
		defer resp.Body.Close()

		c.logger.Debug("レコードストアAPIを呼び出しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, parseAPIError(resp)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
		}
		return data, nil
	})
}

// parseAPIError はエラーレスポンスをAPIErrorに変換する。
// errorフィールドはオブジェクト形式 {"type","message"} と文字列形式の両方がある。
func parseAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Error) == 0 {
		apiErr.Message = string(data)
		return apiErr
	}

	var detail struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		apiErr.Type = detail.Type
		apiErr.Message = detail.Message
		return apiErr
	}

	var code string
	if err := json.Unmarshal(envelope.Error, &code); err == nil {
		apiErr.Type = code
	}
	return apiErr
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
