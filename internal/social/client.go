// Package social はSNS（Graph API互換）へのメディア投稿を提供する。
// 投稿はメディアコンテナの作成とその公開の2段階で行う。
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// maxResponseBody はレスポンスから読み取る最大バイト数。
const maxResponseBody = 64 * 1024

// Account は投稿先アカウントの認証情報。
type Account struct {
	ID          string
	AccessToken string
}

// ImageUpload はmultipartで送信する画像。
type ImageUpload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// APIError はGraph APIが返したエラー。
type APIError struct {
	StatusCode int
	Type       string
	Code       int
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("SNS APIエラー (status=%d, type=%s, code=%d): %s", e.StatusCode, e.Type, e.Code, e.Message)
}

// Client はGraph APIのメディア投稿クライアント。再試行は行わない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	graphURL   string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, graphURL string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		graphURL:   strings.TrimRight(graphURL, "/"),
	}
}

// CreateImageContainer は画像バイナリをmultipartで送信してメディアコンテナを作成する。
func (c *Client) CreateImageContainer(ctx context.Context, acct Account, img ImageUpload, caption string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("caption", caption); err != nil {
		return "", fmt.Errorf("multipartの書き込みに失敗しました: %w", err)
	}
	if err := w.WriteField("access_token", acct.AccessToken); err != nil {
		return "", fmt.Errorf("multipartの書き込みに失敗しました: %w", err)
	}

	filename := img.Filename
	if filename == "" {
		filename = "image"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", img.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("multipartの書き込みに失敗しました: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return "", fmt.Errorf("multipartの書き込みに失敗しました: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("multipartの書き込みに失敗しました: %w", err)
	}

	return c.post(ctx, c.endpoint(acct, "media"), w.FormDataContentType(), &buf)
}

// CreateURLContainer は公開URLを指定してメディアコンテナを作成する。
func (c *Client) CreateURLContainer(ctx context.Context, acct Account, imageURL, caption string) (string, error) {
	form := url.Values{}
	form.Set("image_url", imageURL)
	form.Set("caption", caption)
	form.Set("access_token", acct.AccessToken)

	return c.post(ctx, c.endpoint(acct, "media"), "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

// Publish はメディアコンテナを公開し、投稿のメディアIDを返す。
func (c *Client) Publish(ctx context.Context, acct Account, creationID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", creationID)
	form.Set("access_token", acct.AccessToken)

	return c.post(ctx, c.endpoint(acct, "media_publish"), "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (c *Client) endpoint(acct Account, edge string) string {
	return c.graphURL + "/" + url.PathEscape(acct.ID) + "/" + edge
}

// post はリクエストを送信し、レスポンスの id を返す。
func (c *Client) post(ctx context.Context, endpoint, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("SNS APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	c.logger.Debug("SNS APIを呼び出しました",
		slog.String("url", endpoint),
		slog.Int("http_status", resp.StatusCode),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", parseAPIError(resp.StatusCode, data)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("レスポンスにIDが含まれていません: %s", string(data))
	}
	return result.ID, nil
}

// parseAPIError は {"error":{"message","type","code"}} 形式のエラーを変換する。
func parseAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Message == "" {
		apiErr.Message = string(data)
		return apiErr
	}

	apiErr.Type = envelope.Error.Type
	apiErr.Code = envelope.Error.Code
	apiErr.Message = envelope.Error.Message
	return apiErr
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
