package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestClient(t *testing.T, server *httptest.Server, maxRetries int) *Client {
	t.Helper()
	var buf bytes.Buffer
	return NewClient(server.Client(), newTestLogger(&buf), ClientOptions{
		BaseURL:    server.URL,
		RateLimit:  1000,
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
}

var testTarget = Target{APIKey: "key-123", BaseID: "appBase", Table: "Articles"}

func TestClient_Create(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("HTTPメソッド = %s, want POST", r.Method)
		}
		if r.URL.Path != "/appBase/Articles" {
			t.Errorf("パス = %s, want /appBase/Articles", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-123" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer key-123")
		}

		var body struct {
			Fields   map[string]any `json:"fields"`
			Typecast bool           `json:"typecast"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("リクエストボディのデコードに失敗: %v", err)
		}
		if body.Fields[FieldName] != "タイトル" {
			t.Errorf("Name = %v, want タイトル", body.Fields[FieldName])
		}
		if !body.Typecast {
			t.Error("typecast は true であるべき")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"recABC","createdTime":"2026-01-01T00:00:00.000Z","fields":{}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, 0)
	rec, err := c.Create(context.Background(), testTarget, Fields{FieldName: "タイトル"})
	if err != nil {
		t.Fatalf("Create がエラーを返した: %v", err)
	}
	if rec.ID != "recABC" {
		t.Errorf("ID = %q, want %q", rec.ID, "recABC")
	}
}

func TestClient_Create_EmptyIDIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fields":{}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, 0)
	if _, err := c.Create(context.Background(), testTarget, Fields{}); err == nil {
		t.Fatal("IDのないレスポンスはエラーになるべき")
	}
}

func TestClient_Update_UsesPatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("HTTPメソッド = %s, want PATCH", r.Method)
		}
		if r.URL.Path != "/appBase/Articles/recXYZ" {
			t.Errorf("パス = %s, want /appBase/Articles/recXYZ", r.URL.Path)
		}
		w.Write([]byte(`{"id":"recXYZ","fields":{}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, 0)
	rec, err := c.Update(context.Background(), testTarget, "recXYZ", Fields{FieldStatus: "published"})
	if err != nil {
		t.Fatalf("Update がエラーを返した: %v", err)
	}
	if rec.ID != "recXYZ" {
		t.Errorf("ID = %q, want recXYZ", rec.ID)
	}
}

func TestClient_RetriesOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"type":"RATE_LIMIT_REACHED","message":"slow down"}}`))
			return
		}
		w.Write([]byte(`{"id":"recRetry","fields":{}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, 2)
	rec, err := c.Create(context.Background(), testTarget, Fields{})
	if err != nil {
		t.Fatalf("再試行後に成功すべき: %v", err)
	}
	if rec.ID != "recRetry" {
		t.Errorf("ID = %q, want recRetry", rec.ID)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("呼び出し回数 = %d, want 2", got)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server, 2)
	_, err := c.Create(context.Background(), testTarget, Fields{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIError が返るべき: %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", apiErr.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("呼び出し回数 = %d, want 3（初回 + 再試行2回）", got)
	}
}

func TestClient_NoRetryOnUnprocessable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"type":"UNKNOWN_FIELD_NAME","message":"Unknown field name: \"Image URL\""}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, 2)
	_, err := c.Update(context.Background(), testTarget, "rec1", Fields{FieldImageURL: "x"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIError が返るべき: %v", err)
	}
	if !apiErr.IsUnknownField() {
		t.Errorf("IsUnknownField() = false, want true (type=%s)", apiErr.Type)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("呼び出し回数 = %d, want 1（4xxは再試行しない）", got)
	}
}

func TestParseAPIError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantType    string
		wantMessage string
	}{
		{
			name:        "オブジェクト形式",
			status:      422,
			body:        `{"error":{"type":"INVALID_VALUE_FOR_COLUMN","message":"bad value"}}`,
			wantType:    "INVALID_VALUE_FOR_COLUMN",
			wantMessage: "bad value",
		},
		{
			name:     "文字列形式",
			status:   404,
			body:     `{"error":"NOT_FOUND"}`,
			wantType: "NOT_FOUND",
		},
		{
			name:        "JSON以外",
			status:      502,
			body:        "Bad Gateway",
			wantMessage: "Bad Gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Body:       io.NopCloser(bytes.NewBufferString(tt.body)),
			}
			apiErr := parseAPIError(resp)
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", apiErr.Type, tt.wantType)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestClient_ListIDs_FollowsOffset(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("HTTPメソッド = %s, want GET", r.Method)
		}
		if got := r.URL.Query().Get("fields[]"); got != FieldLocalID {
			t.Errorf("fields[] = %q, want %q", got, FieldLocalID)
		}

		calls.Add(1)
		switch r.URL.Query().Get("offset") {
		case "":
			w.Write([]byte(`{"records":[{"id":"rec1","fields":{}},{"id":"rec2","fields":{}}],"offset":"page2"}`))
		case "page2":
			w.Write([]byte(`{"records":[{"id":"rec3","fields":{}}]}`))
		default:
			t.Errorf("予期しないoffset: %s", r.URL.Query().Get("offset"))
		}
	}))
	defer server.Close()

	c := newTestClient(t, server, 0)
	ids, err := c.ListIDs(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("ListIDs がエラーを返した: %v", err)
	}

	want := []string{"rec1", "rec2", "rec3"}
	if len(ids) != len(want) {
		t.Fatalf("件数 = %d, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("呼び出し回数 = %d, want 2", got)
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"rec1","fields":{}}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, server, 2)
	if _, err := c.Create(ctx, testTarget, Fields{}); err == nil {
		t.Fatal("キャンセル済みのコンテキストではエラーになるべき")
	}
}
