package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ExposesWebhookLabels はWebhookのaction/resultラベルが出力されることを検証する。
func TestHandler_ExposesWebhookLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordWebhook("edited", ResultSkipped)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	want := `pressroom_webhook_total{action="edited",result="skipped"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("response should contain %q\n%s", want, body)
	}
}

// TestHandler_EmptyRegistry は何も登録されていないレジストリでも200を返すことを検証する。
func TestHandler_EmptyRegistry(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(prometheus.NewRegistry()).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
