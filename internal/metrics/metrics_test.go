package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHelpersCountByLabel(t *testing.T) {
	m := New()

	m.ObserveWebhook("user.created", "created")
	m.ObserveWebhook("", "malformed_payload")
	m.ObserveDecision(true)
	m.ObserveDecision(false)
	m.ObserveDecision(false)
	m.ObserveMedia("upload", nil)
	m.ObserveMedia("delete", errors.New("boom"))

	if got := testutil.ToFloat64(m.WebhookEvents.WithLabelValues("user.created", "created")); got != 1 {
		t.Fatalf("expected one created delivery, got %v", got)
	}
	if got := testutil.ToFloat64(m.WebhookEvents.WithLabelValues("unknown", "malformed_payload")); got != 1 {
		t.Fatalf("expected empty event type to be labelled unknown, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuthorizationDecision.WithLabelValues("deny")); got != 2 {
		t.Fatalf("expected two denials, got %v", got)
	}
	if got := testutil.ToFloat64(m.MediaOperations.WithLabelValues("delete", "error")); got != 1 {
		t.Fatalf("expected one failed delete, got %v", got)
	}
}

func TestNilMetricsIgnoreObservations(t *testing.T) {
	var m *Metrics
	m.ObserveWebhook("user.deleted", "deleted")
	m.ObserveDecision(true)
	m.ObserveMedia("purge", nil)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveDecision(true)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body, _ := io.ReadAll(recorder.Body)
	if !strings.Contains(string(body), `gurukul_authorization_decisions_total{decision="allow"} 1`) {
		t.Fatalf("expected decision counter in exposition, got:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("expected runtime collectors in exposition")
	}
}
