package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.Append(ResultSuccess)
	c.Append(ResultSuccess)
	c.Append(ResultFailure)
	c.ChainConflict()
	c.Verify(ResultBroken)

	if got := testutil.ToFloat64(c.appends.WithLabelValues(ResultSuccess)); got != 2 {
		t.Fatalf("expected 2 successful appends, got %v", got)
	}
	if got := testutil.ToFloat64(c.chainConflicts); got != 1 {
		t.Fatalf("expected 1 conflict, got %v", got)
	}

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `auditchain_verify_total{result="broken"} 1`) {
		t.Fatalf("expected verify counter in exposition:\n%s", w.Body.String())
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.Append(ResultSuccess)
	c.ChainConflict()
	c.Verify(ResultSuccess)
	c.StreamDrop()
	if c.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}
