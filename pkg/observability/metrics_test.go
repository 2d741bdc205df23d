package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	t.Run("creates and registers all metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		if metrics == nil {
			t.Fatal("NewMetrics returned nil")
		}

		if metrics.HTTPRequestsTotal == nil {
			t.Error("HTTPRequestsTotal is nil")
		}
		if metrics.HTTPRequestDuration == nil {
			t.Error("HTTPRequestDuration is nil")
		}
		if metrics.SubscriptionsProvisionedTotal == nil {
			t.Error("SubscriptionsProvisionedTotal is nil")
		}
		if metrics.SubscriptionsExpiredTotal == nil {
			t.Error("SubscriptionsExpiredTotal is nil")
		}
		if metrics.SubscriptionsUpgradedTotal == nil {
			t.Error("SubscriptionsUpgradedTotal is nil")
		}
		if metrics.SubscriptionsActive == nil {
			t.Error("SubscriptionsActive is nil")
		}
		if metrics.UsageAdmittedTotal == nil {
			t.Error("UsageAdmittedTotal is nil")
		}
		if metrics.UsageDeniedTotal == nil {
			t.Error("UsageDeniedTotal is nil")
		}
	})

	t.Run("nil registry creates a fresh one", func(t *testing.T) {
		metrics := NewMetrics(nil)
		if metrics == nil || metrics.registry == nil {
			t.Fatal("Expected metrics with its own registry")
		}
	})
}

func TestMetrics_Counters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.UsageAdmittedTotal.Inc()
	metrics.UsageAdmittedTotal.Inc()
	metrics.UsageDeniedTotal.Inc()
	metrics.SubscriptionsActive.Set(3)

	if got := testutil.ToFloat64(metrics.UsageAdmittedTotal); got != 2 {
		t.Errorf("Expected 2 admitted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.UsageDeniedTotal); got != 1 {
		t.Errorf("Expected 1 denied, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SubscriptionsActive); got != 3 {
		t.Errorf("Expected 3 active, got %v", got)
	}
}

func TestMetrics_InstrumentHandler(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	handler := metrics.InstrumentHandler("/subscriptions/current", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	req := httptest.NewRequest("POST", "/subscriptions/current", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}

	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/subscriptions/current", "403"))
	if count != 1 {
		t.Errorf("Expected 1 counted request, got %v", count)
	}
}

func TestMetrics_Handler(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.SubscriptionsProvisionedTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "tally_subscriptions_provisioned_total 1") {
		t.Errorf("Expected exposition to contain provisioned counter, got:\n%s", body)
	}
}
