package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	// Register the collectors of the packages that record metrics.
	_ "github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/dashboard"
	_ "github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/ranking"
	_ "github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/session"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestNamesAreUnique(t *testing.T) {
	seen := make(map[string]bool, len(Names))
	for _, name := range Names {
		if !strings.HasPrefix(name, "glpi_") {
			t.Errorf("metric %q lacks the glpi_ prefix", name)
		}
		if seen[name] {
			t.Errorf("metric %q listed twice", name)
		}
		seen[name] = true
	}
}

func TestHandler(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)

	// Collectors without labels are exported before their first use.
	for _, name := range []string{
		"glpi_session_valid",
		"glpi_dashboard_degraded_queries_total",
		"glpi_ranking_fallback_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("scrape output missing %s", name)
		}
	}
}
