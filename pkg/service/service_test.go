package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/internal/testutil"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/cache"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/dashboard"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/ranking"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/tickets"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newService(t *testing.T, mock *testutil.MockGLPI, mutate func(*Config)) (*Service, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	cfg := Config{
		BaseURL:    mock.URL(),
		AppToken:   testutil.DefaultAppToken,
		UserToken:  testutil.DefaultUserToken,
		HTTPClient: mock.Client(),
		Sleep:      testutil.NoSleep().Sleep,
		Now:        clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	svc, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return svc, clock
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{AppToken: "a", UserToken: "u"}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, glpi.ErrConfiguration))
}

func TestGetSystemStatus_Online(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	svc, _ := newService(t, mock, nil)

	status := svc.GetSystemStatus(context.Background())
	assert.Equal(t, Online, status.Status)
	assert.True(t, status.TokenValid)
	assert.GreaterOrEqual(t, status.ResponseTime, 0.0)

	// A valid session is reused.
	status = svc.GetSystemStatus(context.Background())
	assert.Equal(t, Online, status.Status)
	assert.Equal(t, 1, mock.GetInitSessionCount())
}

func TestGetSystemStatus_AuthenticationFailure(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	svc, _ := newService(t, mock, func(c *Config) { c.UserToken = "revoked" })

	status := svc.GetSystemStatus(context.Background())
	assert.Equal(t, Warning, status.Status)
	assert.False(t, status.TokenValid)
	assert.Equal(t, "GLPI reachable but authentication failed", status.Message)
}

func TestGetSystemStatus_MissingCredentials(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	svc, _ := newService(t, mock, func(c *Config) { c.AppToken, c.UserToken = "", "" })

	status := svc.GetSystemStatus(context.Background())
	assert.Equal(t, Warning, status.Status)
	assert.Equal(t, 0, mock.GetInitSessionCount())
}

func TestGetSystemStatus_Unreachable(t *testing.T) {
	mock := testutil.NewMockGLPI()
	svc, _ := newService(t, mock, nil)
	mock.Close()

	status := svc.GetSystemStatus(context.Background())
	assert.Equal(t, Offline, status.Status)
	assert.False(t, status.TokenValid)
	assert.Contains(t, status.Message, "connection error")
}

func TestGetDashboardMetrics_CacheTTLOverride(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.TicketCounter = func([]glpi.Criterion) int { return 2 }

	svc, clock := newService(t, mock, func(c *Config) {
		c.CacheTTLs = map[cache.Resource]time.Duration{cache.ResourceDashboardMetrics: time.Minute}
	})
	ctx := context.Background()

	snap, err := svc.GetDashboardMetrics(ctx, dashboard.Filters{})
	require.NoError(t, err)
	assert.Equal(t, dashboard.OutcomeOK, snap.Outcome)
	assert.Equal(t, 12, snap.Summary.Total)
	searches := mock.GetSearchCount(glpi.ItemTicket)

	clock.now = clock.now.Add(59 * time.Second)
	snap, err = svc.GetDashboardMetrics(ctx, dashboard.Filters{})
	require.NoError(t, err)
	assert.True(t, snap.Cached)
	assert.Equal(t, searches, mock.GetSearchCount(glpi.ItemTicket))

	clock.now = clock.now.Add(2 * time.Second)
	snap, err = svc.GetDashboardMetrics(ctx, dashboard.Filters{})
	require.NoError(t, err)
	assert.False(t, snap.Cached)
	assert.Equal(t, 2*searches, mock.GetSearchCount(glpi.ItemTicket))
}

func TestGetDashboardMetricsWithDateFilter(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.TicketCounter = func([]glpi.Criterion) int { return 1 }

	svc, _ := newService(t, mock, nil)

	snap, err := svc.GetDashboardMetricsWithDateFilter(context.Background(), "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", snap.Filters.StartDate)
	assert.Equal(t, "2024-01-31", snap.Filters.EndDate)
}

func TestGetTechnicianRanking(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.AddTechnician(1, "ana", "Ana", "Souza", ranking.DefaultProfileID, 89)
	mock.AddTechnician(2, "bruno", "Bruno", "Lima", ranking.DefaultProfileID, 91)
	mock.TicketCounter = func(criteria []glpi.Criterion) int {
		for _, c := range criteria {
			if c.Value == "2" {
				return 9
			}
		}
		return 4
	}

	svc, _ := newService(t, mock, nil)

	list, err := svc.GetTechnicianRanking(context.Background(), 5, ranking.Filters{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Bruno Lima", list[0].Name)
	assert.Equal(t, "N3", list[0].Level)
	assert.Equal(t, "Ana Souza", list[1].Name)
}

func TestGetNewTickets(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.AddRows(glpi.ItemTicket,
		glpi.Row{"2": 7, "1": "Printer jam", "12": 1, "15": "2024-03-01 09:00:00", "4": "ana", "3": 3},
		glpi.Row{"2": 8, "1": "Closed", "12": 6, "15": "2024-03-02 09:00:00", "4": "ana", "3": 3},
	)

	svc, _ := newService(t, mock, nil)

	list, err := svc.GetNewTickets(context.Background(), 10, tickets.Filters{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Printer jam", list[0].Title)
}

func TestClose(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	svc, _ := newService(t, mock, nil)
	require.Equal(t, Online, svc.GetSystemStatus(context.Background()).Status)

	svc.Close(context.Background())
	assert.Equal(t, 1, mock.GetKillSessionCount())
	assert.Equal(t, 0, mock.ActiveSessions())

	// Close without a session is a no-op.
	svc.Close(context.Background())
	assert.Equal(t, 1, mock.GetKillSessionCount())
}
