package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/internal/testutil"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/retry"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, mock *testutil.MockGLPI, sleeper *testutil.Sleeper, opts ...Option) *Manager {
	t.Helper()
	policy := retry.DefaultPolicy()
	policy.Sleep = sleeper.Sleep
	return NewManager(Config{
		BaseURL:   mock.URL(),
		AppToken:  testutil.DefaultAppToken,
		UserToken: testutil.DefaultUserToken,
		Retry:     policy,
	}, mock.Client(), zerolog.Nop(), opts...)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{BaseURL: "http://glpi.local/apirest.php/"}, nil, zerolog.Nop())

	if m.cfg.TTL != time.Hour {
		t.Errorf("TTL = %v, want 1h", m.cfg.TTL)
	}
	if m.cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", m.cfg.Retry.MaxAttempts)
	}
	if m.BaseURL() != "http://glpi.local/apirest.php" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", m.BaseURL())
	}
	if m.State() != StateUnauthenticated {
		t.Errorf("State = %v, want unauthenticated", m.State())
	}
}

func TestEnsureAuthenticated_Success(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	m := newTestManager(t, mock, testutil.NoSleep())

	if err := m.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Valid() {
		t.Error("session should be valid after login")
	}
	if m.State() != StateAuthenticated {
		t.Errorf("State = %v, want authenticated", m.State())
	}

	// A valid session is reused.
	if err := m.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mock.GetInitSessionCount(); got != 1 {
		t.Errorf("initSession calls = %d, want 1", got)
	}
}

func TestEnsureAuthenticated_MissingCredentials(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	sleeper := testutil.NoSleep()
	m := NewManager(Config{BaseURL: mock.URL(), AppToken: "app"}, mock.Client(), zerolog.Nop())
	m.cfg.Retry.Sleep = sleeper.Sleep

	err := m.EnsureAuthenticated(context.Background())
	if !errors.Is(err, glpi.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if got := mock.GetInitSessionCount(); got != 0 {
		t.Errorf("initSession calls = %d, want 0 (no retry on configuration errors)", got)
	}
	if len(sleeper.Waits()) != 0 {
		t.Errorf("waits = %v, want none", sleeper.Waits())
	}
}

func TestEnsureAuthenticated_RetriesThenFails(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.FailLogins(10, http.StatusInternalServerError)

	sleeper := testutil.NoSleep()
	m := newTestManager(t, mock, sleeper)

	err := m.EnsureAuthenticated(context.Background())
	if !errors.Is(err, glpi.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if !errors.Is(err, retry.ErrRetryExhausted) {
		t.Errorf("err = %v, want it to wrap ErrRetryExhausted", err)
	}
	if got := mock.GetInitSessionCount(); got != 3 {
		t.Errorf("initSession calls = %d, want 3", got)
	}
	if got := sleeper.Total(); got != 3*time.Second {
		t.Errorf("total backoff = %v, want 3s", got)
	}
	if m.State() != StateUnauthenticated {
		t.Errorf("State = %v, want unauthenticated", m.State())
	}
}

func TestEnsureAuthenticated_RecoversAfterFailure(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.FailLogins(2, http.StatusServiceUnavailable)

	sleeper := testutil.NoSleep()
	m := newTestManager(t, mock, sleeper)

	if err := m.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waits := sleeper.Waits()
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Errorf("waits = %v, want [1s 2s]", waits)
	}
}

func TestEnsureAuthenticated_TransportError(t *testing.T) {
	mock := testutil.NewMockGLPI()
	url := mock.URL()
	mock.Close()

	policy := retry.DefaultPolicy()
	policy.Sleep = testutil.NoSleep().Sleep
	m := NewManager(Config{
		BaseURL:   url,
		AppToken:  testutil.DefaultAppToken,
		UserToken: testutil.DefaultUserToken,
		Retry:     policy,
	}, nil, zerolog.Nop())

	err := m.EnsureAuthenticated(context.Background())
	if !errors.Is(err, glpi.ErrAuthentication) || !errors.Is(err, glpi.ErrTransport) {
		t.Errorf("err = %v, want ErrAuthentication wrapping ErrTransport", err)
	}
}

func TestEnsureAuthenticated_BadUserToken(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.UserToken = "something-else"

	m := newTestManager(t, mock, testutil.NoSleep())

	err := m.EnsureAuthenticated(context.Background())
	var apiErr *glpi.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("err = %v, want APIError 401", err)
	}
}

func TestValid_TTLBoundary(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	clock := &fakeClock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	m := newTestManager(t, mock, testutil.NoSleep(), WithClock(clock.Now))

	if err := m.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(time.Hour - time.Second)
	if !m.Valid() {
		t.Error("session should be valid just before the TTL")
	}

	clock.Advance(2 * time.Second)
	if m.Valid() {
		t.Error("session should be invalid just after the TTL")
	}
	if m.State() != StateUnauthenticated {
		t.Errorf("State = %v, want unauthenticated after expiry", m.State())
	}
	if m.Token() != "" {
		t.Error("expired session must not expose its token")
	}

	if err := m.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mock.GetInitSessionCount(); got != 2 {
		t.Errorf("initSession calls = %d, want 2 after expiry", got)
	}
}

func TestHeaders(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	m := newTestManager(t, mock, testutil.NoSleep())

	h, err := m.Headers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Get("App-Token") != testutil.DefaultAppToken {
		t.Errorf("App-Token = %q", h.Get("App-Token"))
	}
	if h.Get("Session-Token") != "session-1" {
		t.Errorf("Session-Token = %q, want session-1", h.Get("Session-Token"))
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
}

func TestInvalidateToken(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	m := newTestManager(t, mock, testutil.NoSleep())
	if err := m.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.InvalidateToken("stale") {
		t.Error("InvalidateToken should ignore a token that is not current")
	}
	if !m.Valid() {
		t.Error("session should survive a stale invalidation")
	}

	if !m.InvalidateToken("session-1") {
		t.Error("InvalidateToken should drop the current token")
	}
	if m.Valid() || m.State() != StateUnauthenticated {
		t.Error("session should be unauthenticated after invalidation")
	}
}

func TestClose(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	m := newTestManager(t, mock, testutil.NoSleep())
	if err := m.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.Close(context.Background())

	if got := mock.GetKillSessionCount(); got != 1 {
		t.Errorf("killSession calls = %d, want 1", got)
	}
	if mock.ActiveSessions() != 0 {
		t.Error("remote session should be gone")
	}
	if m.Valid() || m.State() != StateUnauthenticated {
		t.Error("local state should be cleared")
	}

	// Closing again is a no-op.
	m.Close(context.Background())
	if got := mock.GetKillSessionCount(); got != 1 {
		t.Errorf("killSession calls = %d, want 1", got)
	}
}

func TestClose_ClearsStateWhenRemoteFails(t *testing.T) {
	mock := testutil.NewMockGLPI()

	m := newTestManager(t, mock, testutil.NoSleep())
	if err := m.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mock.Close()

	m.Close(context.Background())

	if m.Valid() || m.State() != StateUnauthenticated {
		t.Error("local state should be cleared even when killSession fails")
	}
}

func TestEnsureAuthenticated_ConcurrentCallersShareLogin(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	m := newTestManager(t, mock, testutil.NoSleep())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.EnsureAuthenticated(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := mock.GetInitSessionCount(); got != 1 {
		t.Errorf("initSession calls = %d, want 1", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnauthenticated, "unauthenticated"},
		{StateAuthenticating, "authenticating"},
		{StateAuthenticated, "authenticated"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
