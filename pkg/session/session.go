// Package session manages the GLPI session token: login through initSession,
// expiry after a fixed lifetime, invalidation on 401 and best-effort logout.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for session handling.
var (
	authAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glpi_auth_attempts_total",
		Help: "Total GLPI login attempts by outcome",
	}, []string{"outcome"})

	sessionValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glpi_session_valid",
		Help: "1 when a valid GLPI session token is held, 0 otherwise",
	})
)

// DefaultTTL is how long a session token is trusted after login.
const DefaultTTL = time.Hour

// DefaultLoginTimeout bounds a single initSession call.
const DefaultLoginTimeout = 10 * time.Second

// State is the lifecycle state of the session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Config holds the session settings.
type Config struct {
	// BaseURL is the GLPI REST root, e.g. "http://glpi.local/apirest.php".
	BaseURL string

	AppToken  string
	UserToken string

	// TTL is the session lifetime (default 1h).
	TTL time.Duration

	// LoginTimeout bounds each initSession call (default 10s).
	LoginTimeout time.Duration

	// Retry is applied to login failures.
	Retry retry.Policy
}

// Manager owns the session token. It is safe for concurrent use; logins are
// serialized so concurrent callers share a single initSession round trip.
type Manager struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	authMu sync.Mutex

	mu        sync.RWMutex
	token     string
	createdAt time.Time
	state     State
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager. A nil httpClient uses http.DefaultClient.
func NewManager(cfg Config, httpClient *http.Client, logger zerolog.Logger, opts ...Option) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		sleep := cfg.Retry.Sleep
		cfg.Retry = retry.DefaultPolicy()
		cfg.Retry.Sleep = sleep
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	m := &Manager{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BaseURL returns the normalized GLPI REST root.
func (m *Manager) BaseURL() string {
	return m.cfg.BaseURL
}

// Valid reports whether a token is held and younger than the TTL.
func (m *Manager) Valid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validLocked()
}

func (m *Manager) validLocked() bool {
	return m.token != "" && m.now().Sub(m.createdAt) < m.cfg.TTL
}

// State returns the current lifecycle state. An expired token reports
// StateUnauthenticated.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateAuthenticated && !m.validLocked() {
		return StateUnauthenticated
	}
	return m.state
}

// EnsureAuthenticated logs in when no valid token is held.
//
// Missing credentials fail immediately with glpi.ErrConfiguration. Login
// failures are retried per the retry policy and then reported as
// glpi.ErrAuthentication (also wrapping glpi.ErrTransport when the last
// attempt could not reach the server).
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	if m.Valid() {
		return nil
	}

	m.authMu.Lock()
	defer m.authMu.Unlock()

	// Another caller may have logged in while we waited.
	if m.Valid() {
		return nil
	}

	if m.cfg.AppToken == "" || m.cfg.UserToken == "" {
		authAttemptsTotal.WithLabelValues("config_error").Inc()
		m.logger.Error().Msg("GLPI app token and user token are not configured")
		return fmt.Errorf("%w: GLPI app token and user token are required", glpi.ErrConfiguration)
	}

	m.logger.Info().Msg("Session token missing or expired, authenticating")
	m.setState(StateAuthenticating)

	err := retry.Do(ctx, m.cfg.Retry, "session_login", func(attempt int) error {
		if err := m.login(ctx); err != nil {
			authAttemptsTotal.WithLabelValues("failure").Inc()
			m.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("GLPI login failed")
			return err
		}
		authAttemptsTotal.WithLabelValues("success").Inc()
		return nil
	})
	if err != nil {
		m.clear()
		m.logger.Error().Err(err).Int("max_attempts", m.cfg.Retry.MaxAttempts).Msg("GLPI authentication failed")
		return fmt.Errorf("%w: %w", glpi.ErrAuthentication, err)
	}

	m.logger.Info().Msg("GLPI authentication succeeded")
	return nil
}

type initSessionResponse struct {
	SessionToken string `json:"session_token"`
}

func (m *Manager) login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.LoginTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/initSession", nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%w: build initSession request: %v", glpi.ErrConfiguration, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("App-Token", m.cfg.AppToken)
	req.Header.Set("Authorization", "user_token "+m.cfg.UserToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: initSession: %v", glpi.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read initSession body: %v", glpi.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &glpi.APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   "/initSession",
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var payload initSessionResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: decode initSession body: %v", glpi.ErrDataShape, err)
	}
	if payload.SessionToken == "" {
		return fmt.Errorf("%w: initSession returned no session_token", glpi.ErrDataShape)
	}

	m.mu.Lock()
	m.token = payload.SessionToken
	m.createdAt = m.now()
	m.state = StateAuthenticated
	m.mu.Unlock()
	sessionValid.Set(1)

	return nil
}

// Token returns the current token, or "" when none is valid.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.validLocked() {
		return ""
	}
	return m.token
}

// Headers returns the headers for an authenticated API call, logging in
// first if needed.
func (m *Manager) Headers(ctx context.Context) (http.Header, error) {
	if err := m.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	token := m.Token()
	if token == "" {
		return nil, fmt.Errorf("%w: session invalidated concurrently", glpi.ErrAuthentication)
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("App-Token", m.cfg.AppToken)
	h.Set("Session-Token", token)
	return h, nil
}

// Invalidate drops the current token unconditionally.
func (m *Manager) Invalidate() {
	m.clear()
}

// InvalidateToken drops the session only if token is still the current one,
// so a stale 401 does not discard a session another caller just created.
func (m *Manager) InvalidateToken(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || m.token != token {
		return false
	}
	m.resetLocked()
	return true
}

// Close ends the remote session (best effort) and always clears local state.
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()

	defer m.clear()

	if token == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.LoginTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/killSession", nil)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to build killSession request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("App-Token", m.cfg.AppToken)
	req.Header.Set("Session-Token", token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to end GLPI session, continuing")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		m.logger.Warn().Int("status", resp.StatusCode).Msg("killSession rejected, continuing")
		return
	}
	m.logger.Info().Msg("GLPI session closed")
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) clear() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
}

func (m *Manager) resetLocked() {
	m.token = ""
	m.createdAt = time.Time{}
	m.state = StateUnauthenticated
	sessionValid.Set(0)
}
