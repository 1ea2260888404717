// Package service composes the GLPI client components into one object that
// serves the dashboard operations. A Service is safe for concurrent use.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/batch"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/cache"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/client"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/dashboard"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/fields"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/logging"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/ranking"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/retry"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/session"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/tickets"
	"github.com/rs/zerolog"
)

// Config holds everything a Service needs. Zero values take the defaults of
// the underlying packages.
type Config struct {
	// GLPI REST root, e.g. https://glpi.example.org/apirest.php
	BaseURL   string
	AppToken  string
	UserToken string

	RequestTimeout time.Duration
	LoginTimeout   time.Duration
	SessionTTL     time.Duration

	// MaxRetries bounds login and transport attempts; RetryBase is the
	// exponential backoff base in seconds.
	MaxRetries int
	RetryBase  float64

	Levels              []fields.ServiceLevel
	TechnicianProfileID int
	RankingFallbackCap  int
	Concurrency         int

	// CacheBackend stores cached results; nil keeps them in memory.
	CacheBackend cache.Backend
	CacheTTLs    map[cache.Resource]time.Duration

	HTTPClient *http.Client

	// Sleep and Now replace the backoff wait and the clock (tests).
	Sleep retry.SleepFunc
	Now   func() time.Time
}

// Service serves the dashboard operations.
type Service struct {
	session   *session.Manager
	client    *client.Client
	cache     *cache.Manager
	discovery *fields.Discoverer
	metrics   *dashboard.Engine
	ranking   *ranking.Engine
	tickets   *tickets.Lister
	logger    zerolog.Logger
}

// New wires the components. It never contacts GLPI.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: GLPI base URL is required", glpi.ErrConfiguration)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	policy := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryBase > 0 {
		policy.Base = cfg.RetryBase
	}
	policy.Sleep = cfg.Sleep

	levels := cfg.Levels
	if len(levels) == 0 {
		levels = fields.TILevels
	}

	component := func(name string) zerolog.Logger {
		return logger.With().Str("component", name).Logger()
	}

	sess := session.NewManager(session.Config{
		BaseURL:      cfg.BaseURL,
		AppToken:     cfg.AppToken,
		UserToken:    cfg.UserToken,
		TTL:          cfg.SessionTTL,
		LoginTimeout: cfg.LoginTimeout,
		Retry:        policy,
	}, hc, component(logging.ComponentSession), session.WithClock(now))

	api := client.New(sess, hc, client.Config{Timeout: cfg.RequestTimeout, Retry: policy}, component(logging.ComponentClient))

	cacheOpts := []cache.Option{cache.WithClock(now)}
	for resource, ttl := range cfg.CacheTTLs {
		cacheOpts = append(cacheOpts, cache.WithTTL(resource, ttl))
	}
	cm := cache.NewManager(cfg.CacheBackend, component(logging.ComponentCache), cacheOpts...)

	disc := fields.NewDiscoverer(api, cm, component(logging.ComponentFields))

	workers := batch.DefaultConfig()
	if cfg.Concurrency > 0 {
		workers.MaxConcurrency = cfg.Concurrency
	}

	metricsCfg := dashboard.DefaultConfig()
	metricsCfg.Levels = levels
	metricsCfg.Batch.MaxConcurrency = workers.MaxConcurrency
	metricsCfg.Now = now

	rankingCfg := ranking.DefaultConfig()
	rankingCfg.Levels = levels
	rankingCfg.ProfileID = cfg.TechnicianProfileID
	rankingCfg.FallbackCap = cfg.RankingFallbackCap
	rankingCfg.Batch.MaxConcurrency = workers.MaxConcurrency

	return &Service{
		session:   sess,
		client:    api,
		cache:     cm,
		discovery: disc,
		metrics:   dashboard.New(api, sess, disc, cm, metricsCfg, component(logging.ComponentDashboard)),
		ranking:   ranking.New(api, sess, disc, cm, rankingCfg, component(logging.ComponentRanking)),
		tickets:   tickets.New(api, sess, disc, component(logging.ComponentTickets)),
		logger:    component(logging.ComponentService),
	}, nil
}

// GetDashboardMetrics returns the dashboard snapshot for filters.
func (s *Service) GetDashboardMetrics(ctx context.Context, filters dashboard.Filters) (*dashboard.Snapshot, error) {
	return s.metrics.GetDashboardMetrics(ctx, filters)
}

// GetDashboardMetricsWithDateFilter returns the snapshot for tickets created
// between start and end.
func (s *Service) GetDashboardMetricsWithDateFilter(ctx context.Context, start, end string) (*dashboard.Snapshot, error) {
	return s.metrics.GetDashboardMetricsWithDateFilter(ctx, start, end)
}

// GetTechnicianRanking returns the top technicians by ticket count.
func (s *Service) GetTechnicianRanking(ctx context.Context, limit int, filters ranking.Filters) ([]ranking.Technician, error) {
	return s.ranking.GetTechnicianRanking(ctx, limit, filters)
}

// GetNewTickets returns the latest tickets in the New status.
func (s *Service) GetNewTickets(ctx context.Context, limit int, filters tickets.Filters) ([]tickets.Ticket, error) {
	return s.tickets.GetNewTickets(ctx, limit, filters)
}

// ValidateStatuses reports which status codes GLPI accepts.
func (s *Service) ValidateStatuses(ctx context.Context) (map[int]bool, error) {
	return s.discovery.ValidateStatuses(ctx)
}

// Availability is the coarse health of the GLPI connection.
type Availability string

const (
	// Online means GLPI answered and a session is established.
	Online Availability = "online"
	// Warning means GLPI could not authenticate this client.
	Warning Availability = "warning"
	// Offline means GLPI could not be reached.
	Offline Availability = "offline"
)

// SystemStatus describes the GLPI connection.
type SystemStatus struct {
	Status       Availability `json:"status"`
	Message      string       `json:"message"`
	ResponseTime float64      `json:"response_time"`
	TokenValid   bool         `json:"token_valid"`
}

// GetSystemStatus authenticates (reusing a valid session) and reports the
// outcome with the time it took, in seconds.
func (s *Service) GetSystemStatus(ctx context.Context) SystemStatus {
	start := time.Now()
	err := s.session.EnsureAuthenticated(ctx)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		return SystemStatus{
			Status:       Online,
			Message:      "GLPI connected and authenticated",
			ResponseTime: elapsed,
			TokenValid:   s.session.Valid(),
		}
	case errors.Is(err, glpi.ErrTransport):
		s.logger.Warn().Err(err).Msg("GLPI unreachable")
		return SystemStatus{
			Status:       Offline,
			Message:      fmt.Sprintf("connection error: %v", err),
			ResponseTime: elapsed,
		}
	default:
		s.logger.Warn().Err(err).Msg("GLPI reachable but authentication failed")
		return SystemStatus{
			Status:       Warning,
			Message:      "GLPI reachable but authentication failed",
			ResponseTime: elapsed,
		}
	}
}

// Close ends the GLPI session. It never fails.
func (s *Service) Close(ctx context.Context) {
	s.client.Close(ctx)
}
