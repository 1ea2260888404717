// Package dashboard computes ticket metrics from GLPI: counts per service
// level and status, an overall breakdown, trends against a prior window and
// a synthetic dataset when live data is empty.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/batch"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/cache"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/fields"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/rs/zerolog"
)

var statusLabels = fields.StatusLabels()

// Config holds engine configuration
type Config struct {
	// Levels is the service-level table; empty means fields.TILevels.
	Levels []fields.ServiceLevel

	// Batch bounds the count query fan-out.
	Batch batch.Config

	// Now is the clock used for default trend windows.
	Now func() time.Time
}

// DefaultConfig returns the IT level table and the default worker pool.
func DefaultConfig() Config {
	b := batch.DefaultConfig()
	b.Name = "dashboard_counts"
	return Config{
		Levels: fields.TILevels,
		Batch:  b,
		Now:    time.Now,
	}
}

// Engine computes dashboard snapshots.
type Engine struct {
	api       glpi.API
	auth      glpi.Authenticator
	discovery *fields.Discoverer
	cache     *cache.Manager
	cfg       Config
	logger    zerolog.Logger
}

// New creates a metrics engine.
func New(api glpi.API, auth glpi.Authenticator, discovery *fields.Discoverer, cacheManager *cache.Manager, cfg Config, logger zerolog.Logger) *Engine {
	if len(cfg.Levels) == 0 {
		cfg.Levels = fields.TILevels
	}
	if cfg.Batch.MaxConcurrency <= 0 {
		cfg.Batch.MaxConcurrency = batch.DefaultConfig().MaxConcurrency
	}
	if cfg.Batch.Name == "" {
		cfg.Batch.Name = "dashboard_counts"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		api:       api,
		auth:      auth,
		discovery: discovery,
		cache:     cacheManager,
		cfg:       cfg,
		logger:    logger,
	}
}

// GetDashboardMetrics returns the snapshot for filters, from cache when
// fresh. Failed count queries degrade to zero; only configuration and
// authentication failures are returned as errors.
func (e *Engine) GetDashboardMetrics(ctx context.Context, filters Filters) (*Snapshot, error) {
	key := cache.NewKey(cache.ResourceDashboardMetrics, "")
	if !filters.IsZero() {
		key = cache.NewKey(cache.ResourceDashboardMetricsFiltered, filters.Signature())
	}

	var cached Snapshot
	if e.cache.Get(ctx, key, &cached) {
		e.logger.Debug().Str("cache_key", key.String()).Msg("Dashboard metrics served from cache")
		cached.Cached = true
		return &cached, nil
	}

	snap, err := e.compute(ctx, filters)
	if err != nil {
		return nil, err
	}

	if snap.Outcome != OutcomeFailed {
		if err := e.cache.Set(ctx, key, snap, 0); err != nil {
			e.logger.Warn().Err(err).Str("cache_key", key.String()).Msg("Failed to cache dashboard metrics")
		}
	}
	return snap, nil
}

// GetDashboardMetricsWithDateFilter is GetDashboardMetrics restricted to
// tickets created between start and end.
func (e *Engine) GetDashboardMetricsWithDateFilter(ctx context.Context, start, end string) (*Snapshot, error) {
	return e.GetDashboardMetrics(ctx, Filters{StartDate: start, EndDate: end})
}

type bucket int

const (
	bucketLevel bucket = iota
	bucketGeneral
	bucketTrendCurrent
	bucketTrendPrevious
)

// countJob is one count query of the fan-out.
type countJob struct {
	bucket bucket
	level  string
	group  int
	status int
	window window
}

func (e *Engine) compute(ctx context.Context, filters Filters) (*Snapshot, error) {
	started := time.Now()

	if err := e.auth.EnsureAuthenticated(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Dashboard metrics unavailable: authentication failed")
		return nil, err
	}

	fm, err := e.discovery.DiscoverFieldIDs(ctx)
	if err != nil {
		if errors.Is(err, glpi.ErrConfiguration) || errors.Is(err, glpi.ErrAuthentication) {
			return nil, err
		}
		e.logger.Warn().Err(err).Msg("Field discovery failed, using stock field ids")
		fm = fields.DefaultFieldMap()
	}

	jobs := e.plan(filters)
	current, previous, trendErr := trendWindows(filters, e.cfg.Now())
	if trendErr != nil {
		e.logger.Warn().Err(trendErr).Msg("Trend windows could not be computed")
	} else {
		// Explicit date ranges reuse the general counts as the current window.
		if filters.StartDate == "" || filters.EndDate == "" {
			jobs = append(jobs, statusJobs(bucketTrendCurrent, current)...)
		}
		jobs = append(jobs, statusJobs(bucketTrendPrevious, previous)...)
	}

	results := batch.Map(ctx, e.cfg.Batch, jobs, func(ctx context.Context, job countJob) (int, error) {
		return e.count(ctx, fm, job)
	})

	byLevel := make(map[string]StatusCounts, len(e.cfg.Levels))
	for _, l := range e.cfg.Levels {
		byLevel[l.Name] = make(StatusCounts, len(statusLabels))
	}
	general := make(StatusCounts, len(statusLabels))
	trendCurrent := make(StatusCounts, len(statusLabels))
	trendPrevious := make(StatusCounts, len(statusLabels))

	failed, trendFailed := 0, false
	for i, r := range results {
		job := jobs[i]
		if r.Err != nil {
			failed++
			if job.bucket == bucketTrendCurrent || job.bucket == bucketTrendPrevious {
				trendFailed = true
			}
			e.logger.Warn().Err(r.Err).
				Str("level", job.level).
				Int("status", job.status).
				Msg("Count query failed, counting as zero")
			continue
		}
		label := fields.StatusLabel(job.status)
		switch job.bucket {
		case bucketLevel:
			byLevel[job.level][label] = r.Value
		case bucketGeneral:
			general[label] = r.Value
		case bucketTrendCurrent:
			trendCurrent[label] = r.Value
		case bucketTrendPrevious:
			trendPrevious[label] = r.Value
		}
	}
	if filters.StartDate != "" && filters.EndDate != "" {
		trendCurrent = general
	}

	snap := &Snapshot{
		Filters:         filters,
		GeneratedAt:     e.cfg.Now(),
		Outcome:         outcomeOf(failed, len(jobs)),
		DegradedQueries: failed,
	}
	if failed > 0 {
		degradedQueriesTotal.Add(float64(failed))
	}

	// Trends compare live counts, before any synthetic substitution.
	if trendErr != nil || trendFailed {
		snap.Trends = ZeroTrends()
	} else {
		snap.Trends = computeTrends(trendCurrent, trendPrevious)
	}

	if isAllZero(byLevel) {
		e.logger.Info().Msg("No tickets found per level, using synthetic level data")
		byLevel = FallbackByLevel()
		snap.FallbackLevels = true
		fallbackTotal.WithLabelValues("level").Inc()
	}
	if general.Total() == 0 {
		e.logger.Info().Msg("No tickets found overall, using synthetic status data")
		general = FallbackByStatus()
		snap.FallbackStatus = true
		fallbackTotal.WithLabelValues("status").Inc()
	}

	snap.ByLevel = byLevel
	snap.ByStatus = general
	snap.LevelTotals = levelTotals(byLevel)
	snap.Summary = summarize(general)
	snap.Elapsed = time.Since(started)

	e.logger.Info().
		Str("outcome", string(snap.Outcome)).
		Int("total_tickets", snap.Summary.Total).
		Int("failed_queries", failed).
		Dur("elapsed", snap.Elapsed).
		Msg("Dashboard metrics computed")

	return snap, nil
}

// plan lists the level and general count queries for filters.
func (e *Engine) plan(filters Filters) []countJob {
	w := window{Start: filters.StartDate, End: filters.EndDate}
	jobs := make([]countJob, 0, (len(e.cfg.Levels)+3)*len(fields.Statuses))
	for _, l := range e.cfg.Levels {
		for _, s := range fields.Statuses {
			jobs = append(jobs, countJob{bucket: bucketLevel, level: l.Name, group: l.GroupID, status: s.Code, window: w})
		}
	}
	return append(jobs, statusJobs(bucketGeneral, w)...)
}

func statusJobs(b bucket, w window) []countJob {
	jobs := make([]countJob, 0, len(fields.Statuses))
	for _, s := range fields.Statuses {
		jobs = append(jobs, countJob{bucket: b, status: s.Code, window: w})
	}
	return jobs
}

// count runs one AND-composed count query. Group and status criteria are
// only added for fields present in fm. The total comes from the
// Content-Range header, else from the number of returned rows.
func (e *Engine) count(ctx context.Context, fm fields.FieldMap, job countJob) (int, error) {
	q := glpi.Query{Range: "0-0", ExcludeDeleted: true}
	if job.group > 0 && fm.Has(fields.RoleGroupTech) {
		q = q.Where(glpi.Equals(fm.Get(fields.RoleGroupTech, fields.FieldGroupTech), job.group))
	}
	if fm.Has(fields.RoleStatus) {
		q = q.Where(glpi.Equals(fm.Get(fields.RoleStatus, fields.FieldStatus), job.status))
	}

	dateField := fm.Get(fields.RoleCreationDate, fields.FieldCreationDate)
	if job.window.Start != "" {
		q = q.Where(glpi.Criterion{Field: dateField, SearchType: glpi.SearchMoreThan, Value: job.window.Start})
	}
	if job.window.End != "" {
		q = q.Where(glpi.Criterion{Field: dateField, SearchType: glpi.SearchLessThan, Value: job.window.End})
	}

	res, err := e.api.Search(ctx, glpi.ItemTicket, q)
	if err != nil {
		return 0, fmt.Errorf("count status %d: %w", job.status, err)
	}
	return res.Total, nil
}

func outcomeOf(failed, total int) Outcome {
	switch {
	case failed == 0:
		return OutcomeOK
	case failed >= total:
		return OutcomeFailed
	default:
		return OutcomeDegraded
	}
}
