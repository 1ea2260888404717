// Package ranking ranks GLPI technicians by the number of tickets assigned
// to them and tags each with its service level.
//
// Technicians are the active users holding the technician profile. When
// that path yields nothing, every active user is ranked instead (capped, with
// the generic level).
package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/batch"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/cache"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/fields"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Search-option ids of the user-side item types.
const (
	userFieldName      = "1"
	userFieldID        = "2"
	userFieldActive    = "8"
	userFieldRealname  = "9"
	userFieldFirstname = "10"

	membershipFieldUser    = "2"
	membershipFieldGroup   = "3"
	profileFieldProfile    = "3"
	defaultTechnicianLimit = 10
)

// DefaultProfileID is the stock GLPI "Technician" profile.
const DefaultProfileID = 6

var (
	errNoCandidates       = errors.New("no technician candidates")
	errNoActiveCandidates = errors.New("no active technician candidates")
)

var fallbackTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "glpi_ranking_fallback_total",
		Help: "Technician rankings built from the active-user fallback",
	},
)

// Technician is one ranking entry.
type Technician struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	TicketCount int    `json:"ticket_count"`
	Level       string `json:"level"`
}

// Filters narrows a ranking. Level keeps only technicians of that service
// level; dates restrict counted tickets by creation date.
type Filters struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Level     string `json:"level,omitempty"`
}

func (f Filters) signature() string {
	return cache.Signature(map[string]string{
		"start_date": f.StartDate,
		"end_date":   f.EndDate,
	})
}

// Config holds ranking configuration
type Config struct {
	Levels []fields.ServiceLevel

	// ProfileID identifies technicians through Profile_User.
	ProfileID int

	// LookupBatchSize is the number of user lookups issued per batch.
	LookupBatchSize int

	// FallbackCap bounds the users ranked by the fallback path.
	FallbackCap int

	Batch batch.Config
}

// DefaultConfig returns the stock profile and IT level table.
func DefaultConfig() Config {
	b := batch.DefaultConfig()
	b.Name = "ranking"
	return Config{
		Levels:          fields.TILevels,
		ProfileID:       DefaultProfileID,
		LookupBatchSize: 10,
		FallbackCap:     20,
		Batch:           b,
	}
}

// Engine builds technician rankings.
type Engine struct {
	api       glpi.API
	auth      glpi.Authenticator
	discovery *fields.Discoverer
	cache     *cache.Manager
	cfg       Config
	logger    zerolog.Logger
}

// New creates a ranking engine. Zero config values take their defaults.
func New(api glpi.API, auth glpi.Authenticator, discovery *fields.Discoverer, cacheManager *cache.Manager, cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if len(cfg.Levels) == 0 {
		cfg.Levels = def.Levels
	}
	if cfg.ProfileID <= 0 {
		cfg.ProfileID = def.ProfileID
	}
	if cfg.LookupBatchSize <= 0 {
		cfg.LookupBatchSize = def.LookupBatchSize
	}
	if cfg.FallbackCap <= 0 {
		cfg.FallbackCap = def.FallbackCap
	}
	if cfg.Batch.MaxConcurrency <= 0 {
		cfg.Batch = def.Batch
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

// candidate is a user eligible for the ranking.
type candidate struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// GetTechnicianRanking returns at most limit technicians sorted by ticket
// count, highest first; ties keep discovery order. A non-positive limit
// means 10.
//
// Only configuration and authentication failures are returned as errors.
// When both the profile path and the active-user fallback fail the ranking
// is empty.
func (e *Engine) GetTechnicianRanking(ctx context.Context, limit int, filters Filters) ([]Technician, error) {
	if limit <= 0 {
		limit = defaultTechnicianLimit
	}

	key := cache.NewKey(cache.ResourceTechnicianRanking, filters.signature())
	var ranking []Technician
	if !e.cache.Get(ctx, key, &ranking) {
		if err := e.auth.EnsureAuthenticated(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Technician ranking unavailable: authentication failed")
			return nil, err
		}

		var err error
		ranking, err = e.rankByProfile(ctx, filters)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Profile-based ranking failed, ranking active users")
			fallbackTotal.Inc()
			ranking = e.rankActiveUsers(ctx, filters)
		}

		if len(ranking) > 0 {
			if err := e.cache.Set(ctx, key, ranking, 0); err != nil {
				e.logger.Warn().Err(err).Msg("Failed to cache technician ranking")
			}
		}
	}

	return truncate(filterLevel(ranking, filters.Level), limit), nil
}

// rankByProfile ranks the active users holding the technician profile.
func (e *Engine) rankByProfile(ctx context.Context, filters Filters) ([]Technician, error) {
	ids, err := e.profileMembers(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errNoCandidates
	}
	e.logger.Info().Int("candidates", len(ids)).Int("profile_id", e.cfg.ProfileID).Msg("Technician profile members found")

	var (
		active    []candidate
		lookupErr error
	)
	for _, chunk := range batch.Chunk(ids, e.cfg.LookupBatchSize) {
		results := batch.Map(ctx, e.cfg.Batch, chunk, e.lookupActiveUser)
		for _, r := range results {
			if r.Err != nil {
				e.logger.Warn().Err(r.Err).Int("user_id", chunk[r.Index]).Msg("User lookup failed")
				lookupErr = r.Err
				continue
			}
			if r.Value != nil {
				active = append(active, *r.Value)
			}
		}
	}
	e.logger.Info().Int("active", len(active)).Msg("Active technicians resolved")

	if len(active) == 0 {
		if lookupErr != nil {
			return nil, fmt.Errorf("resolve technician profile members: %w", lookupErr)
		}
		return nil, errNoActiveCandidates
	}

	return e.rank(ctx, active, filters, true), nil
}

// rankActiveUsers ranks the first active users with the generic level.
func (e *Engine) rankActiveUsers(ctx context.Context, filters Filters) []Technician {
	users, err := e.activeUsers(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Active user fallback failed")
		return []Technician{}
	}
	if len(users) > e.cfg.FallbackCap {
		users = users[:e.cfg.FallbackCap]
	}
	return e.rank(ctx, users, filters, false)
}

// rank counts tickets per candidate, drops candidates whose count failed and
// sorts the rest.
func (e *Engine) rank(ctx context.Context, users []candidate, filters Filters, withLevels bool) []Technician {
	if len(users) == 0 {
		return []Technician{}
	}

	techField := e.discovery.DiscoverTechField(ctx)
	dateField := fields.FieldCreationDate
	if filters.StartDate != "" || filters.EndDate != "" {
		if fm, err := e.discovery.DiscoverFieldIDs(ctx); err == nil {
			dateField = fm.Get(fields.RoleCreationDate, fields.FieldCreationDate)
		}
	}

	results := batch.Map(ctx, e.cfg.Batch, users, func(ctx context.Context, u candidate) (Technician, error) {
		q := glpi.Query{Range: "0-0"}.Where(glpi.Equals(techField, u.ID))
		if filters.StartDate != "" {
			q = q.Where(glpi.Criterion{Field: dateField, SearchType: glpi.SearchMoreThan, Value: filters.StartDate})
		}
		if filters.EndDate != "" {
			q = q.Where(glpi.Criterion{Field: dateField, SearchType: glpi.SearchLessThan, Value: filters.EndDate})
		}

		res, err := e.api.Search(ctx, glpi.ItemTicket, q)
		if err != nil {
			return Technician{}, fmt.Errorf("count tickets of user %d: %w", u.ID, err)
		}

		level := fields.GenericLevel
		if withLevels {
			level = e.levelOf(ctx, u.ID)
		}
		return Technician{ID: u.ID, Name: u.Name, TicketCount: res.Total, Level: level}, nil
	})

	ranking := make([]Technician, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			e.logger.Warn().Err(r.Err).Msg("Technician excluded from ranking")
			continue
		}
		ranking = append(ranking, r.Value)
	}
	Sort(ranking)
	return ranking
}

func (e *Engine) profileMembers(ctx context.Context) ([]int, error) {
	q := glpi.Query{Range: "0-99"}.Where(glpi.Equals(profileFieldProfile, e.cfg.ProfileID))
	res, err := e.api.Search(ctx, glpi.ItemProfileUser, q)
	if err != nil {
		return nil, fmt.Errorf("search technician profile members: %w", err)
	}

	seen := make(map[int]bool, len(res.Data))
	ids := make([]int, 0, len(res.Data))
	for _, row := range res.Data {
		id, ok := row.Int(membershipFieldUser)
		if !ok || id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// lookupActiveUser returns the user when it exists and is active, nil otherwise.
func (e *Engine) lookupActiveUser(ctx context.Context, id int) (*candidate, error) {
	q := glpi.Query{Range: "0-0"}.
		Where(glpi.Equals(userFieldID, id)).
		Where(glpi.Equals(userFieldActive, 1))

	res, err := e.api.Search(ctx, glpi.ItemUser, q)
	if err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, nil
	}
	return &candidate{ID: id, Name: DisplayName(res.Data[0], id)}, nil
}

// activeUsers lists active users, cached for the active-technicians lifetime.
func (e *Engine) activeUsers(ctx context.Context) ([]candidate, error) {
	key := cache.NewKey(cache.ResourceActiveTechnicians, "")
	var users []candidate
	if e.cache.Get(ctx, key, &users) && len(users) > 0 {
		return users, nil
	}

	q := glpi.Query{Range: "0-49"}.Where(glpi.Equals(userFieldActive, 1))
	res, err := e.api.Search(ctx, glpi.ItemUser, q)
	if err != nil {
		return nil, fmt.Errorf("search active users: %w", err)
	}

	users = make([]candidate, 0, len(res.Data))
	for _, row := range res.Data {
		id, ok := row.Int(userFieldID)
		if !ok {
			continue
		}
		users = append(users, candidate{ID: id, Name: DisplayName(row, id)})
	}

	if err := e.cache.Set(ctx, key, users, 0); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to cache active users")
	}
	return users, nil
}

// levelOf maps the user's group memberships to a service level.
func (e *Engine) levelOf(ctx context.Context, userID int) string {
	q := glpi.Query{Range: "0-9"}.Where(glpi.Equals(membershipFieldUser, userID))
	res, err := e.api.Search(ctx, glpi.ItemGroupUser, q)
	if err != nil {
		e.logger.Debug().Err(err).Int("user_id", userID).Msg("Group lookup failed, using generic level")
		return fields.GenericLevel
	}

	groups := make([]string, 0, len(res.Data))
	for _, row := range res.Data {
		groups = append(groups, row.String(membershipFieldGroup))
	}
	return fields.LevelForGroups(e.cfg.Levels, groups)
}

// DisplayName prefers "firstname realname", then realname, then the login.
func DisplayName(row glpi.Row, id int) string {
	firstname := row.String(userFieldFirstname)
	realname := row.String(userFieldRealname)
	switch {
	case firstname != "" && realname != "":
		return firstname + " " + realname
	case realname != "":
		return realname
	}
	if name := row.String(userFieldName); name != "" {
		return name
	}
	return "User_" + strconv.Itoa(id)
}

// Sort orders technicians by ticket count, highest first, keeping the
// relative order of ties.
func Sort(ranking []Technician) {
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].TicketCount > ranking[j].TicketCount
	})
}

func filterLevel(ranking []Technician, level string) []Technician {
	if level == "" {
		return ranking
	}
	out := make([]Technician, 0, len(ranking))
	for _, t := range ranking {
		if t.Level == level {
			out = append(out, t)
		}
	}
	return out
}

func truncate(ranking []Technician, limit int) []Technician {
	if len(ranking) > limit {
		return ranking[:limit]
	}
	return ranking
}
