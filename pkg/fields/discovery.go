package fields

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/cache"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/rs/zerolog"
)

// ErrNoFields is returned when discovery produced an empty map.
var ErrNoFields = errors.New("no ticket fields discovered")

// techFieldCandidates are probed in order before falling back to a name scan.
var techFieldCandidates = []string{FieldTechnician, "95"}

// techNeedles identify an assignment field by name.
var techNeedles = []string{"técnico", "assigned to", "technician"}

// techSubkey stores the assignment field next to the field map.
const techSubkey = "tech"

// Discoverer resolves field ids once per cache window.
type Discoverer struct {
	api    glpi.API
	cache  *cache.Manager
	logger zerolog.Logger

	// mu makes concurrent refreshes share one listSearchOptions round trip.
	mu sync.Mutex
}

// NewDiscoverer creates a field discoverer.
func NewDiscoverer(api glpi.API, cacheManager *cache.Manager, logger zerolog.Logger) *Discoverer {
	return &Discoverer{
		api:    api,
		cache:  cacheManager,
		logger: logger,
	}
}

// DiscoverFieldIDs returns the role → field id map, from cache when fresh.
//
// Search-option names are scanned in ascending id order and the first match
// per role wins. The creation-date role defaults to "15" when nothing
// matches. Errors from the API (authentication, transport, data shape) are
// returned as-is.
func (d *Discoverer) DiscoverFieldIDs(ctx context.Context) (FieldMap, error) {
	key := cache.NewKey(cache.ResourceFieldIDs, "")

	var cached FieldMap
	if d.cache.Get(ctx, key, &cached) && len(cached) > 0 {
		return cached, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache.Get(ctx, key, &cached) && len(cached) > 0 {
		return cached, nil
	}

	d.logger.Info().Msg("Discovering GLPI ticket field ids")

	opts, err := d.api.ListSearchOptions(ctx, glpi.ItemTicket)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to list ticket search options")
		return nil, fmt.Errorf("discover field ids: %w", err)
	}

	discovered := FieldMap{}
	for _, id := range opts.SortedIDs() {
		role, ok := matchRole(opts[id].Name)
		if !ok || discovered.Has(role) {
			continue
		}
		discovered[role] = id
		d.logger.Debug().
			Str("role", string(role)).
			Str("field_id", id).
			Str("name", opts[id].Name).
			Msg("Field discovered")
	}

	if !discovered.Has(RoleCreationDate) {
		discovered[RoleCreationDate] = FieldCreationDate
		d.logger.Info().Str("field_id", FieldCreationDate).Msg("Creation date field not found by name, using default")
	}

	if len(discovered) == 0 {
		return nil, ErrNoFields
	}

	if err := d.cache.Set(ctx, key, discovered, 0); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to cache field ids")
	}

	d.logger.Info().Strs("fields", sortedRoles(discovered)).Msg("Field ids discovered")
	return discovered.Clone(), nil
}

// DiscoverTechField returns the search-option id of the assigned technician.
//
// Candidates "5" then "95" are probed with a one-row query; the first
// accepted one wins. Otherwise option names are scanned for an assignment
// field, and "5" is used when nothing matches. Probed and scanned results are
// cached with the field map lifetime.
func (d *Discoverer) DiscoverTechField(ctx context.Context) string {
	key := cache.NewKey(cache.ResourceFieldIDs, techSubkey)

	var cached string
	if d.cache.Get(ctx, key, &cached) && cached != "" {
		return cached
	}

	for _, id := range techFieldCandidates {
		q := glpi.Query{Range: "0-0"}.Where(glpi.Equals(id, 1))
		if _, err := d.api.Search(ctx, glpi.ItemTicket, q); err != nil {
			d.logger.Debug().Err(err).Str("field_id", id).Msg("Technician field candidate rejected")
			continue
		}
		d.logger.Info().Str("field_id", id).Msg("Technician field accepted")
		d.storeTechField(ctx, key, id)
		return id
	}

	opts, err := d.api.ListSearchOptions(ctx, glpi.ItemTicket)
	if err == nil {
		for _, id := range opts.SortedIDs() {
			if isTechFieldName(opts[id].Name) {
				d.logger.Info().Str("field_id", id).Str("name", opts[id].Name).Msg("Technician field found by name")
				d.storeTechField(ctx, key, id)
				return id
			}
		}
	} else {
		d.logger.Warn().Err(err).Msg("Failed to list search options for technician field")
	}

	d.logger.Warn().Str("field_id", FieldTechnician).Msg("Using default technician field")
	return FieldTechnician
}

func (d *Discoverer) storeTechField(ctx context.Context, key cache.Key, id string) {
	if err := d.cache.Set(ctx, key, id, 0); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to cache technician field")
	}
}

// isTechFieldName matches assignment fields but not the technician group.
func isTechFieldName(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "group") || strings.Contains(lower, "grupo") {
		return false
	}
	for _, needle := range techNeedles {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// ValidateStatuses issues one cheap query per status code and reports which
// codes the remote accepted.
func (d *Discoverer) ValidateStatuses(ctx context.Context) (map[int]bool, error) {
	fm, err := d.DiscoverFieldIDs(ctx)
	if err != nil {
		return nil, err
	}
	statusField := fm.Get(RoleStatus, FieldStatus)

	result := make(map[int]bool, len(Statuses))
	for _, s := range Statuses {
		q := glpi.Query{Range: "0-0"}.Where(glpi.Equals(statusField, s.Code))
		_, err := d.api.Search(ctx, glpi.ItemTicket, q)
		result[s.Code] = err == nil
		if err != nil {
			d.logger.Warn().Err(err).Str("status", s.Label).Int("code", s.Code).Msg("Status may not be valid")
			continue
		}
		d.logger.Debug().Str("status", s.Label).Int("code", s.Code).Msg("Status is valid")
	}
	return result, nil
}
