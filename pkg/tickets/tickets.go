// Package tickets lists the most recent tickets awaiting triage.
package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/fields"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/rs/zerolog"
)

const (
	defaultLimit         = 10
	descriptionMaxLength = 100

	untitled        = "Sem título"
	unknownReporter = "Não informado"
	defaultPriority = "Média"
)

// Ticket is a new ticket as shown on the dashboard.
type Ticket struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Requester   string `json:"requester"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

// Filters narrows the listing. Empty values are ignored.
type Filters struct {
	Priority   string `json:"priority,omitempty"`
	Technician string `json:"technician,omitempty"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
}

// Lister fetches new tickets.
type Lister struct {
	api       glpi.API
	auth      glpi.Authenticator
	discovery *fields.Discoverer
	logger    zerolog.Logger
}

// New creates a ticket lister.
func New(api glpi.API, auth glpi.Authenticator, discovery *fields.Discoverer, logger zerolog.Logger) *Lister {
	return &Lister{
		api:       api,
		auth:      auth,
		discovery: discovery,
		logger:    logger,
	}
}

// GetNewTickets returns up to limit tickets in the New status, most recently
// updated first. A non-positive limit means 10. Remote failures yield an
// empty list; configuration and authentication failures are returned.
func (l *Lister) GetNewTickets(ctx context.Context, limit int, filters Filters) ([]Ticket, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	if err := l.auth.EnsureAuthenticated(ctx); err != nil {
		l.logger.Error().Err(err).Msg("New tickets unavailable: authentication failed")
		return nil, err
	}

	fm, err := l.discovery.DiscoverFieldIDs(ctx)
	if err != nil {
		if errors.Is(err, glpi.ErrConfiguration) || errors.Is(err, glpi.ErrAuthentication) {
			return nil, err
		}
		l.logger.Warn().Err(err).Msg("Field discovery failed, using stock field ids")
		fm = fields.DefaultFieldMap()
	}

	q := glpi.Query{
		Range:          fmt.Sprintf("0-%d", limit-1),
		SortField:      fields.FieldLastUpdate,
		Order:          "DESC",
		ExcludeDeleted: true,
	}.Where(glpi.Equals(fm.Get(fields.RoleStatus, fields.FieldStatus), fields.StatusNew))

	if filters.Priority != "" {
		q = q.Where(glpi.Equals(fields.FieldPriority, filters.Priority))
	}
	if filters.Technician != "" {
		q = q.Where(glpi.Equals(l.discovery.DiscoverTechField(ctx), filters.Technician))
	}
	dateField := fm.Get(fields.RoleCreationDate, fields.FieldCreationDate)
	if filters.StartDate != "" {
		q = q.Where(glpi.Criterion{Field: dateField, SearchType: glpi.SearchMoreThan, Value: filters.StartDate})
	}
	if filters.EndDate != "" {
		q = q.Where(glpi.Criterion{Field: dateField, SearchType: glpi.SearchLessThan, Value: filters.EndDate})
	}

	res, err := l.api.Search(ctx, glpi.ItemTicket, q)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to search new tickets")
		return []Ticket{}, nil
	}

	out := make([]Ticket, 0, len(res.Data))
	for _, row := range res.Data {
		out = append(out, fromRow(row))
	}
	if len(out) > limit {
		out = out[:limit]
	}

	l.logger.Info().Int("count", len(out)).Msg("New tickets fetched")
	return out, nil
}

func fromRow(row glpi.Row) Ticket {
	return Ticket{
		ID:          row.String(fields.FieldID),
		Title:       orDefault(row.String(fields.FieldTitle), untitled),
		Description: Truncate(row.String(fields.FieldDescription), descriptionMaxLength),
		Date:        row.String(fields.FieldCreationDate),
		Requester:   orDefault(row.String(fields.FieldRequester), unknownReporter),
		Priority:    orDefault(row.String(fields.FieldPriority), defaultPriority),
		Status:      fields.StatusLabel(fields.StatusNew),
	}
}

// Truncate shortens s to n runes and appends "..." when it was longer.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
