// Package testutil provides testing utilities for the GLPI client.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
)

// Default credentials accepted by MockGLPI.
const (
	DefaultAppToken  = "test-app-token"
	DefaultUserToken = "test-user-token"
)

// MockGLPI is an in-process GLPI REST server. It implements initSession,
// killSession, listSearchOptions and search over any item type held in Items.
//
// Search applies criteria generically: equals compares the row value as a
// string, morethan/lessthan compare lexically (enough for GLPI date strings)
// and contains matches a case-insensitive substring. Fields that are not
// search options of the item type are rejected with 400, like GLPI does.
type MockGLPI struct {
	server *httptest.Server

	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	sessions map[string]bool
	issued   int

	AppToken  string
	UserToken string

	// Items holds the rows returned by /search/{itemtype}.
	Items map[string][]glpi.Row

	// Options holds the listSearchOptions payload per item type. Item types
	// without an entry accept any field.
	Options map[string]glpi.SearchOptions

	// TicketCounter, when set, replaces row matching for Ticket searches.
	TicketCounter func(criteria []glpi.Criterion) int

	// OmitContentRange drops the Content-Range header from search responses.
	OmitContentRange bool

	// Tracking
	InitSessionCount int
	KillSessionCount int
	SearchCount      map[string]int
	UnauthorizedSent int
	queries          map[string][]url.Values

	loginFailures  int
	loginStatus    int
	searchFailures int
	searchStatus   int
}

// NewMockGLPI starts a mock server with the default Ticket search options.
func NewMockGLPI() *MockGLPI {
	m := &MockGLPI{
		handlers:    make(map[string]http.HandlerFunc),
		sessions:    make(map[string]bool),
		AppToken:    DefaultAppToken,
		UserToken:   DefaultUserToken,
		Items:       make(map[string][]glpi.Row),
		Options:     map[string]glpi.SearchOptions{glpi.ItemTicket: DefaultTicketOptions()},
		SearchCount: make(map[string]int),
		queries:     make(map[string][]url.Values),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serveHTTP))
	return m
}

// DefaultTicketOptions mirrors the Ticket search options of a stock
// English-language GLPI install.
func DefaultTicketOptions() glpi.SearchOptions {
	opts := glpi.SearchOptions{}
	for id, name := range map[string]string{
		"1":  "Title",
		"2":  "ID",
		"3":  "Priority",
		"4":  "Requester",
		"5":  "Technician",
		"8":  "Technician group",
		"12": "Status",
		"15": "Opening date",
		"19": "Last update",
		"21": "Description",
	} {
		opts[id] = glpi.SearchOption{ID: id, Name: name}
	}
	return opts
}

// URL returns the REST root of the mock server.
func (m *MockGLPI) URL() string {
	return m.server.URL
}

// Client returns an HTTP client bound to the mock server.
func (m *MockGLPI) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockGLPI) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for an exact path.
func (m *MockGLPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// AddRows appends rows to an item type.
func (m *MockGLPI) AddRows(itemtype string, rows ...glpi.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Items[itemtype] = append(m.Items[itemtype], rows...)
}

// AddTechnician registers an active user with a profile and group memberships.
func (m *MockGLPI) AddTechnician(id int, username, firstname, realname string, profileID int, groups ...int) {
	m.AddRows(glpi.ItemUser, glpi.Row{"2": id, "1": username, "10": firstname, "9": realname, "8": 1})
	m.AddRows(glpi.ItemProfileUser, glpi.Row{"2": id, "3": profileID})
	for _, g := range groups {
		m.AddRows(glpi.ItemGroupUser, glpi.Row{"2": id, "3": g})
	}
}

// FailLogins makes the next n initSession calls answer with status.
func (m *MockGLPI) FailLogins(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginFailures = n
	m.loginStatus = status
}

// FailSearches makes the next n search calls answer with status.
func (m *MockGLPI) FailSearches(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchFailures = n
	m.searchStatus = status
}

// ExpireSessions forgets every issued session token, so the next
// authenticated call answers 401.
func (m *MockGLPI) ExpireSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]bool)
}

// ActiveSessions returns the number of live session tokens.
func (m *MockGLPI) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetInitSessionCount returns the number of initSession calls.
func (m *MockGLPI) GetInitSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.InitSessionCount
}

// GetKillSessionCount returns the number of killSession calls.
func (m *MockGLPI) GetKillSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.KillSessionCount
}

// GetSearchCount returns the number of searches over itemtype.
func (m *MockGLPI) GetSearchCount(itemtype string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SearchCount[itemtype]
}

// TotalSearchCount returns the number of searches over all item types.
func (m *MockGLPI) TotalSearchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.SearchCount {
		total += n
	}
	return total
}

// Queries returns the query strings received for itemtype, in order.
func (m *MockGLPI) Queries(itemtype string) []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]url.Values(nil), m.queries[itemtype]...)
}

// Reset clears all tracking counters.
func (m *MockGLPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitSessionCount = 0
	m.KillSessionCount = 0
	m.UnauthorizedSent = 0
	m.SearchCount = make(map[string]int)
	m.queries = make(map[string][]url.Values)
}

func (m *MockGLPI) serveHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	handler, ok := m.handlers[r.URL.Path]
	m.mu.RUnlock()
	if ok {
		handler(w, r)
		return
	}

	switch {
	case r.URL.Path == "/initSession":
		m.handleInitSession(w, r)
	case r.URL.Path == "/killSession":
		m.withSession(w, r, m.handleKillSession)
	case strings.HasPrefix(r.URL.Path, "/listSearchOptions/"):
		m.withSession(w, r, m.handleListSearchOptions)
	case strings.HasPrefix(r.URL.Path, "/search/"):
		m.recordSearch(r)
		m.withSession(w, r, m.handleSearch)
	default:
		writeJSON(w, http.StatusNotFound, []string{"ERROR_RESOURCE_NOT_FOUND_NOR_COMMONDBTM", "not found"})
	}
}

func (m *MockGLPI) handleInitSession(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.InitSessionCount++
	if m.loginFailures > 0 {
		m.loginFailures--
		status := m.loginStatus
		m.mu.Unlock()
		writeJSON(w, status, []string{"ERROR", "login failure injected"})
		return
	}

	if r.Header.Get("App-Token") != m.AppToken ||
		r.Header.Get("Authorization") != "user_token "+m.UserToken {
		m.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, []string{"ERROR_GLPI_LOGIN_USER_TOKEN", "invalid user token"})
		return
	}

	m.issued++
	token := fmt.Sprintf("session-%d", m.issued)
	m.sessions[token] = true
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"session_token": token})
}

func (m *MockGLPI) withSession(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	m.mu.Lock()
	valid := r.Header.Get("App-Token") == m.AppToken && m.sessions[r.Header.Get("Session-Token")]
	if !valid {
		m.UnauthorizedSent++
	}
	m.mu.Unlock()

	if !valid {
		writeJSON(w, http.StatusUnauthorized, []string{"ERROR_SESSION_TOKEN_INVALID", "session_token seems invalid"})
		return
	}
	next(w, r)
}

func (m *MockGLPI) handleKillSession(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.KillSessionCount++
	delete(m.sessions, r.Header.Get("Session-Token"))
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (m *MockGLPI) handleListSearchOptions(w http.ResponseWriter, r *http.Request) {
	itemtype := strings.TrimPrefix(r.URL.Path, "/listSearchOptions/")

	m.mu.RLock()
	opts := m.Options[itemtype]
	m.mu.RUnlock()

	payload := map[string]any{"common": "Characteristics"}
	for id, opt := range opts {
		payload[id] = map[string]string{"name": opt.Name, "table": opt.Table, "field": opt.Field}
	}
	writeJSON(w, http.StatusOK, payload)
}

// recordSearch counts every search call, including ones rejected with 401.
func (m *MockGLPI) recordSearch(r *http.Request) {
	itemtype := strings.TrimPrefix(r.URL.Path, "/search/")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCount[itemtype]++
	m.queries[itemtype] = append(m.queries[itemtype], r.URL.Query())
}

func (m *MockGLPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	itemtype := strings.TrimPrefix(r.URL.Path, "/search/")
	query := r.URL.Query()
	criteria := glpi.ParseCriteria(query)

	m.mu.Lock()
	if m.searchFailures > 0 {
		m.searchFailures--
		status := m.searchStatus
		m.mu.Unlock()
		writeJSON(w, status, []string{"ERROR", "search failure injected"})
		return
	}
	opts, restricted := m.Options[itemtype]
	rows := append([]glpi.Row(nil), m.Items[itemtype]...)
	counter := m.TicketCounter
	omitRange := m.OmitContentRange
	m.mu.Unlock()

	if restricted {
		for _, c := range criteria {
			if _, ok := opts[c.Field]; !ok {
				writeJSON(w, http.StatusBadRequest, []string{"ERROR", "unknown search option " + c.Field})
				return
			}
		}
	}

	var matched []glpi.Row
	total := 0
	if itemtype == glpi.ItemTicket && counter != nil {
		total = counter(criteria)
	} else {
		for _, row := range rows {
			if matches(row, criteria) {
				matched = append(matched, row)
			}
		}
		total = len(matched)
	}

	start, end := parseRange(query.Get("range"))
	page := []glpi.Row{}
	for i := start; i <= end && i < len(matched); i++ {
		page = append(page, matched[i])
	}

	if !omitRange {
		w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%d", start, end, total))
	}
	status := http.StatusOK
	if total > len(page) {
		status = http.StatusPartialContent
	}
	writeJSON(w, status, map[string]any{
		"totalcount": total,
		"count":      len(page),
		"data":       page,
	})
}

func matches(row glpi.Row, criteria []glpi.Criterion) bool {
	for _, c := range criteria {
		v := row.String(c.Field)
		switch c.SearchType {
		case glpi.SearchEquals:
			if v != c.Value {
				return false
			}
		case glpi.SearchMoreThan:
			if v == "" || v < c.Value {
				return false
			}
		case glpi.SearchLessThan:
			if v == "" || v > c.Value {
				return false
			}
		case glpi.SearchContains:
			if !strings.Contains(strings.ToLower(v), strings.ToLower(c.Value)) {
				return false
			}
		}
	}
	return true
}

func parseRange(s string) (int, int) {
	if s == "" {
		return 0, 19
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 19
	}
	start, err1 := strconv.Atoi(parts[0])
	end, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || end < start {
		return 0, 19
	}
	return start, end
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Sleeper records backoff waits without sleeping.
type Sleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

// NoSleep returns a Sleeper whose Sleep returns immediately.
func NoSleep() *Sleeper {
	return &Sleeper{}
}

// Sleep records d and returns at once, or the context error if ctx is done.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Waits returns the recorded durations.
func (s *Sleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// Total returns the sum of recorded durations.
func (s *Sleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.waits {
		total += d
	}
	return total
}
