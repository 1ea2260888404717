package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/internal/testutil"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/retry"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/session"
	"github.com/rs/zerolog"
)

// newTestClient builds a session manager and executor against baseURL with
// instantaneous backoff.
func newTestClient(t *testing.T, baseURL string, hc *http.Client, sleeper *testutil.Sleeper) *Client {
	t.Helper()

	policy := retry.DefaultPolicy()
	policy.Sleep = sleeper.Sleep

	sess := session.NewManager(session.Config{
		BaseURL:   baseURL,
		AppToken:  testutil.DefaultAppToken,
		UserToken: testutil.DefaultUserToken,
		Retry:     policy,
	}, hc, zerolog.Nop())

	return New(sess, hc, Config{Timeout: 5 * time.Second, Retry: policy}, zerolog.Nop())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
}

func TestNew_AppliesTimeout(t *testing.T) {
	sess := session.NewManager(session.Config{BaseURL: "http://glpi.local"}, nil, zerolog.Nop())

	c := New(sess, nil, Config{}, zerolog.Nop())
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}

	custom := &http.Client{Timeout: time.Second}
	c = New(sess, custom, Config{}, zerolog.Nop())
	if c.httpClient.Timeout != time.Second {
		t.Errorf("Timeout = %v, want the caller's 1s", c.httpClient.Timeout)
	}
	if c.httpClient == custom {
		t.Error("New should not mutate the caller's client")
	}
}

func TestDo_InjectsSessionHeaders(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	var gotApp, gotSession string
	mock.SetHandler("/probe", func(w http.ResponseWriter, r *http.Request) {
		gotApp = r.Header.Get("App-Token")
		gotSession = r.Header.Get("Session-Token")
		w.WriteHeader(http.StatusOK)
	})

	c := newTestClient(t, mock.URL(), mock.Client(), testutil.NoSleep())

	resp, err := c.Get(context.Background(), "/probe", nil)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	if gotApp != testutil.DefaultAppToken {
		t.Errorf("App-Token = %q", gotApp)
	}
	if gotSession != "session-1" {
		t.Errorf("Session-Token = %q, want session-1", gotSession)
	}
}

func TestDo_AuthenticationFailureSkipsCall(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.FailLogins(10, http.StatusInternalServerError)

	c := newTestClient(t, mock.URL(), mock.Client(), testutil.NoSleep())

	resp, err := c.Get(context.Background(), "/search/Ticket", nil)
	if resp != nil {
		t.Error("expected no response when authentication fails")
	}
	if !errors.Is(err, glpi.ErrAuthentication) {
		t.Errorf("err = %v, want ErrAuthentication", err)
	}
	if got := mock.TotalSearchCount(); got != 0 {
		t.Errorf("search calls = %d, want 0", got)
	}
	if got := mock.GetInitSessionCount(); got != 3 {
		t.Errorf("initSession calls = %d, want 3 (no outer retry of a failed login)", got)
	}
}

func TestDo_ReauthenticatesOnceOn401(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	c := newTestClient(t, mock.URL(), mock.Client(), testutil.NoSleep())
	ctx := context.Background()

	if _, err := c.Search(ctx, glpi.ItemTicket, glpi.Query{Range: "0-0"}); err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	mock.ExpireSessions()
	mock.Reset()

	resp, err := c.Get(ctx, "/search/Ticket", url.Values{"range": {"0-0"}})
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status = %d, want 200 after re-authentication", resp.StatusCode)
	}
	if got := mock.GetInitSessionCount(); got != 1 {
		t.Errorf("initSession calls = %d, want exactly 1 re-authentication", got)
	}
	if got := mock.GetSearchCount(glpi.ItemTicket); got != 2 {
		t.Errorf("search calls = %d, want 2 (original + one retry)", got)
	}
}

func TestDo_FailedReauthReturnsOriginal401(t *testing.T) {
	var searches, logins atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/initSession":
			if logins.Add(1) == 1 {
				w.Write([]byte(`{"session_token":"abc"}`))
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
		default:
			searches.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`["ERROR_SESSION_TOKEN_INVALID"]`))
		}
	}))
	defer server.Close()

	sleeper := testutil.NoSleep()
	c := newTestClient(t, server.URL, server.Client(), sleeper)

	resp, err := c.Get(context.Background(), "/search/Ticket", nil)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Status = %d, want the original 401", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `["ERROR_SESSION_TOKEN_INVALID"]` {
		t.Errorf("body = %q, want the original 401 body", body)
	}
	if got := searches.Load(); got != 1 {
		t.Errorf("search calls = %d, want 1 (no retry without a new session)", got)
	}
	// 1 initial login + 3 attempts of the re-authentication.
	if got := logins.Load(); got != 4 {
		t.Errorf("initSession calls = %d, want 4", got)
	}
}

func TestDo_RetriesTransportFailures(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	var failures atomic.Int32
	failures.Store(2)
	hc := &http.Client{Transport: &flakyTransport{failures: &failures, next: http.DefaultTransport}}

	sleeper := testutil.NoSleep()
	c := newTestClient(t, mock.URL(), hc, sleeper)

	res, err := c.Search(context.Background(), glpi.ItemTicket, glpi.Query{Range: "0-0"})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("Total = %d, want 0", res.Total)
	}
	// Both injected failures hit initSession: the login retries absorb them.
	if got := sleeper.Total(); got != 3*time.Second {
		t.Errorf("total backoff = %v, want 3s", got)
	}
}

func TestDo_TransportExhausted(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	sleeper := testutil.NoSleep()
	c := newTestClient(t, mock.URL(), mock.Client(), sleeper)
	ctx := context.Background()

	if err := c.Session().EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	mock.SetHandler("/search/Ticket", func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "hijacking not supported", http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	})

	resp, err := c.Get(ctx, "/search/Ticket", nil)
	if resp != nil {
		t.Error("expected no response after exhausting retries")
	}
	if !errors.Is(err, glpi.ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
	if !errors.Is(err, retry.ErrRetryExhausted) {
		t.Errorf("err = %v, want ErrRetryExhausted", err)
	}
	waits := sleeper.Waits()
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Errorf("waits = %v, want [1s 2s]", waits)
	}
}

func TestDo_ServerErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.FailSearches(1, http.StatusInternalServerError)

	c := newTestClient(t, mock.URL(), mock.Client(), testutil.NoSleep())

	resp, err := c.Get(context.Background(), "/search/Ticket", nil)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", resp.StatusCode)
	}
	if got := mock.GetSearchCount(glpi.ItemTicket); got != 1 {
		t.Errorf("search calls = %d, want 1", got)
	}
}

func TestSearch_ContentRangeTotal(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()
	mock.AddRows(glpi.ItemTicket,
		glpi.Row{"2": 1, "12": 1},
		glpi.Row{"2": 2, "12": 1},
		glpi.Row{"2": 3, "12": 5},
	)

	c := newTestClient(t, mock.URL(), mock.Client(), testutil.NoSleep())

	res, err := c.Search(context.Background(), glpi.ItemTicket,
		glpi.Query{Range: "0-0"}.Where(glpi.Equals("12", 1)))
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if res.Total != 2 || !res.FromRange {
		t.Errorf("Total = %d FromRange = %v, want 2 true", res.Total, res.FromRange)
	}
	if len(res.Data) != 1 {
		t.Errorf("rows = %d, want 1 (range 0-0)", len(res.Data))
	}
}

func TestSearch_APIError(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	c := newTestClient(t, mock.URL(), mock.Client(), testutil.NoSleep())

	_, err := c.Search(context.Background(), glpi.ItemTicket,
		glpi.Query{}.Where(glpi.Equals("999", 1)))

	var apiErr *glpi.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *glpi.APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Endpoint != "/search/Ticket" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if Classify(err) != ErrorClassClient {
		t.Errorf("Classify() = %q, want client", Classify(err))
	}
}

func TestListSearchOptions(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	c := newTestClient(t, mock.URL(), mock.Client(), testutil.NoSleep())

	opts, err := c.ListSearchOptions(context.Background(), glpi.ItemTicket)
	if err != nil {
		t.Fatalf("ListSearchOptions() failed: %v", err)
	}
	if opts["12"].Name != "Status" {
		t.Errorf("opts[12] = %+v, want Status", opts["12"])
	}
	if _, ok := opts["common"]; ok {
		t.Error("section headers should be skipped")
	}
}

func TestClose_KillsSession(t *testing.T) {
	mock := testutil.NewMockGLPI()
	defer mock.Close()

	c := newTestClient(t, mock.URL(), mock.Client(), testutil.NoSleep())
	if err := c.Session().EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	c.Close(context.Background())

	if got := mock.GetKillSessionCount(); got != 1 {
		t.Errorf("killSession calls = %d, want 1", got)
	}
	if c.Session().Valid() {
		t.Error("session should be cleared")
	}
}

// flakyTransport fails the first n round trips with a connection error.
type flakyTransport struct {
	failures *atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(req)
}
