package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/dashboard"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/logging"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/metrics"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/ranking"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/service"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/tickets"
)

// dashboardAPI is the part of service.Service the HTTP handlers use.
type dashboardAPI interface {
	GetDashboardMetrics(ctx context.Context, filters dashboard.Filters) (*dashboard.Snapshot, error)
	GetTechnicianRanking(ctx context.Context, limit int, filters ranking.Filters) ([]ranking.Technician, error)
	GetNewTickets(ctx context.Context, limit int, filters tickets.Filters) ([]tickets.Ticket, error)
	GetSystemStatus(ctx context.Context) service.SystemStatus
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.cleanup()

			logger := a.logger.With().Str("component", logging.ComponentServer).Logger()
			srv := &http.Server{
				Addr:         ":" + a.cfg.Server.Port,
				Handler:      newRouter(a.svc, a.cfg.Server.AllowedOrigins, logger),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 2 * a.cfg.GLPI.RequestTimeout,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", srv.Addr).Str("glpi_url", a.cfg.GLPI.URL).Msg("Starting dashboard server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			logger.Info().Msg("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Info().Msg("Server stopped")
			return nil
		},
	}
}

// newRouter builds the HTTP routes.
func newRouter(api dashboardAPI, allowedOrigins []string, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}).Handler)

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	h := &handlers{api: api, logger: logger}
	r.Route("/api/dashboard", func(r chi.Router) {
		r.Get("/metrics", h.metrics)
		r.Get("/technicians", h.technicians)
		r.Get("/tickets/new", h.newTickets)
		r.Get("/system/status", h.systemStatus)
	})

	return r
}

// requestLogger logs one line per request once it completes.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("request completed")
		})
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok", "service": "glpi-dashboard"})
}

type handlers struct {
	api    dashboardAPI
	logger zerolog.Logger
}

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snap, err := h.api.GetDashboardMetrics(r.Context(), dashboard.Filters{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, envelope{Success: true, Data: snap})
}

func (h *handlers) technicians(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	list, err := h.api.GetTechnicianRanking(r.Context(), limit, ranking.Filters{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Level:     q.Get("level"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []ranking.Technician{}
	}
	respond(w, http.StatusOK, envelope{Success: true, Data: list})
}

func (h *handlers) newTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	list, err := h.api.GetNewTickets(r.Context(), limit, tickets.Filters{
		Priority:   q.Get("priority"),
		Technician: q.Get("technician"),
		StartDate:  q.Get("start_date"),
		EndDate:    q.Get("end_date"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []tickets.Ticket{}
	}
	respond(w, http.StatusOK, envelope{Success: true, Data: list})
}

func (h *handlers) systemStatus(w http.ResponseWriter, r *http.Request) {
	status := h.api.GetSystemStatus(r.Context())
	respond(w, statusCode(status.Status), envelope{Success: status.Status == service.Online, Data: status})
}

// statusCode maps GLPI availability to the HTTP status of the status route.
func statusCode(a service.Availability) int {
	switch a {
	case service.Online:
		return http.StatusOK
	case service.Warning:
		return http.StatusPartialContent
	default:
		return http.StatusServiceUnavailable
	}
}

// errorStatus maps an operation error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, glpi.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, glpi.ErrAuthentication), errors.Is(err, glpi.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	h.logger.Error().Err(err).Str("path", r.URL.Path).Int("status", code).Msg("Request failed")
	respond(w, code, envelope{Success: false, Error: err.Error()})
}

// parseLimit reads an optional positive limit; 0 selects the operation default.
func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respond(w, http.StatusBadRequest, envelope{Success: false, Error: "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}

func respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := writeJSON(w, v); err != nil {
		logger := logging.NewLogger(logging.ComponentServer)
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}

var _ dashboardAPI = (*service.Service)(nil)
