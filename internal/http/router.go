package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Servers   *ServerHandler
	Timetable *TimetableHandler
	Parties   *PartyHandler
	Games     *GameHandler
	Stats     *StatsHandler

	Verifier     IdentityVerifier
	HealthChecks map[string]HealthCheck
	CORSOrigins  []string
	Logger       *slog.Logger
	Middleware   []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)
	responder := newResponder(logger)

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responder.writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Message: errResourceNotFound.Error()})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responder.writeJSON(r.Context(), w, http.StatusMethodNotAllowed, errorResponse{Message: errMethodNotAllowed.Error()})
	})

	router.HandleFunc("/healthz", healthHandler(cfg.HealthChecks, responder)).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RequireIdentity(cfg.Verifier, logger))

	if cfg.Servers != nil {
		api.HandleFunc("/servers", cfg.Servers.Create).Methods(http.MethodPost)
		api.HandleFunc("/servers/{id}", cfg.Servers.Get).Methods(http.MethodGet)
		api.HandleFunc("/servers/{id}", cfg.Servers.Update).Methods(http.MethodPatch)
		api.HandleFunc("/servers/{id}/members", cfg.Servers.ListMembers).Methods(http.MethodGet)
		api.HandleFunc("/servers/{id}/members", cfg.Servers.Join).Methods(http.MethodPost)
		api.HandleFunc("/servers/{id}/members", cfg.Servers.Leave).Methods(http.MethodDelete)
		api.HandleFunc("/servers/{id}/admins/{userID}", cfg.Servers.GrantAdmin).Methods(http.MethodPut)
		api.HandleFunc("/servers/{id}/admins/{userID}", cfg.Servers.RevokeAdmin).Methods(http.MethodDelete)
	}

	if cfg.Timetable != nil {
		api.HandleFunc("/servers/{id}/timetable", cfg.Timetable.List).Methods(http.MethodGet)
		api.HandleFunc("/servers/{id}/timetable", cfg.Timetable.Reserve).Methods(http.MethodPut)
		api.HandleFunc("/servers/{id}/timetable", cfg.Timetable.Cancel).Methods(http.MethodDelete)
	}

	if cfg.Parties != nil {
		api.HandleFunc("/servers/{id}/parties", cfg.Parties.List).Methods(http.MethodGet)
		api.HandleFunc("/servers/{id}/parties", cfg.Parties.Create).Methods(http.MethodPost)
		api.HandleFunc("/servers/{id}/parties/{partyID}", cfg.Parties.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/servers/{id}/parties/{partyID}/members", cfg.Parties.Join).Methods(http.MethodPost)
		api.HandleFunc("/servers/{id}/parties/{partyID}/members", cfg.Parties.Leave).Methods(http.MethodDelete)
	}

	if cfg.Games != nil {
		api.HandleFunc("/servers/{id}/games", cfg.Games.List).Methods(http.MethodGet)
		api.HandleFunc("/servers/{id}/games", cfg.Games.Create).Methods(http.MethodPost)
		api.HandleFunc("/servers/{id}/games/{gameID}", cfg.Games.Delete).Methods(http.MethodDelete)
	}

	if cfg.Stats != nil {
		api.HandleFunc("/servers/{id}/stats/today", cfg.Stats.Today).Methods(http.MethodGet)
		api.HandleFunc("/servers/{id}/stats/weekly", cfg.Stats.Weekly).Methods(http.MethodGet)
	}

	var handler http.Handler = router
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	handler = RequestLogger(logger)(handler)
	return CORS(cfg.CORSOrigins)(handler)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck, responder responder) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for _, name := range names {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(names))
			}
			if err := checks[name](ctx); err != nil {
				responder.loggerFor(ctx).WarnContext(ctx, "health check failed", "check", name, "error", err)
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		responder.writeJSON(ctx, w, status, resp)
	}
}
