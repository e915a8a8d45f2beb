// Package httpapi exposes the task tracker over HTTP: auth endpoints,
// task CRUD, access grants, dependency edges, an SSE stream, health, and
// metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/0neda/trackify/internal/apperr"
	"github.com/0neda/trackify/internal/auth"
	"github.com/0neda/trackify/internal/store"
	"github.com/0neda/trackify/internal/store/postgres"
	"github.com/0neda/trackify/internal/tasks"
)

// defaultMaxRequestBodyBytes is the default limit for request body size (1 MiB) to prevent OOM.
const defaultMaxRequestBodyBytes = 1 << 20

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for browser clients on other origins.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, DB, auth, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	DBDriver       string // "sqlite" (default) or "postgres"
	DBURL          string // for postgres: connection string (or set DATABASE_URL env)
	JWTSecret      string // signs session tokens; required
	TokenTTL       time.Duration
	BcryptCost     int          // zero means bcrypt.DefaultCost
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server, SSE hub, store, and services.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Store  store.Store
	Auth   *auth.Service
	Tasks  *tasks.Service
	Home   string
}

// NewApp creates the HTTP app (server, hub, store, services) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	authSvc, err := auth.New(st, auth.Options{
		Secret:     []byte(opts.JWTSecret),
		TokenTTL:   opts.TokenTTL,
		BcryptCost: opts.BcryptCost,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{
		Hub:   hub,
		Store: st,
		Auth:  authSvc,
		Tasks: tasks.New(st),
		Home:  opts.Home,
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "ok"})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			counts, _ := st.CountTasksByStatus(r.Context())
			_, _ = fmt.Fprintf(w, "# TYPE trackify_tasks_total gauge\n")
			for _, status := range []store.Status{
				store.StatusTodo, store.StatusInProgress, store.StatusReview,
				store.StatusBlocked, store.StatusDone, store.StatusCancelled,
			} {
				_, _ = fmt.Fprintf(w, "trackify_tasks_total{status=%q} %d\n", string(status), counts[status])
			}
		})
	}

	mux.HandleFunc("/stream", hub.Handler())

	// --- Auth ---
	mux.HandleFunc("/api/auth/register", a.handleRegister)
	mux.HandleFunc("/api/auth/login", a.handleLogin)
	mux.HandleFunc("/api/me", a.requireAuth(a.handleMe))
	mux.HandleFunc("/api/users", a.requireAuth(a.handleUsers))

	// --- Tasks ---
	mux.HandleFunc("/api/tasks", a.requireAuth(a.handleTasks))
	mux.HandleFunc("/api/tasks/", a.requireAuth(a.handleTaskSubtree))

	var handler http.Handler = corsMiddleware(bodyLimitMiddleware(defaultMaxRequestBodyBytes, mux))
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "trackify")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})
	a.Server = srv
	return a, nil
}

type userKey struct{}

// requireAuth validates the bearer token and puts the user in the
// request context.
func (a *App) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSONError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		u, err := a.Auth.ValidateToken(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := contextWithUser(r.Context(), u)
		next(w, r.WithContext(ctx))
	}
}

// handleTaskSubtree routes /api/tasks/{id}[/access[/{userID}]|/dependencies[/{depID}]].
func (a *App) handleTaskSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	taskID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	switch {
	case len(parts) == 1:
		a.handleTask(w, r, taskID)
	case len(parts) == 2 && parts[1] == "access":
		a.handleTaskAccess(w, r, taskID)
	case len(parts) == 3 && parts[1] == "access":
		userID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		a.handleTaskAccessItem(w, r, taskID, userID)
	case len(parts) == 2 && parts[1] == "dependencies":
		a.handleTaskDependencies(w, r, taskID)
	case len(parts) == 3 && parts[1] == "dependencies":
		depID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid dependency id")
			return
		}
		a.handleTaskDependencyItem(w, r, taskID, depID)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

// writeJSON encodes v as the response body with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONStatus encodes v with an explicit status code.
func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// writeError maps a domain error to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("internal error", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
