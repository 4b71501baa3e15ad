package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"copyflow.org/internal/auth"
	"copyflow.org/internal/content"
	"copyflow.org/internal/obs"
	"copyflow.org/internal/publish"
	"copyflow.org/internal/stream"
)

// Strategist produces a content strategy document from a business prompt.
// Satisfied by genai.Client.
type Strategist interface {
	GenerateStrategy(ctx context.Context, prompt string) (string, error)
}

// Config wires the API's collaborators. Hub, Publisher and Strategist are
// optional; the matching endpoints answer 503 when absent.
type Config struct {
	Items      *content.Service
	Users      *auth.Users
	Publisher  *publish.Service
	Strategist Strategist
	Hub        *stream.Hub
	ReadyProbe func(context.Context) error
	Version    string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	items      *content.Service
	users      *auth.Users
	publisher  *publish.Service
	strategist Strategist
	hub        *stream.Hub
	probe      func(context.Context) error
	version    string
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		items:      cfg.Items,
		users:      cfg.Users,
		publisher:  cfg.Publisher,
		strategist: cfg.Strategist,
		hub:        cfg.Hub,
		probe:      cfg.ReadyProbe,
		version:    cfg.Version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	a.mux.HandleFunc("/v1/content", a.handleContentCollection)
	a.mux.HandleFunc("/v1/content/generate", a.handleGenerate)
	a.mux.HandleFunc("/v1/content/", a.handleContentResource)

	a.mux.HandleFunc("/v1/strategy", a.handleStrategy)
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: auth, hardening, rate limiting
// and metrics around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 40, 20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "copyflow-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.probe != nil {
		if err := a.probe(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "copyflow-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
