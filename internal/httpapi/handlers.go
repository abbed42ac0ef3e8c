package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"eegportal.org/internal/auth"
	"eegportal.org/internal/files"
	"eegportal.org/internal/obs"
	"eegportal.org/internal/peaks"
	"eegportal.org/internal/users"
)

const serviceName = "eegportal-api"

// Pinger is a backing store that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every configured backend.
type ReadyProbe struct {
	Pingers []Pinger
	Timeout time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	timeout := rp.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var errs []error
	for _, p := range rp.Pingers {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// UserService is the account API the handlers depend on.
type UserService interface {
	Provision(ctx context.Context, requester auth.Identity, firstName, lastName string) (users.Credentials, error)
	Assign(ctx context.Context, requester auth.Identity, targetEmail string, names []string) (users.Assignment, error)
	Login(ctx context.Context, email, password string) (users.Session, error)
	Renew(id auth.Identity) (users.Session, error)
	Profile(ctx context.Context, id auth.Identity) (*users.User, error)
	User(ctx context.Context, email string) (*users.User, error)
}

// FileService stores and serves payloads.
type FileService interface {
	Put(ctx context.Context, up files.Upload) (*files.File, error)
	Get(ctx context.Context, fileName string) (*files.File, io.ReadCloser, error)
	Remove(ctx context.Context, f *files.File) error
}

// Services groups the domain dependencies of the API.
type Services struct {
	Tokens TokenVerifier
	Users  UserService
	Files  FileService
	Peaks  peaks.Detector
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	readyProbe ReadyProbe
	version    string

	tokens   TokenVerifier
	users    UserService
	files    FileService
	detector peaks.Detector

	allowedOrigins      []string
	maxBodyBytes        int64
	loginPerSecond      float64
	loginBurst          int
	downloadRequireAuth bool
}

// Option configures an API.
type Option func(*API)

// WithAllowedOrigins sets the CORS allow-list. "*" allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.allowedOrigins = append([]string(nil), origins...) }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithLoginRate throttles /login per client IP.
func WithLoginRate(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.loginPerSecond = perSecond
			a.loginBurst = burst
		}
	}
}

// WithDownloadAuth puts /download behind the auth gate and restricts
// non-admins to their assigned files.
func WithDownloadAuth(required bool) Option {
	return func(a *API) { a.downloadRequireAuth = required }
}

func New(rp ReadyProbe, version string, svc Services, opts ...Option) *API {
	a := &API{
		readyProbe:     rp,
		version:        version,
		tokens:         svc.Tokens,
		users:          svc.Users,
		files:          svc.Files,
		detector:       svc.Peaks,
		allowedOrigins: []string{"http://localhost:5173"},
		maxBodyBytes:   128 << 20,
		loginPerSecond: 1,
		loginBurst:     5,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, Recover, LoggingJSON, SecurityHeaders, CORS(a.allowedOrigins), MaxBodyBytes(a.maxBodyBytes))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.With(RateLimit(a.loginBurst, a.loginPerSecond)).Post("/login", a.handleLogin)
	if !a.downloadRequireAuth {
		r.Get("/download/{fileName}", a.handleDownload)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.requireIdentity)
		r.Get("/user", a.handleUser)
		r.Post("/renewToken", a.handleRenewToken)
		r.Post("/findPeaks", a.handleFindPeaks)
		if a.downloadRequireAuth {
			r.Get("/download/{fileName}", a.handleDownload)
		}

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/addUser", a.handleAddUser)
			r.Post("/assignFiles", a.handleAssignFiles)
		})
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Logger().WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
