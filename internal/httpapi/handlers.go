package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"inkpost.org/internal/auth"
	"inkpost.org/internal/ids"
	"inkpost.org/internal/obs"
)

const (
	serviceName        = "inkpost-api"
	defaultMaxBody     = 1 << 20
	defaultRatePerSec  = 5
	defaultRateBurst   = 10
	defaultCORSOrigin  = "http://localhost:3000"
	readyProbeDeadline = 2 * time.Second
)

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks that the backing store is reachable.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// CookieSettings controls the session cookie attributes.
type CookieSettings struct {
	Secure bool
	Domain string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	guard      *auth.Guard
	log        *zap.Logger
	readyProbe ReadyProbe
	version    string
	cookies    CookieSettings
	corsOrigin string
	maxBody    int64
	ratePerSec float64
	rateBurst  int
	limiter    *RateLimiter
	proxies    []netip.Prefix
	validID    func(string) bool
	dev        bool
	now        func() time.Time
}

// Option configures API.
type Option func(*API)

func WithReadyProbe(rp ReadyProbe) Option { return func(a *API) { a.readyProbe = rp } }

func WithVersion(v string) Option { return func(a *API) { a.version = v } }

func WithCookies(c CookieSettings) Option { return func(a *API) { a.cookies = c } }

func WithCORSOrigin(origin string) Option {
	return func(a *API) {
		if origin != "" {
			a.corsOrigin = origin
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithRateLimit bounds per-client request rates on the credential endpoints.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec, a.rateBurst = perSecond, burst
		}
	}
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For header
// is believed when resolving the client address.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.proxies = append(a.proxies, prefixes...) }
}

// WithIDFormat sets the check applied to user ids in request paths. The
// default accepts ULIDs; the MongoDB backend uses ObjectIDs instead.
func WithIDFormat(valid func(string) bool) Option {
	return func(a *API) {
		if valid != nil {
			a.validID = valid
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithDevelopment exposes internal error messages in responses.
func WithDevelopment(dev bool) Option { return func(a *API) { a.dev = dev } }

// New wires the routes.
func New(svc *auth.Service, guard *auth.Guard, opts ...Option) (*API, error) {
	if svc == nil || guard == nil {
		return nil, errors.New("httpapi: session service and guard are required")
	}
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		guard:      guard,
		cookies:    CookieSettings{Secure: true},
		corsOrigin: defaultCORSOrigin,
		maxBody:    defaultMaxBody,
		ratePerSec: defaultRatePerSec,
		rateBurst:  defaultRateBurst,
		validID:    ids.Valid,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = obs.Logger().Named("http")
	}
	a.limiter = NewRateLimiter(a.ratePerSec, a.rateBurst, a.proxies...)

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/api/v1/auth/register", a.limiter.Middleware(http.HandlerFunc(a.handleRegister)))
	a.mux.Handle("/api/v1/auth/login", a.limiter.Middleware(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/api/v1/auth/refresh-token", a.limiter.Middleware(http.HandlerFunc(a.handleRefreshToken)))
	a.mux.Handle("/api/v1/auth/logout", a.withAuth(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/api/v1/auth/change-password", a.limiter.Middleware(a.withAuth(http.HandlerFunc(a.handleChangePassword))))
	a.mux.Handle("/api/v1/auth/permissions", a.withAuth(http.HandlerFunc(a.handlePermissions)))
	a.mux.Handle("/api/v1/users/current-user",
		a.withAuth(a.requirePermission(auth.PermUserRead, http.HandlerFunc(a.handleCurrentUser))))
	a.mux.Handle("/api/v1/users/update-account",
		a.withAuth(a.requirePermission(auth.PermUserUpdate, http.HandlerFunc(a.handleUpdateAccount))))
	a.mux.Handle("/api/v1/users", a.withAuth(a.requirePermission(auth.PermUserRead, http.HandlerFunc(a.handleListUsers))))
	a.mux.Handle("/api/v1/users/", a.withAuth(http.HandlerFunc(a.handleUser)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "route not found", "NOT_FOUND")
	})

	return a, nil
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h, a.corsOrigin)
	h = SecurityHeaders(h)
	h = LoggingJSON(h, a.proxies...)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeDeadline)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

type successResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, successResponse{Message: msg, Data: data})
}
