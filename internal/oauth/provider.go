// Package oauth implements the OAuth 2.1 authorization server that guards
// the gateway: dynamic client registration, authorization code with PKCE,
// refresh token rotation and signed access tokens that carry the caller's
// permissions.
package oauth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var (
	// ErrNotFound is returned by a Store for unknown or expired entries.
	ErrNotFound = errors.New("not found")
	// ErrInvalidToken is returned for an access token that fails verification.
	ErrInvalidToken = errors.New("invalid access token")
)

// Endpoint paths served by the provider.
const (
	PathAuthorize         = "/authorize"
	PathToken             = "/token"
	PathRegister          = "/register"
	PathServerMetadata    = "/.well-known/oauth-authorization-server"
	PathResourceMetadata  = "/.well-known/oauth-protected-resource"
	LandingText           = "FlowMCP Server with AuthKit"
	defaultAccessTokenTTL = time.Hour
)

// Config controls token lifetimes and issuer identity.
type Config struct {
	// Issuer is the public base URL. When empty it is derived per request.
	Issuer          string
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	// ResourcePath names the protected resource in RFC 9728 metadata.
	ResourcePath string
}

// Provider serves the authorization endpoints and verifies access tokens.
type Provider struct {
	cfg     Config
	store   Store
	users   *Directory
	logger  *slog.Logger
	now     func() time.Time
	handler http.Handler
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a provider backed by store and users.
func NewProvider(cfg Config, store Store, users *Directory, opts ...Option) *Provider {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.AuthCodeTTL <= 0 {
		cfg.AuthCodeTTL = 10 * time.Minute
	}
	if users == nil {
		users = NewDirectory()
	}
	p := &Provider{
		cfg:    cfg,
		store:  store,
		users:  users,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.handler = p.routes()
	return p
}

func (p *Provider) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(LandingText))
	})

	r.With(middleware.AllowContentType("application/json")).Post(PathRegister, p.handleRegister)
	r.Get(PathAuthorize, p.handleAuthorizeGet)
	r.Post(PathAuthorize, p.handleAuthorizePost)
	r.With(middleware.NoCache).Post(PathToken, p.handleToken)
	r.Get(PathServerMetadata, p.handleServerMetadata)
	r.Get(PathResourceMetadata, p.handleResourceMetadata)
	r.Get(PathResourceMetadata+"/*", p.handleResourceMetadata)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, http.StatusNotFound, "not_found", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, http.StatusMethodNotAllowed, ErrorInvalidRequest, "Method not allowed")
	})
	return r
}

// ServeHTTP dispatches to the authorization endpoints.
func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

func (p *Provider) baseURL(r *http.Request) string {
	if p.cfg.Issuer != "" {
		return p.cfg.Issuer
	}
	scheme := "https"
	if r.TLS == nil {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host
}
