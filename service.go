// Package portal composes the client portal service: configuration,
// logging, telemetry, caches, sessions and the compiled route tree.
package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/pitabwire/util"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pitabwire/portal/backend"
	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/config"
	"github.com/pitabwire/portal/localization"
	"github.com/pitabwire/portal/pages"
	"github.com/pitabwire/portal/ratelimiter"
	"github.com/pitabwire/portal/routing"
	"github.com/pitabwire/portal/session"
	"github.com/pitabwire/portal/telemetry"
	"github.com/pitabwire/portal/visitor"
	"github.com/pitabwire/portal/workerpool"
)

type contextKey string

func (c contextKey) String() string {
	return "portal/" + string(c)
}

const (
	ctxKeyService = contextKey("serviceKey")

	healthCheckPath = "/healthz"
	loginLimitKey   = "ratelimit:login"
)

// Service holds together every component of the portal for the lifetime of
// the process.
type Service struct {
	name        string
	version     string
	environment string

	cfg        *config.ConfigurationDefault
	logger     *util.LogEntry
	loggerOpts []util.Option

	telemetryOpts []telemetry.Option
	telemetry     telemetry.Manager
	instruments   *telemetry.Instruments

	raw       cache.RawCache
	api       backend.API
	directory *session.Directory
	pool      workerpool.Pool
	visitors  *visitor.Registry
	sessions  *session.Provider
	site      *pages.Site
	handler   http.Handler

	healthCheckers []Checker

	server            *http.Server
	errorChannel      chan error
	errorChannelMutex sync.Mutex
	cleanup           func(ctx context.Context)
	stopMutex         sync.Mutex
}

// Option configures the service before its components are built.
type Option func(ctx context.Context, s *Service)

// NewService builds every component of the portal. Configuration is read
// from the environment unless WithConfig supplies it. Misconfiguration is
// reported as an error and nothing is left running.
func NewService(ctx context.Context, opts ...Option) (context.Context, *Service, error) {
	s := &Service{errorChannel: make(chan error, 1)}
	for _, opt := range opts {
		opt(ctx, s)
	}

	if s.cfg == nil {
		cfg, err := config.FromEnv[config.ConfigurationDefault]()
		if err != nil {
			return ctx, nil, fmt.Errorf("read configuration: %w", err)
		}
		s.cfg = &cfg
	}
	s.applyNames()

	if err := s.setup(ctx); err != nil {
		s.Stop(ctx)
		return ctx, nil, err
	}

	ctx = ToContext(ctx, s)
	ctx = config.ToContext(ctx, s.cfg)
	ctx = util.ContextWithLogger(ctx, s.logger)
	return ctx, s, nil
}

func (s *Service) applyNames() {
	if s.name == "" {
		s.name = s.cfg.Name()
	}
	if s.version == "" {
		s.version = s.cfg.Version()
	}
	if s.environment == "" {
		s.environment = s.cfg.Environment()
	}
}

func (s *Service) setup(ctx context.Context) error {
	if err := s.setupTelemetry(ctx); err != nil {
		return err
	}
	s.setupLogger(ctx)
	ctx = util.ContextWithLogger(ctx, s.logger)

	if err := s.setupCache(ctx); err != nil {
		return err
	}
	if err := s.setupBackend(ctx); err != nil {
		return err
	}
	if err := s.setupAccounts(ctx); err != nil {
		return err
	}
	return s.setupHandler(ctx)
}

func (s *Service) setupTelemetry(ctx context.Context) error {
	opts := append([]telemetry.Option{
		telemetry.WithServiceName(s.name),
		telemetry.WithServiceVersion(s.version),
		telemetry.WithServiceEnvironment(s.environment),
	}, s.telemetryOpts...)

	s.telemetry = telemetry.NewManager(s.cfg, opts...)
	if err := s.telemetry.Init(ctx); err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	s.AddCleanupMethod(func(ctx context.Context) {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.Log(ctx).WithError(err).Warn("telemetry did not shut down cleanly")
		}
	})

	s.instruments = telemetry.NewInstruments()
	return nil
}

func (s *Service) setupLogger(ctx context.Context) {
	opts := []util.Option{
		util.WithLogTimeFormat(s.cfg.LoggingTimeFormat()),
		util.WithLogNoColor(!s.cfg.LoggingColored()),
		util.WithLogStackTrace(),
	}
	if level, err := util.ParseLevel(s.cfg.LoggingLevel()); err == nil {
		opts = append(opts, util.WithLogLevel(level))
	}
	if handler := s.telemetry.LogHandler(); handler != nil {
		opts = append(opts, util.WithLogHandler(handler))
	}
	opts = append(opts, s.loggerOpts...)

	s.logger = util.NewLogger(ctx, opts...).WithField("service", s.name)
}

func (s *Service) setupCache(ctx context.Context) error {
	if s.raw == nil {
		raw, err := OpenCache(ctx, cache.DSN(s.cfg.GetCacheURI()))
		if err != nil {
			return err
		}
		s.raw = raw
	}
	s.AddCleanupMethod(func(ctx context.Context) {
		util.CloseAndLogOnError(ctx, s.raw, "could not close cache")
	})
	s.AddHealthCheck(CheckerFunc(func() error {
		_, err := s.raw.Exists(context.Background(), healthCheckPath)
		return err
	}))
	return nil
}

func (s *Service) setupBackend(ctx context.Context) error {
	if s.api != nil {
		return nil
	}

	if url := s.cfg.GetBackendURL(); url != "" {
		opts := []backend.HTTPOption{backend.WithHTTPTimeout(s.cfg.GetBackendTimeout())}
		if s.cfg.TraceReq() {
			opts = append(opts, backend.WithHTTPTraceRequests())
		}
		s.api = backend.NewREST(url, backend.NewInvoker(opts...))
		s.Log(ctx).WithField("backend", url).Info("using law office backend")
		return nil
	}

	fixtures, err := backend.LoadFixtures(s.cfg.GetFixturesFile(), s.cfg.DefaultLocale())
	if err != nil {
		return err
	}
	s.api = fixtures
	s.Log(ctx).Info("no backend configured, serving fixture data")
	return nil
}

func (s *Service) setupAccounts(ctx context.Context) error {
	if s.directory != nil {
		return nil
	}

	var err error
	if path := s.cfg.GetAccountsFile(); path != "" {
		s.directory, err = session.LoadDirectory(path)
	} else {
		s.directory, err = session.NewDirectory()
	}
	if err != nil {
		return err
	}

	if s.directory.Len() == 0 {
		s.Log(ctx).Warn("no accounts configured, nobody can sign in")
	}
	return nil
}

func (s *Service) setupHandler(ctx context.Context) error {
	registry, err := localization.NewRegistry(s.cfg.DefaultLocale(), s.cfg.SupportedLocales()...)
	if err != nil {
		return fmt.Errorf("locale configuration: %w", err)
	}

	messages, err := localization.NewManager(registry)
	if err != nil {
		return err
	}

	issuer, err := session.NewTokenIssuer(s.cfg)
	if err != nil {
		return err
	}

	s.pool, err = workerpool.New(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	s.AddCleanupMethod(func(ctx context.Context) {
		s.Log(ctx).Info("shutting down worker pool")
		s.pool.Shutdown()
	})

	s.sessions = session.NewProvider(issuer, s.pool, s.raw,
		session.WithResolveWait(s.cfg.GetSessionResolveWait()),
		session.WithCacheTTL(s.cfg.GetSessionCacheTTL(), s.cfg.GetSessionRejectedCacheTTL()))

	gate := routing.NewLocaleGate(registry,
		localization.NewCacheStore(s.raw, s.cfg.LocalePersistence()),
		routing.WithGateInstruments(s.instruments))
	guard := routing.NewGuard(
		routing.WithFallbackLocale(registry.Default().Code),
		routing.WithGuardInstruments(s.instruments))

	siteOpts := []pages.Option{
		pages.WithAccounts(s.directory, issuer),
		pages.WithSessions(s.sessions),
		pages.WithSessionCookie(s.cfg.GetSessionCookieName(), s.cfg.UseSecureCookies()),
		pages.WithViewCache(s.raw, 0),
	}
	if perMinute := s.cfg.GetLoginRateLimitPerMinute(); perMinute > 0 {
		limiter, limiterErr := ratelimiter.NewIPRateLimiter(s.raw, &ratelimiter.WindowConfig{
			WindowDuration: ratelimiter.DefaultWindowConfig().WindowDuration,
			MaxPerWindow:   perMinute,
			KeyPrefix:      loginLimitKey,
		})
		if limiterErr != nil {
			return limiterErr
		}
		siteOpts = append(siteOpts, pages.WithLoginLimiter(limiter))
	}

	s.site, err = pages.NewSite(registry, messages, gate, s.api, siteOpts...)
	if err != nil {
		return err
	}

	router, err := s.site.Tree(guard, routing.Route{
		Name:    "healthz",
		Path:    healthCheckPath,
		Methods: []string{http.MethodGet, http.MethodHead},
		Handler: http.HandlerFunc(s.HandleHealth),
	}).Compile()
	if err != nil {
		return fmt.Errorf("route tree: %w", err)
	}

	s.visitors = visitor.NewRegistry(s.cfg.GetVisitorIdleTTL())

	var h http.Handler = router
	h = session.Middleware(s.sessions, s.cfg.GetSessionCookieName())(h)
	h = visitor.Middleware(s.visitors, visitor.CookieOptions{
		Name:   s.cfg.GetVisitorCookieName(),
		Secure: s.cfg.UseSecureCookies(),
	})(h)
	if s.cfg.TraceReq() {
		h = routing.RequestLogger(h)
	}
	h = routing.ContextLogger(util.ContextWithLogger(ctx, s.logger))(h)
	s.handler = otelhttp.NewHandler(h, s.name)
	return nil
}

// ToContext pushes a service instance into the supplied context.
func ToContext(ctx context.Context, service *Service) context.Context {
	return context.WithValue(ctx, ctxKeyService, service)
}

// FromContext obtains the service propagated through the context.
func FromContext(ctx context.Context) *Service {
	service, ok := ctx.Value(ctxKeyService).(*Service)
	if !ok {
		return nil
	}
	return service
}

func (s *Service) Name() string {
	return s.name
}

func (s *Service) Version() string {
	return s.version
}

func (s *Service) Environment() string {
	return s.environment
}

// Config is the configuration the service was built from.
func (s *Service) Config() *config.ConfigurationDefault {
	return s.cfg
}

// H is the fully wrapped http handler of the portal.
func (s *Service) H() http.Handler {
	return s.handler
}

// Visitors is the registry of live visitor scopes.
func (s *Service) Visitors() *visitor.Registry {
	return s.visitors
}

func (s *Service) Log(ctx context.Context) *util.LogEntry {
	if s.logger == nil {
		return util.Log(ctx)
	}
	return s.logger.WithContext(ctx)
}

// AddCleanupMethod adds f to the functions run when the service stops.
// Cleanups run in reverse order of registration.
func (s *Service) AddCleanupMethod(f func(ctx context.Context)) {
	s.stopMutex.Lock()
	defer s.stopMutex.Unlock()

	if s.cleanup == nil {
		s.cleanup = f
		return
	}

	old := s.cleanup
	s.cleanup = func(ctx context.Context) { f(ctx); old(ctx) }
}

var ErrServiceNotBuilt = errors.New("service has no handler, was it created with NewService?")
