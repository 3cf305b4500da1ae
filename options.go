package portal

import (
	"context"

	"github.com/pitabwire/util"

	"github.com/pitabwire/portal/backend"
	"github.com/pitabwire/portal/cache"
	"github.com/pitabwire/portal/config"
	"github.com/pitabwire/portal/session"
	"github.com/pitabwire/portal/telemetry"
)

// WithConfig uses cfg instead of reading the environment.
func WithConfig(cfg *config.ConfigurationDefault) Option {
	return func(_ context.Context, s *Service) {
		s.cfg = cfg
	}
}

// WithName overrides the configured service name.
func WithName(name string) Option {
	return func(_ context.Context, s *Service) {
		s.name = name
	}
}

// WithVersion overrides the configured release version.
func WithVersion(version string) Option {
	return func(_ context.Context, s *Service) {
		s.version = version
	}
}

// WithEnvironment overrides the configured runtime environment.
func WithEnvironment(environment string) Option {
	return func(_ context.Context, s *Service) {
		s.environment = environment
	}
}

// WithLogger adds logger options applied after those derived from configuration.
func WithLogger(opts ...util.Option) Option {
	return func(_ context.Context, s *Service) {
		s.loggerOpts = append(s.loggerOpts, opts...)
	}
}

// WithTelemetry adds telemetry options, such as exporters used in tests.
func WithTelemetry(opts ...telemetry.Option) Option {
	return func(_ context.Context, s *Service) {
		s.telemetryOpts = append(s.telemetryOpts, opts...)
	}
}

// WithCache uses raw instead of connecting CACHE_URI. The service closes it on stop.
func WithCache(raw cache.RawCache) Option {
	return func(_ context.Context, s *Service) {
		s.raw = raw
	}
}

// WithBackend uses api instead of BACKEND_URL or the fixtures.
func WithBackend(api backend.API) Option {
	return func(_ context.Context, s *Service) {
		s.api = api
	}
}

// WithDirectory uses directory instead of ACCOUNTS_FILE.
func WithDirectory(directory *session.Directory) Option {
	return func(_ context.Context, s *Service) {
		s.directory = directory
	}
}

// WithHealthCheck adds checker to the health endpoint.
func WithHealthCheck(checker Checker) Option {
	return func(_ context.Context, s *Service) {
		s.AddHealthCheck(checker)
	}
}
