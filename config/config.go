package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type contextKey string

func (c contextKey) String() string {
	return "portal/config/" + string(c)
}

const (
	ctxKeyConfiguration = contextKey("configurationKey")

	defaultHTTPPort = ":8080"
)

// ToContext adds service configuration to the current supplied context.
func ToContext(ctx context.Context, config any) context.Context {
	return context.WithValue(ctx, ctxKeyConfiguration, config)
}

// FromContext extracts service configuration from the supplied context if any exist.
func FromContext[T any](ctx context.Context) T {
	if cfg, ok := ctx.Value(ctxKeyConfiguration).(T); ok {
		return cfg
	}
	var zero T
	return zero
}

// FromEnv convenience method to process configs.
func FromEnv[T any]() (T, error) {
	return env.ParseAs[T]()
}

// FillEnv convenience method to fill a config object with environment data.
func FillEnv(v any) error {
	return env.Parse(v)
}

type ConfigurationDefault struct {
	LogLevel      string `envDefault:"info"                      env:"LOG_LEVEL"       yaml:"log_level"`
	LogTimeFormat string `envDefault:"2006-01-02T15:04:05Z07:00" env:"LOG_TIME_FORMAT" yaml:"log_time_format"`
	LogColored    bool   `envDefault:"true"                      env:"LOG_COLORED"     yaml:"log_colored"`

	TraceRequests bool `envDefault:"false" env:"TRACE_REQUESTS" yaml:"trace_requests"`

	OpenTelemetryDisable    bool    `envDefault:"false" env:"OPENTELEMETRY_DISABLE"        yaml:"opentelemetry_disable"`
	OpenTelemetryTraceRatio float64 `envDefault:"0.1"   env:"OPENTELEMETRY_TRACE_ID_RATIO" yaml:"opentelemetry_trace_id_ratio"`

	ServiceName        string `envDefault:"client_portal" env:"SERVICE_NAME"        yaml:"service_name"`
	ServiceEnvironment string `envDefault:""              env:"SERVICE_ENVIRONMENT" yaml:"service_environment"`
	ServiceVersion     string `envDefault:""              env:"SERVICE_VERSION"     yaml:"service_version"`

	HTTPServerPort string `envDefault:":8080" env:"HTTP_PORT" yaml:"http_server_port"`

	DefaultLocaleCode    string   `envDefault:"ar"       env:"DEFAULT_LOCALE"    yaml:"default_locale"`
	SupportedLocaleCodes []string `envDefault:"ar,en,fr" env:"SUPPORTED_LOCALES" yaml:"supported_locales" envSeparator:","`
	LocaleTTL            string   `envDefault:"8760h"    env:"LOCALE_TTL"        yaml:"locale_ttl"`

	CacheURI string `envDefault:"mem://portal" env:"CACHE_URI" yaml:"cache_uri"`

	JwtSigningSecret string `env:"JWT_SIGNING_SECRET" yaml:"jwt_signing_secret"`
	JwtIssuer        string `envDefault:"client_portal" env:"JWT_ISSUER" yaml:"jwt_issuer"`
	JwtTTL           string `envDefault:"12h"           env:"JWT_TTL"    yaml:"jwt_ttl"`

	SessionCookieName  string `envDefault:"portal_token"   env:"SESSION_COOKIE_NAME"  yaml:"session_cookie_name"`
	VisitorCookieName  string `envDefault:"portal_visitor" env:"VISITOR_COOKIE_NAME"  yaml:"visitor_cookie_name"`
	VisitorIdleTTL     string `envDefault:"30m"            env:"VISITOR_IDLE_TTL"     yaml:"visitor_idle_ttl"`
	SessionResolveWait string `envDefault:"250ms"          env:"SESSION_RESOLVE_WAIT" yaml:"session_resolve_wait"`
	SecureCookies      bool   `envDefault:"true"           env:"SECURE_COOKIES"       yaml:"secure_cookies"`

	SessionCacheTTL         string `envDefault:"5m" env:"SESSION_CACHE_TTL"          yaml:"session_cache_ttl"`
	SessionRejectedCacheTTL string `envDefault:"1m" env:"SESSION_REJECTED_CACHE_TTL" yaml:"session_rejected_cache_ttl"`

	WorkerPoolCapacity       int    `envDefault:"100" env:"WORKER_POOL_CAPACITY"        yaml:"worker_pool_capacity"`
	WorkerPoolExpiryDuration string `envDefault:"1s"  env:"WORKER_POOL_EXPIRY_DURATION" yaml:"worker_pool_expiry_duration"`

	BackendURL     string `envDefault:""    env:"BACKEND_URL"     yaml:"backend_url"`
	BackendTimeout string `envDefault:"10s" env:"BACKEND_TIMEOUT" yaml:"backend_timeout"`

	AccountsFile string `envDefault:"" env:"ACCOUNTS_FILE" yaml:"accounts_file"`
	FixturesFile string `envDefault:"" env:"FIXTURES_FILE" yaml:"fixtures_file"`

	LoginRateLimitPerMinute int `envDefault:"10" env:"LOGIN_RATE_LIMIT_PER_MINUTE" yaml:"login_rate_limit_per_minute"`
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

type ConfigurationService interface {
	Name() string
	Environment() string
	Version() string
}

var _ ConfigurationService = new(ConfigurationDefault)

func (c *ConfigurationDefault) Name() string {
	return c.ServiceName
}
func (c *ConfigurationDefault) Environment() string {
	return c.ServiceEnvironment
}
func (c *ConfigurationDefault) Version() string {
	return c.ServiceVersion
}

type ConfigurationLogLevel interface {
	LoggingLevel() string
	LoggingTimeFormat() string
	LoggingColored() bool
	LoggingLevelIsDebug() bool
}

var _ ConfigurationLogLevel = new(ConfigurationDefault)

func (c *ConfigurationDefault) LoggingLevel() string {
	return c.LogLevel
}

func (c *ConfigurationDefault) LoggingTimeFormat() string {
	return c.LogTimeFormat
}

func (c *ConfigurationDefault) LoggingColored() bool {
	return c.LogColored
}

func (c *ConfigurationDefault) LoggingLevelIsDebug() bool {
	return c.LoggingLevel() == "debug" || c.LoggingLevel() == "trace"
}

type ConfigurationTraceRequests interface {
	TraceReq() bool
}

var _ ConfigurationTraceRequests = new(ConfigurationDefault)

func (c *ConfigurationDefault) TraceReq() bool {
	return c.TraceRequests
}

type ConfigurationTelemetry interface {
	DisableOpenTelemetry() bool
	SamplingRatio() float64
}

var _ ConfigurationTelemetry = new(ConfigurationDefault)

func (c *ConfigurationDefault) DisableOpenTelemetry() bool {
	return c.OpenTelemetryDisable
}

func (c *ConfigurationDefault) SamplingRatio() float64 {
	return c.OpenTelemetryTraceRatio
}

type ConfigurationPorts interface {
	HTTPPort() string
}

var _ ConfigurationPorts = new(ConfigurationDefault)

func (c *ConfigurationDefault) HTTPPort() string {
	if i, err := strconv.Atoi(c.HTTPServerPort); err == nil && i > 0 {
		return fmt.Sprintf(":%s", strings.TrimSpace(c.HTTPServerPort))
	}

	if strings.HasPrefix(c.HTTPServerPort, ":") || strings.Contains(c.HTTPServerPort, ":") {
		return c.HTTPServerPort
	}

	return defaultHTTPPort
}

// ConfigurationLocale exposes the supported locale set and its fallback.
type ConfigurationLocale interface {
	DefaultLocale() string
	SupportedLocales() []string
	LocalePersistence() time.Duration
}

var _ ConfigurationLocale = new(ConfigurationDefault)

func (c *ConfigurationDefault) DefaultLocale() string {
	return strings.TrimSpace(strings.ToLower(c.DefaultLocaleCode))
}

func (c *ConfigurationDefault) SupportedLocales() []string {
	codes := make([]string, 0, len(c.SupportedLocaleCodes))
	for _, code := range c.SupportedLocaleCodes {
		code = strings.TrimSpace(strings.ToLower(code))
		if code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

func (c *ConfigurationDefault) LocalePersistence() time.Duration {
	return parseDuration(c.LocaleTTL, 365*24*time.Hour)
}

type ConfigurationCache interface {
	GetCacheURI() string
}

var _ ConfigurationCache = new(ConfigurationDefault)

func (c *ConfigurationDefault) GetCacheURI() string {
	return c.CacheURI
}

type ConfigurationSession interface {
	GetJwtSigningSecret() string
	GetJwtIssuer() string
	GetJwtTTL() time.Duration
	GetSessionCookieName() string
	GetVisitorCookieName() string
	GetVisitorIdleTTL() time.Duration
	GetSessionResolveWait() time.Duration
	GetSessionCacheTTL() time.Duration
	GetSessionRejectedCacheTTL() time.Duration
	UseSecureCookies() bool
}

var _ ConfigurationSession = new(ConfigurationDefault)

func (c *ConfigurationDefault) GetJwtSigningSecret() string {
	return c.JwtSigningSecret
}

func (c *ConfigurationDefault) GetJwtIssuer() string {
	return c.JwtIssuer
}

func (c *ConfigurationDefault) GetJwtTTL() time.Duration {
	return parseDuration(c.JwtTTL, 12*time.Hour)
}

func (c *ConfigurationDefault) GetSessionCookieName() string {
	return c.SessionCookieName
}

func (c *ConfigurationDefault) GetVisitorCookieName() string {
	return c.VisitorCookieName
}

func (c *ConfigurationDefault) GetVisitorIdleTTL() time.Duration {
	return parseDuration(c.VisitorIdleTTL, 30*time.Minute)
}

func (c *ConfigurationDefault) GetSessionResolveWait() time.Duration {
	if c.SessionResolveWait == "0" || c.SessionResolveWait == "0s" {
		return 0
	}
	return parseDuration(c.SessionResolveWait, 250*time.Millisecond)
}

// GetSessionCacheTTL is how long a resolved session token is remembered.
func (c *ConfigurationDefault) GetSessionCacheTTL() time.Duration {
	return parseDuration(c.SessionCacheTTL, 5*time.Minute)
}

// GetSessionRejectedCacheTTL is how long a rejected token is remembered.
func (c *ConfigurationDefault) GetSessionRejectedCacheTTL() time.Duration {
	return parseDuration(c.SessionRejectedCacheTTL, time.Minute)
}

func (c *ConfigurationDefault) UseSecureCookies() bool {
	return c.SecureCookies
}

type ConfigurationWorkerPool interface {
	GetCapacity() int
	GetExpiryDuration() time.Duration
}

var _ ConfigurationWorkerPool = new(ConfigurationDefault)

func (c *ConfigurationDefault) GetCapacity() int {
	return c.WorkerPoolCapacity
}

func (c *ConfigurationDefault) GetExpiryDuration() time.Duration {
	return parseDuration(c.WorkerPoolExpiryDuration, time.Second)
}

type ConfigurationBackend interface {
	GetBackendURL() string
	GetBackendTimeout() time.Duration
	GetFixturesFile() string
}

var _ ConfigurationBackend = new(ConfigurationDefault)

func (c *ConfigurationDefault) GetBackendURL() string {
	return strings.TrimRight(c.BackendURL, "/")
}

func (c *ConfigurationDefault) GetBackendTimeout() time.Duration {
	return parseDuration(c.BackendTimeout, 10*time.Second)
}

func (c *ConfigurationDefault) GetFixturesFile() string {
	return c.FixturesFile
}

type ConfigurationAccounts interface {
	GetAccountsFile() string
	GetLoginRateLimitPerMinute() int
}

var _ ConfigurationAccounts = new(ConfigurationDefault)

func (c *ConfigurationDefault) GetAccountsFile() string {
	return c.AccountsFile
}

func (c *ConfigurationDefault) GetLoginRateLimitPerMinute() int {
	return c.LoginRateLimitPerMinute
}
