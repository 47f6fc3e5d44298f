package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Amund211/coalesce/internal/domain"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const (
	defaultPort                = "8080"
	defaultQueryConcurrency    = 6
	defaultMutationConcurrency = 2
	defaultUpstreamWindow      = time.Minute
)

type Config struct {
	port        string
	sentryDSN   string
	upstreamURL string
	execution   domain.ExecutionContext

	queryConcurrency    int64
	mutationConcurrency int64
	upstreamWindowLimit int
	upstreamWindow      time.Duration

	requestStateTTL time.Duration
	otelEnabled     bool

	allowedOriginSuffixes []string

	env environment
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) UpstreamURL() string {
	return c.upstreamURL
}

func (c *Config) ExecutionContext() domain.ExecutionContext {
	return c.execution
}

func (c *Config) QueryConcurrency() int64 {
	return c.queryConcurrency
}

func (c *Config) MutationConcurrency() int64 {
	return c.mutationConcurrency
}

// UpstreamWindowLimit is the max number of upstream calls started per UpstreamWindow.
// Zero disables the limit.
func (c *Config) UpstreamWindowLimit() int {
	return c.upstreamWindowLimit
}

func (c *Config) UpstreamWindow() time.Duration {
	return c.upstreamWindow
}

// RequestStateTTL is zero when request state records never expire
func (c *Config) RequestStateTTL() time.Duration {
	return c.requestStateTTL
}

func (c *Config) OTelEnabled() bool {
	return c.otelEnabled
}

// AllowedOriginSuffixes lists the domains (and their subdomains) allowed to make cross-origin requests
func (c *Config) AllowedOriginSuffixes() []string {
	return c.allowedOriginSuffixes
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, port: %s, upstreamURL: %s, execution: %s, queryConcurrency: %d, mutationConcurrency: %d, upstreamWindowLimit: %d, upstreamWindow: %s, requestStateTTL: %s, otelEnabled: %t, allowedOriginSuffixes: %v, ...}",
		string(c.env),
		c.port,
		c.upstreamURL,
		c.execution,
		c.queryConcurrency,
		c.mutationConcurrency,
		c.upstreamWindowLimit,
		c.upstreamWindow,
		c.requestStateTTL,
		c.otelEnabled,
		c.allowedOriginSuffixes,
	)
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}
	invalidValue := func(key, value string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, value)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("COALESCE_ENVIRONMENT")
	if !ok {
		return missingKey("COALESCE_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return invalidValue("COALESCE_ENVIRONMENT", rawEnv)
	}
	if string(env) == "" {
		panic("logic error: env is empty")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	if (env == production || env == staging) && sentryDSN == "" {
		return missingKey("SENTRY_DSN")
	}

	upstreamURL := os.Getenv("UPSTREAM_URL")
	if upstreamURL == "" {
		return missingKey("UPSTREAM_URL")
	}

	execution := domain.ExecutionInteractive
	if rawExecution := os.Getenv("EXECUTION_CONTEXT"); rawExecution != "" {
		parsed, err := domain.ParseExecutionContext(rawExecution)
		if err != nil {
			return invalidValue("EXECUTION_CONTEXT", rawExecution)
		}
		execution = parsed
	}

	queryConcurrency := int64(defaultQueryConcurrency)
	if raw := os.Getenv("QUERY_CONCURRENCY"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			return invalidValue("QUERY_CONCURRENCY", raw)
		}
		queryConcurrency = parsed
	}

	mutationConcurrency := int64(defaultMutationConcurrency)
	if raw := os.Getenv("MUTATION_CONCURRENCY"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			return invalidValue("MUTATION_CONCURRENCY", raw)
		}
		mutationConcurrency = parsed
	}

	upstreamWindowLimit := 0
	if raw := os.Getenv("UPSTREAM_WINDOW_LIMIT"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return invalidValue("UPSTREAM_WINDOW_LIMIT", raw)
		}
		upstreamWindowLimit = parsed
	}

	upstreamWindow := defaultUpstreamWindow
	if raw := os.Getenv("UPSTREAM_WINDOW"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return invalidValue("UPSTREAM_WINDOW", raw)
		}
		upstreamWindow = parsed
	}

	var requestStateTTL time.Duration
	if raw := os.Getenv("REQUEST_STATE_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			return invalidValue("REQUEST_STATE_TTL", raw)
		}
		requestStateTTL = parsed
	}

	otelEnabled := false
	if raw := os.Getenv("OTEL_ENABLED"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return invalidValue("OTEL_ENABLED", raw)
		}
		otelEnabled = parsed
	}

	var allowedOriginSuffixes []string
	if raw := os.Getenv("ALLOWED_ORIGIN_SUFFIXES"); raw != "" {
		for _, suffix := range strings.Split(raw, ",") {
			suffix = strings.TrimSpace(suffix)
			if suffix == "" {
				return invalidValue("ALLOWED_ORIGIN_SUFFIXES", raw)
			}
			allowedOriginSuffixes = append(allowedOriginSuffixes, suffix)
		}
	}

	return Config{
		port:                port,
		sentryDSN:           sentryDSN,
		upstreamURL:         upstreamURL,
		execution:           execution,
		queryConcurrency:    queryConcurrency,
		mutationConcurrency: mutationConcurrency,
		upstreamWindowLimit: upstreamWindowLimit,
		upstreamWindow:      upstreamWindow,
		requestStateTTL:     requestStateTTL,
		otelEnabled:         otelEnabled,

		allowedOriginSuffixes: allowedOriginSuffixes,

		env: env,
	}, nil
}
