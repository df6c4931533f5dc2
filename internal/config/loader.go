package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is the diagnostic error returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DATABASE_URL_SSM_PARAM=/prod/payments/db-url resolves into DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

// legacyAliases maps variable names used by earlier deployments of the service
// to their current names. The legacy name is only consulted when the current
// one is unset.
var legacyAliases = map[string]string{
	"DATABASE_URL":  "MONGO_CONNECTION_STRING",
	"DATABASE_NAME": "MONGO_DATABASE_NAME",
}

type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
	dotenv    func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		dotenv:    func() error { return godotenv.Load() },
	}
}

// LoadConfig loads, resolves and validates the configuration:
//  1. Pin the process timezone to UTC.
//  2. Load .env if present (never overrides the real environment).
//  3. Outside APP_ENV=local, resolve *_SSM_PARAM pointers via provider.
//  4. Apply legacy variable aliases.
//  5. Populate Config from envconfig tags and attach build info.
//  6. Run struct validation and the cross-field rules.
//
// provider may be nil when no *_SSM_PARAM variables are set.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	if deps.dotenv != nil {
		_ = deps.dotenv()
	}

	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv != "" && appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	if err := applyLegacyAliases(deps); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	cfg.Build = NewBuildInfo()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs the struct tags and the rules that span several fields.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	// A lease shorter than one transfer call would let a second tick reclaim
	// a payment whose first attempt is still in flight.
	if cfg.Scheduler.ExecutionLease <= cfg.Transfer.Timeout {
		return &ConfigError{
			Type: ErrValidation,
			Message: fmt.Sprintf("SCHEDULER_EXECUTION_LEASE (%s) must exceed TRANSFER_TIMEOUT (%s)",
				cfg.Scheduler.ExecutionLease, cfg.Transfer.Timeout),
		}
	}
	if cfg.Database.MinConns > cfg.Database.MaxConns {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "DB_MIN_CONNS must not exceed DB_MAX_CONNS",
		}
	}
	if cfg.Database.Driver == DriverPostgres {
		if _, err := url.Parse(cfg.Database.URL.Unmask()); err != nil {
			// The parse error embeds the raw URL; do not leak it.
			return &ConfigError{Type: ErrValidation, Message: "DATABASE_URL is not a valid URL"}
		}
	}
	return nil
}

// ResolveSecrets runs only the SSM step. Entry points that read a handful of
// variables directly call it before touching the environment.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == "" || appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, defaultDeps())
}

func applyLegacyAliases(deps loaderDeps) error {
	for current, legacy := range legacyAliases {
		if v, ok := deps.lookupEnv(current); ok && v != "" {
			continue
		}
		val, ok := deps.lookupEnv(legacy)
		if !ok || val == "" {
			continue
		}
		if err := deps.setEnv(current, val); err != nil {
			return &ConfigError{
				Type:    ErrParsing,
				Message: fmt.Sprintf("failed to apply %s as %s", legacy, current),
				Err:     err,
			}
		}
	}
	return nil
}

// resolveSSMParams fetches every X_SSM_PARAM pointer whose target X is not
// already set and exports the plaintext as X. Direct environment values win.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	targets := make(map[string]string) // ssm path -> env var
	var paths []string

	for _, entry := range deps.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := deps.lookupEnv(target); set {
			continue
		}
		if _, dup := targets[path]; !dup {
			paths = append(paths, path)
		}
		targets[path] = target
	}

	if len(paths) == 0 {
		return nil
	}
	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("a SecretProvider is required to resolve %d SSM parameters", len(paths)),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		target := targets[path]
		val, ok := resolved[path]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, val); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
