// Package config resolves the gateway's runtime options from an environment
// snapshot. Resolution is pure: the same input map always yields the same
// Config, and malformed values fall back to defaults instead of failing.
package config

import (
	"os"
	"strings"
	"time"
)

// Environment keys recognized by Resolve.
const (
	KeySchemaExcludeImports      = "SCHEMA_EXCLUDE_IMPORTS"
	KeySchemaExcludeServerParams = "SCHEMA_EXCLUDE_SERVER_PARAMS"
	KeySchemaAddMetadata         = "SCHEMA_ADD_METADATA"
	KeyFilterIncludeNamespaces   = "FILTER_INCLUDE_NAMESPACES"
	KeyFilterExcludeNamespaces   = "FILTER_EXCLUDE_NAMESPACES"
	KeyFilterActivateTags        = "FILTER_ACTIVATE_TAGS"
	KeyRoutePath                 = "ROUTE_PATH"

	KeyAddr            = "ADDR"
	KeyMetricsAddr     = "METRICS_ADDR"
	KeyIssuer          = "ISSUER"
	KeyJWTSecret       = "JWT_SECRET"
	KeyAccessTokenTTL  = "ACCESS_TOKEN_TTL"
	KeyRefreshTokenTTL = "REFRESH_TOKEN_TTL"
	KeyAuthCodeTTL     = "AUTH_CODE_TTL"
	KeyAuthUsersFile   = "AUTH_USERS_FILE"
	KeyRedisURL        = "REDIS_URL"
	KeySchemaDir       = "SCHEMA_DIR"
	KeySchemaCacheTTL  = "SCHEMA_CACHE_TTL"
	KeyCFAccountID     = "CF_ACCOUNT_ID"
	KeyCFAPIToken      = "CF_API_TOKEN"
	KeyAIBaseURL       = "AI_BASE_URL"
	KeyImageModel      = "IMAGE_MODEL"
	KeyLogLevel        = "LOG_LEVEL"
	KeyLogFormat       = "LOG_FORMAT"

	// ServerParamPrefix marks keys whose remainder names a schema server param.
	ServerParamPrefix = "SERVER_PARAM_"
)

// Defaults for options that are not plain booleans or lists.
const (
	DefaultRoutePath       = "/mcp"
	DefaultAddr            = ":8787"
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultAuthCodeTTL     = 10 * time.Minute
	DefaultSchemaCacheTTL  = 5 * time.Minute
	DefaultAIBaseURL       = "https://api.cloudflare.com/client/v4"
	DefaultImageModel      = "@cf/black-forest-labs/flux-1-schnell"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// SchemaOptions controls schema discovery.
type SchemaOptions struct {
	ExcludeImports      bool
	ExcludeServerParams bool
	AddMetadata         bool
}

// FilterOptions selects which discovered schemas are exposed.
// Empty lists impose no restriction.
type FilterOptions struct {
	IncludeNamespaces []string
	ExcludeNamespaces []string
	ActivateTags      []string
}

// AuthOptions configures the OAuth provider.
type AuthOptions struct {
	Issuer          string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	UsersFile       string
	RedisURL        string
}

// AIOptions configures the image inference backend.
type AIOptions struct {
	BaseURL    string
	AccountID  string
	APIToken   string
	ImageModel string
}

// LogOptions configures the process logger.
type LogOptions struct {
	Level  string
	Format string
}

// Config is an immutable snapshot of the gateway's runtime options.
type Config struct {
	Schema    SchemaOptions
	Filter    FilterOptions
	RoutePath string

	Addr           string
	MetricsAddr    string
	SchemaDir      string
	SchemaCacheTTL time.Duration
	ServerParams   map[string]string

	Auth AuthOptions
	AI   AIOptions
	Log  LogOptions
}

// Resolve derives a Config from env. It never fails.
func Resolve(env map[string]string) Config {
	return Config{
		Schema: SchemaOptions{
			ExcludeImports:      boolOr(env, KeySchemaExcludeImports, true),
			ExcludeServerParams: boolOr(env, KeySchemaExcludeServerParams, true),
			AddMetadata:         boolOr(env, KeySchemaAddMetadata, false),
		},
		Filter: FilterOptions{
			IncludeNamespaces: listOf(env, KeyFilterIncludeNamespaces),
			ExcludeNamespaces: listOf(env, KeyFilterExcludeNamespaces),
			ActivateTags:      listOf(env, KeyFilterActivateTags),
		},
		RoutePath: stringOr(env, KeyRoutePath, DefaultRoutePath),

		Addr:           stringOr(env, KeyAddr, DefaultAddr),
		MetricsAddr:    env[KeyMetricsAddr],
		SchemaDir:      env[KeySchemaDir],
		SchemaCacheTTL: durationOr(env, KeySchemaCacheTTL, DefaultSchemaCacheTTL),
		ServerParams:   serverParams(env),

		Auth: AuthOptions{
			Issuer:          strings.TrimRight(env[KeyIssuer], "/"),
			JWTSecret:       env[KeyJWTSecret],
			AccessTokenTTL:  durationOr(env, KeyAccessTokenTTL, DefaultAccessTokenTTL),
			RefreshTokenTTL: durationOr(env, KeyRefreshTokenTTL, DefaultRefreshTokenTTL),
			AuthCodeTTL:     durationOr(env, KeyAuthCodeTTL, DefaultAuthCodeTTL),
			UsersFile:       env[KeyAuthUsersFile],
			RedisURL:        env[KeyRedisURL],
		},
		AI: AIOptions{
			BaseURL:    strings.TrimRight(stringOr(env, KeyAIBaseURL, DefaultAIBaseURL), "/"),
			AccountID:  env[KeyCFAccountID],
			APIToken:   env[KeyCFAPIToken],
			ImageModel: stringOr(env, KeyImageModel, DefaultImageModel),
		},
		Log: LogOptions{
			Level:  stringOr(env, KeyLogLevel, DefaultLogLevel),
			Format: stringOr(env, KeyLogFormat, DefaultLogFormat),
		},
	}
}

// Environ snapshots the process environment into a map suitable for Resolve.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env
}

// boolOr mirrors `(env.X || "<def>") === "true"`: an absent or empty value
// takes the default, anything other than the literal "true" is false.
func boolOr(env map[string]string, key string, def bool) bool {
	v, ok := env[key]
	if !ok || v == "" {
		return def
	}
	return v == "true"
}

func stringOr(env map[string]string, key, def string) string {
	if v := env[key]; v != "" {
		return v
	}
	return def
}

func listOf(env map[string]string, key string) []string {
	raw := env[key]
	if raw == "" {
		return []string{}
	}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationOr(env map[string]string, key string, def time.Duration) time.Duration {
	raw := env[key]
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func serverParams(env map[string]string) map[string]string {
	params := make(map[string]string)
	for k, v := range env {
		name, ok := strings.CutPrefix(k, ServerParamPrefix)
		if !ok || name == "" {
			continue
		}
		params[name] = v
	}
	return params
}
