package config

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for claims server configuration
const (
	EnvClaimsPort       = "CLAIMS_PORT"
	EnvClaimsDebug      = "CLAIMS_DEBUG"
	EnvClaimsAdminToken = "CLAIMS_ADMIN_TOKEN"

	EnvClaimsPersistenceType = "CLAIMS_PERSISTENCE_TYPE"
	EnvClaimsDataPath        = "CLAIMS_DATA_PATH"
	EnvClaimsRedisAddress    = "CLAIMS_REDIS_ADDRESS"
	EnvClaimsRedisPassword   = "CLAIMS_REDIS_PASSWORD"
	EnvClaimsRedisDB         = "CLAIMS_REDIS_DB"
	EnvClaimsRedisKeyPrefix  = "CLAIMS_REDIS_KEY_PREFIX"

	EnvClaimsCacheType    = "CLAIMS_CACHE_TYPE"
	EnvClaimsCacheTTL     = "CLAIMS_CACHE_TTL"
	EnvClaimsCacheMaxSize = "CLAIMS_CACHE_MAX_SIZE"

	EnvClaimsRateLimitRPS   = "CLAIMS_RATE_LIMIT_RPS"
	EnvClaimsRateLimitBurst = "CLAIMS_RATE_LIMIT_BURST"

	// Used by the admin CLI to reach a running server instead of opening the store
	EnvClaimsServerURL = "CLAIMS_SERVER_URL"
)

// Defaults applied by the CLIs
const (
	DefaultPort           = 8080
	DefaultDataPath       = "./data/claims"
	DefaultCacheTTL       = 10 * time.Minute
	DefaultCacheMaxSize   = 100_000
	DefaultRateLimitRPS   = 20
	DefaultRateLimitBurst = 40
)

type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceTypeMemory PersistenceType = "memory" // testing only
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

type CacheType string

func (c CacheType) String() string {
	return string(c)
}

const (
	CacheTypeNone   CacheType = "none"
	CacheTypeMemory CacheType = "memory"
	CacheTypeRedis  CacheType = "redis"
)

// RedisConnectionConfig describes one Redis endpoint
type RedisConnectionConfig struct {
	Address   string `json:"address"`
	Password  string `json:"-"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

func (r *RedisConnectionConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	if r.Address == "" {
		allErrors = append(allErrors, field.Required(path.Child("address"), "redis address is required"))
	}
	if r.DB < 0 || r.DB > 15 {
		allErrors = append(allErrors, field.Invalid(path.Child("db"), r.DB, "must be between 0-15"))
	}
	return allErrors
}

// PersistenceConfig selects and configures the allocation tree store
type PersistenceConfig struct {
	Type     PersistenceType       `json:"type"`
	DataPath string                `json:"data_path"` // badger only
	Redis    RedisConnectionConfig `json:"redis"`     // redis only
}

func (p *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch p.Type {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger:
		if p.DataPath == "" {
			allErrors = append(allErrors, field.Required(path.Child("data_path"), "data path is required for badger persistence"))
		}
	case PersistenceTypeRedis:
		allErrors = append(allErrors, p.Redis.validate(path.Child("redis"))...)
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), p.Type,
			[]string{PersistenceTypeMemory.String(), PersistenceTypeBadger.String(), PersistenceTypeRedis.String()}))
	}
	return allErrors
}

// Validate validates the persistence configuration
func (p *PersistenceConfig) Validate() error {
	return p.validate(field.NewPath("persistence")).ToAggregate()
}

// CacheConfig configures the per-wallet proof cache
type CacheConfig struct {
	Type    CacheType             `json:"type"`
	TTL     time.Duration         `json:"ttl"`
	MaxSize int                   `json:"max_size"` // memory only, 0 means unbounded
	Redis   RedisConnectionConfig `json:"redis"`    // redis only
}

func (c *CacheConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch c.Type {
	case CacheTypeNone:
		return nil
	case CacheTypeMemory:
		if c.MaxSize < 0 {
			allErrors = append(allErrors, field.Invalid(path.Child("max_size"), c.MaxSize, "must not be negative"))
		}
	case CacheTypeRedis:
		allErrors = append(allErrors, c.Redis.validate(path.Child("redis"))...)
	default:
		return append(allErrors, field.NotSupported(path.Child("type"), c.Type,
			[]string{CacheTypeNone.String(), CacheTypeMemory.String(), CacheTypeRedis.String()}))
	}
	if c.TTL <= 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("ttl"), c.TTL.String(), "must be positive"))
	}
	return allErrors
}

// Validate validates the cache configuration
func (c *CacheConfig) Validate() error {
	return c.validate(field.NewPath("cache")).ToAggregate()
}

// RateLimitConfig configures the per-client token bucket of the claim API.
// RequestsPerSecond of 0 disables rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// Enabled reports whether requests should be rate limited
func (r *RateLimitConfig) Enabled() bool {
	return r.RequestsPerSecond > 0
}

func (r *RateLimitConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	if r.RequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("requests_per_second"), r.RequestsPerSecond, "must not be negative"))
	}
	if r.Enabled() && r.Burst < 1 {
		allErrors = append(allErrors, field.Invalid(path.Child("burst"), r.Burst, "must be at least 1 when rate limiting is enabled"))
	}
	return allErrors
}

// ClaimsServerConfig represents the complete configuration for a claims server
type ClaimsServerConfig struct {
	Port  int  `json:"port"`
	Debug bool `json:"debug"`

	// AdminToken guards tree creation and activation. Empty disables the admin routes.
	AdminToken string `json:"-"`

	Persistence PersistenceConfig `json:"persistence"`
	Cache       CacheConfig       `json:"cache"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
}

// Validate validates the claims server configuration
func (c *ClaimsServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "port must be between 1-65535"))
	}

	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)
	allErrors = append(allErrors, c.Cache.validate(field.NewPath("cache"))...)
	allErrors = append(allErrors, c.RateLimit.validate(field.NewPath("rate_limit"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ParsePersistenceType converts a CLI value into a PersistenceType
func ParsePersistenceType(s string) (PersistenceType, error) {
	switch p := PersistenceType(s); p {
	case PersistenceTypeMemory, PersistenceTypeBadger, PersistenceTypeRedis:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported persistence type %q (supported: memory, badger, redis)", s)
	}
}

// ParseCacheType converts a CLI value into a CacheType
func ParseCacheType(s string) (CacheType, error) {
	switch c := CacheType(s); c {
	case CacheTypeNone, CacheTypeMemory, CacheTypeRedis:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported cache type %q (supported: none, memory, redis)", s)
	}
}
