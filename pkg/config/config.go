package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for release server configuration
const (
	EnvReleaseOperatorAddress   = "RELEASE_OPERATOR_ADDRESS"
	EnvReleasePort              = "RELEASE_PORT"
	EnvReleaseConfigFile        = "RELEASE_CONFIG_FILE"
	EnvReleaseInstantMultiplier = "RELEASE_INSTANT_MULTIPLIER"
	EnvReleaseVestedMultiplier  = "RELEASE_VESTED_MULTIPLIER"
	EnvReleaseVestingDelay      = "RELEASE_VESTING_DELAY"
	EnvReleaseRateLimit         = "RELEASE_RATE_LIMIT"
	EnvReleaseRateBurst         = "RELEASE_RATE_BURST"
	EnvReleaseAllowedOrigins    = "RELEASE_ALLOWED_ORIGINS"
	EnvReleaseAdminMessageTTL   = "RELEASE_ADMIN_MESSAGE_TTL"
	EnvReleaseDebug             = "RELEASE_DEBUG"

	EnvReleasePersistenceType = "RELEASE_PERSISTENCE_TYPE"
	EnvReleaseDataPath        = "RELEASE_DATA_PATH"
	EnvReleaseRedisAddress    = "RELEASE_REDIS_ADDRESS"
	EnvReleaseRedisPassword   = "RELEASE_REDIS_PASSWORD"
	EnvReleaseRedisDB         = "RELEASE_REDIS_DB"
	EnvReleaseRedisKeyPrefix  = "RELEASE_REDIS_KEY_PREFIX"
)

const (
	DefaultPort            = 8080
	DefaultRateLimit       = 5.0
	DefaultRateBurst       = 10
	DefaultAdminMessageTTL = 10 * time.Minute
	DefaultDataPath        = "./release-data"
)

// PersistenceType selects the ledger store backend.
type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceTypeMemory PersistenceType = "memory"
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

// PersistenceConfig configures the ledger store.
type PersistenceConfig struct {
	Type PersistenceType `json:"type" yaml:"type" toml:"type"`

	// Badger
	DataPath string `json:"dataPath" yaml:"dataPath" toml:"dataPath"`

	// Redis
	RedisAddress   string `json:"redisAddress" yaml:"redisAddress" toml:"redisAddress"`
	RedisPassword  string `json:"-" yaml:"-" toml:"redisPassword"`
	RedisDB        int    `json:"redisDB" yaml:"redisDB" toml:"redisDB"`
	RedisKeyPrefix string `json:"redisKeyPrefix" yaml:"redisKeyPrefix" toml:"redisKeyPrefix"`
}

// Validate checks the fields the selected backend needs.
func (pc *PersistenceConfig) Validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch pc.Type {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger:
		if pc.DataPath == "" {
			allErrors = append(allErrors, field.Required(path.Child("dataPath"), "dataPath is required for badger persistence"))
		}
	case PersistenceTypeRedis:
		if pc.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "redisAddress is required for redis persistence"))
		}
		if pc.RedisDB < 0 || pc.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redisDB"), pc.RedisDB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), pc.Type,
			[]string{PersistenceTypeMemory.String(), PersistenceTypeBadger.String(), PersistenceTypeRedis.String()}))
	}
	return allErrors
}

// ReleaseServerConfig represents the complete configuration for a release server
type ReleaseServerConfig struct {
	// Privileged operator allowed to rotate roots and add funds
	OperatorAddress string `json:"operatorAddress" yaml:"operatorAddress" toml:"operatorAddress"`
	Port            int    `json:"port" yaml:"port" toml:"port"`

	// Payout policy
	InstantMultiplier uint64   `json:"instantMultiplier" yaml:"instantMultiplier" toml:"instantMultiplier"`
	VestedMultiplier  uint64   `json:"vestedMultiplier" yaml:"vestedMultiplier" toml:"vestedMultiplier"`
	VestingDelay      Duration `json:"vestingDelay" yaml:"vestingDelay" toml:"vestingDelay"`

	// Release endpoint rate limit per remote IP, in requests per second
	RateLimit float64 `json:"rateLimit" yaml:"rateLimit" toml:"rateLimit"`
	RateBurst int     `json:"rateBurst" yaml:"rateBurst" toml:"rateBurst"`

	AllowedOrigins  []string `json:"allowedOrigins" yaml:"allowedOrigins" toml:"allowedOrigins"`
	AdminMessageTTL Duration `json:"adminMessageTTL" yaml:"adminMessageTTL" toml:"adminMessageTTL"`

	Persistence PersistenceConfig `json:"persistence" yaml:"persistence" toml:"persistence"`

	Debug bool `json:"debug" yaml:"debug" toml:"debug"`
}

// Validate validates the release server configuration
func (c *ReleaseServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.OperatorAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("operatorAddress"), "operatorAddress is required"))
	} else if !common.IsHexAddress(c.OperatorAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("operatorAddress"), c.OperatorAddress, "invalid address format"))
	} else if common.HexToAddress(c.OperatorAddress) == (common.Address{}) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("operatorAddress"), c.OperatorAddress, "cannot be the zero address"))
	}

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}
	if c.InstantMultiplier == 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("instantMultiplier"), c.InstantMultiplier, "must be greater than zero"))
	}
	if c.VestedMultiplier == 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("vestedMultiplier"), c.VestedMultiplier, "must be greater than zero"))
	}
	if c.VestingDelay.Duration < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("vestingDelay"), c.VestingDelay.String(), "cannot be negative"))
	}
	if c.RateLimit <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "must be greater than zero"))
	}
	if c.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.RateBurst, "must be at least 1"))
	}
	if c.AdminMessageTTL.Duration <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("adminMessageTTL"), c.AdminMessageTTL.String(), "must be greater than zero"))
	}

	allErrors = append(allErrors, c.Persistence.Validate(field.NewPath("persistence"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// Operator returns the parsed operator address. Call after Validate.
func (c *ReleaseServerConfig) Operator() common.Address {
	return common.HexToAddress(c.OperatorAddress)
}

// NewDefaultReleaseServerConfig returns a config with every optional field
// set to its default. OperatorAddress must still be provided.
func NewDefaultReleaseServerConfig() *ReleaseServerConfig {
	return &ReleaseServerConfig{
		Port:              DefaultPort,
		InstantMultiplier: 5,
		VestedMultiplier:  10,
		VestingDelay:      Duration{90 * 24 * time.Hour},
		RateLimit:         DefaultRateLimit,
		RateBurst:         DefaultRateBurst,
		AdminMessageTTL:   Duration{DefaultAdminMessageTTL},
		Persistence: PersistenceConfig{
			Type:     PersistenceTypeBadger,
			DataPath: DefaultDataPath,
		},
	}
}

// LoadFile decodes a TOML config file over the defaults.
func LoadFile(path string) (*ReleaseServerConfig, error) {
	cfg := NewDefaultReleaseServerConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
	}
	return cfg, nil
}

// Duration is a time.Duration that reads and writes strings like "2160h".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
