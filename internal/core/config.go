package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the user configuration, read from clan_stats_config.yaml and
// CLAN_STATS_* environment variables.
type Config struct {
	BungieAPIKey       string      `mapstructure:"bungie_api_key"`
	DefaultPlayerID    string      `mapstructure:"default_player_id"`
	DefaultClanID      int64       `mapstructure:"default_clan_id"`
	DiscordMappingFile string      `mapstructure:"discord_mapping_file"`
	RosterDir          string      `mapstructure:"roster_dir"`
	MetricsFile        string      `mapstructure:"metrics_file"`
	LogFile            string      `mapstructure:"log_file"`
	Timezone           string      `mapstructure:"timezone"`
	Cache              CacheConfig `mapstructure:"cache"`

	// Path is the config file that was read, if any.
	Path string `mapstructure:"-"`
}

// CacheConfig selects the cache backend and its lifetimes.
type CacheConfig struct {
	Backend           string        `mapstructure:"backend"`
	Dir               string        `mapstructure:"dir"`
	PlayerLifetime    time.Duration `mapstructure:"player_lifetime"`
	ActivityStaleness time.Duration `mapstructure:"activity_staleness"`
	ForbiddenBackoff  time.Duration `mapstructure:"forbidden_backoff"`
	Valkey            ValkeyConfig  `mapstructure:"valkey"`
}

// ValkeyConfig holds valkey connection settings.
type ValkeyConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bungie_api_key", "")
	v.SetDefault("default_player_id", "")
	v.SetDefault("default_clan_id", 0)
	v.SetDefault("discord_mapping_file", DefaultDiscordMapping)
	v.SetDefault("roster_dir", ".")
	v.SetDefault("metrics_file", "")
	v.SetDefault("log_file", "")
	v.SetDefault("timezone", DefaultTZ)
	v.SetDefault("cache.backend", CacheBackendFilesystem)
	v.SetDefault("cache.dir", CacheRoot())
	v.SetDefault("cache.player_lifetime", PlayerCacheLifetime)
	v.SetDefault("cache.activity_staleness", ActivityStaleness)
	v.SetDefault("cache.forbidden_backoff", ForbiddenBackoff)
	v.SetDefault("cache.valkey.address", "")
	v.SetDefault("cache.valkey.password", "")
	v.SetDefault("cache.valkey.db", 0)
	v.SetDefault("cache.valkey.prefix", "clanstats")
}

// LoadConfig reads configuration from path, or from the nearest
// clan_stats_config.yaml in the working directory or its parents when path
// is empty. A .env file in the working directory is loaded first. Missing
// config files are not an error; defaults and environment apply.
func LoadConfig(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = FindConfigFile(wd)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = path

	// Relative paths in a config file are relative to that file.
	if path != "" {
		base := filepath.Dir(path)
		cfg.DiscordMappingFile = resolvePath(base, cfg.DiscordMappingFile)
		cfg.RosterDir = resolvePath(base, cfg.RosterDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindConfigFile returns the first clan_stats_config.yaml found in dir or
// any of its parents, or "" if there is none.
func FindConfigFile(dir string) string {
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate checks the settings that do not depend on the command being run.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DefaultClanID, validation.Min(int64(0))),
		validation.Field(&c.Cache),
	)
}

// Validate checks backend selection and lifetimes.
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(
			CacheBackendMemory, CacheBackendFilesystem, CacheBackendSQLite, CacheBackendValkey,
		)),
		validation.Field(&c.PlayerLifetime, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.ActivityStaleness, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.ForbiddenBackoff, validation.Min(time.Duration(0))),
		validation.Field(&c.Valkey, validation.When(c.Backend == CacheBackendValkey, validation.By(requireValkeyAddress))),
	)
}

func requireValkeyAddress(value interface{}) error {
	if vc, _ := value.(ValkeyConfig); vc.Address == "" {
		return errors.New("address is required for the valkey backend")
	}
	return nil
}

// ErrMissingAPIKey is returned when a command needs the upstream API but no
// key is configured.
var ErrMissingAPIKey = errors.New("missing Bungie API key: set bungie_api_key in " + ConfigFileName + " or " + APIKeyEnvVar)

// RequireAPIKey returns the configured API key or ErrMissingAPIKey.
func (c Config) RequireAPIKey() (string, error) {
	if c.BungieAPIKey == "" {
		return "", ErrMissingAPIKey
	}
	return c.BungieAPIKey, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
