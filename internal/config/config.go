package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "WATCHPARTY"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "watchparty.db"
	defaultLogLevel           = "info"
	defaultLogEncoding        = "json"
	defaultRoomName           = "watchparty"
	defaultRedisAddress       = "127.0.0.1:6379"
	defaultSyncPeriod         = 5 * time.Second
	defaultFreshnessWindow    = 30 * time.Second
	defaultStalenessThreshold = 15 * time.Second
	defaultOutboxSize         = 64
)

// AppConfig captures runtime configuration for a watch party peer.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	LogEncoding        string
	RoomName           string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	SyncPeriod         time.Duration
	FreshnessWindow    time.Duration
	StalenessThreshold time.Duration
	OutboxSize         int
	AllowedOrigins     []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("room.name", defaultRoomName)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("sync.period", defaultSyncPeriod)
	configViper.SetDefault("sync.freshness_window", defaultFreshnessWindow)
	configViper.SetDefault("sync.staleness_threshold", defaultStalenessThreshold)
	configViper.SetDefault("sync.outbox_size", defaultOutboxSize)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		LogEncoding:        configViper.GetString("log.encoding"),
		RoomName:           configViper.GetString("room.name"),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		SyncPeriod:         configViper.GetDuration("sync.period"),
		FreshnessWindow:    configViper.GetDuration("sync.freshness_window"),
		StalenessThreshold: configViper.GetDuration("sync.staleness_threshold"),
		OutboxSize:         configViper.GetInt("sync.outbox_size"),
		AllowedOrigins:     splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RoomName) == "" {
		return fmt.Errorf("room.name is required")
	}
	if strings.TrimSpace(c.RedisAddress) == "" {
		return fmt.Errorf("redis.address is required")
	}
	if c.SyncPeriod <= 0 {
		return fmt.Errorf("sync.period must be positive")
	}
	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("sync.freshness_window must be positive")
	}
	if c.OutboxSize <= 0 {
		return fmt.Errorf("sync.outbox_size must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogEncoding)) {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding must be json or console")
	}
	return nil
}
