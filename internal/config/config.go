package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TopicConfig is a topic declared or overridden in the config file.
type TopicConfig struct {
	Name    string   `mapstructure:"name"`
	Tables  []string `mapstructure:"tables"`
	Events  []string `mapstructure:"events"`
	Keys    []string `mapstructure:"keys"`
	Disable bool     `mapstructure:"disable"`
}

type Config struct {
	DB struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"db"`

	API struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"api"`

	Realtime struct {
		Debounce       time.Duration `mapstructure:"debounce"`
		ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
		ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	} `mapstructure:"realtime"`

	Cache struct {
		TTL             time.Duration `mapstructure:"ttl"`
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"cache"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
		TokenFile string `mapstructure:"token_file"`
	} `mapstructure:"auth"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Client struct {
		Remote string `mapstructure:"remote"`
	} `mapstructure:"client"`

	Topics []TopicConfig `mapstructure:"topics"`
}

// Load reads the daemon config. db.dsn is required.
func Load(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	if c.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required (set TAILORBOARD_DB_DSN or config file)")
	}
	return c, nil
}

// LoadClient reads the config for the CLI, which may run without a database.
func LoadClient(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("api.listen", "127.0.0.1:8080")
	v.SetDefault("realtime.debounce", "1s")
	v.SetDefault("realtime.reconnect_delay", "2s")
	v.SetDefault("realtime.probe_interval", "5s")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.cleanup_interval", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("client.remote", "http://127.0.0.1:8080")

	// Env overrides
	v.SetEnvPrefix("TAILORBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"db.dsn", "auth.jwt_secret", "auth.token_file"} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Realtime.Debounce <= 0 {
		return nil, fmt.Errorf("realtime.debounce must be positive, got %s", c.Realtime.Debounce)
	}
	if c.Realtime.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("realtime.reconnect_delay must be positive, got %s", c.Realtime.ReconnectDelay)
	}
	for i, t := range c.Topics {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("topics[%d]: name is required", i)
		}
	}
	return &c, nil
}
