package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config is the application configuration.
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Feed   FeedConfig   `mapstructure:"feed"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

func (c *AppConfig) IsProduction() bool { return c.Env == "production" }

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWT struct {
		Secret   string        `mapstructure:"secret"`
		Issuer   string        `mapstructure:"issuer"`
		Duration time.Duration `mapstructure:"duration"`
	} `mapstructure:"jwt"`
	RolesFile   string   `mapstructure:"roles_file"`
	StaticUsers []string `mapstructure:"static_users"` // login:password:role
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type FeedConfig struct {
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	MetricsInterval      time.Duration `mapstructure:"metrics_interval"`
	NotificationInterval time.Duration `mapstructure:"notification_interval"`
	ShipmentInterval     time.Duration `mapstructure:"shipment_interval"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	RingCapacity         int           `mapstructure:"ring_capacity"`
	SimSeed              int64         `mapstructure:"sim_seed"`
	Backoff              struct {
		Base        time.Duration `mapstructure:"base"`
		Cap         time.Duration `mapstructure:"cap"`
		Factor      float64       `mapstructure:"factor"`
		MaxAttempts int           `mapstructure:"max_attempts"`
	} `mapstructure:"backoff"`
}

// Load reads the YAML config once and keeps it hot-reloading on file
// changes. Environment variables prefixed RAPHTRACK_ override file values.
func Load(configFile string) error {
	var err error
	once.Do(func() {
		v := viper.New()
		v.SetConfigType("yaml")
		v.SetConfigFile(configFile)

		setDefaults(v)

		v.SetEnvPrefix("RAPHTRACK")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if readErr := v.ReadInConfig(); readErr != nil {
			// Missing file is fine: defaults + env carry a dev setup.
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("config: read %s: %w", configFile, readErr)
				return
			}
		}

		next := &Config{}
		if err = v.Unmarshal(next); err != nil {
			err = fmt.Errorf("config: unmarshal: %w", err)
			return
		}
		cfg = next

		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			reloaded := &Config{}
			if reloadErr := v.Unmarshal(reloaded); reloadErr != nil {
				fmt.Printf("config: reload of %s failed: %v\n", e.Name, reloadErr)
				return
			}
			mu.Lock()
			cfg = reloaded
			mu.Unlock()
		})
	})
	return err
}

// Get returns the current configuration, nil before Load.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "raphtrack")
	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.jwt.issuer", "raphtrack")
	v.SetDefault("auth.jwt.duration", "24h")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("feed.heartbeat_interval", "10s")
	v.SetDefault("feed.metrics_interval", "5s")
	v.SetDefault("feed.notification_interval", "8s")
	v.SetDefault("feed.shipment_interval", "6s")
	v.SetDefault("feed.handshake_timeout", "5s")
	v.SetDefault("feed.ring_capacity", 50)
	v.SetDefault("feed.backoff.base", "1s")
	v.SetDefault("feed.backoff.cap", "30s")
	v.SetDefault("feed.backoff.factor", 2)
	v.SetDefault("feed.backoff.max_attempts", 5)
}

// ParseFile loads a fresh Config from one file without touching the
// process-wide state. Used by tests and tooling.
func ParseFile(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}
	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}
