package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration knobs for the backend and the watch client.
type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	Storage struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`
	Push struct {
		VAPIDPublicKey  string        `mapstructure:"vapid_public_key"`
		VAPIDPrivateKey string        `mapstructure:"vapid_private_key"`
		Subscriber      string        `mapstructure:"subscriber"`
		TTL             int           `mapstructure:"ttl"`
		Urgency         string        `mapstructure:"urgency"`
		RequestTimeout  time.Duration `mapstructure:"request_timeout"`
		Concurrency     int           `mapstructure:"concurrency"`
		DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
		Icon            string        `mapstructure:"icon"`
		Badge           string        `mapstructure:"badge"`
	} `mapstructure:"push"`
	Auth struct {
		Enabled   bool          `mapstructure:"enabled"`
		Username  string        `mapstructure:"username"`
		Password  string        `mapstructure:"password"`
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`
	Client struct {
		BaseURL        string        `mapstructure:"base_url"`
		PollInterval   time.Duration `mapstructure:"poll_interval"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
		StudentID      string        `mapstructure:"student_id"`
	} `mapstructure:"client"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// Load reads the configuration from disk/environment using Viper.
// Environment variables use the BUSRESERVE_ prefix, e.g. BUSRESERVE_PUSH_VAPID_PUBLIC_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("busreserve")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine, env + defaults are enough to boot
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Push.Concurrency <= 0 {
		return fmt.Errorf("push.concurrency must be positive, got %d", c.Push.Concurrency)
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("client.poll_interval must be positive, got %s", c.Client.PollInterval)
	}
	return nil
}

// SetConfigFile makes viper report a missing file as a plain fs error rather
// than ConfigFileNotFoundError.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("storage.path", "./data/busreserve.db")

	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.subscriber", "mailto:admin@schoolbus.example")
	v.SetDefault("push.ttl", 86400)
	v.SetDefault("push.urgency", "high")
	v.SetDefault("push.request_timeout", "10s")
	v.SetDefault("push.concurrency", 16)
	v.SetDefault("push.dispatch_timeout", "20s")
	v.SetDefault("push.icon", "/icon-192.png")
	v.SetDefault("push.badge", "/badge-72.png")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "admin123")
	v.SetDefault("auth.jwt_secret", "change-me-secret")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("client.base_url", "http://127.0.0.1:8000")
	v.SetDefault("client.poll_interval", "30s")
	v.SetDefault("client.request_timeout", "5s")
	v.SetDefault("client.student_id", "")

	v.SetDefault("metrics.enabled", true)
}
