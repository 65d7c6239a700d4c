// Package config loads settings from config.yml and KOB_ environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// CheckInterval is in minutes; 0 disables scheduled checks.
	CheckInterval int `mapstructure:"check_interval"`
	Workers       int `mapstructure:"workers"`
	Database      struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Paths struct {
		Plugins string `mapstructure:"plugins"`
		Themes  string `mapstructure:"themes"`
		Temp    string `mapstructure:"temp"`
	} `mapstructure:"paths"`
	GitHub struct {
		APIURL    string        `mapstructure:"api_url"`
		Token     string        `mapstructure:"token"`
		UserAgent string        `mapstructure:"user_agent"`
		CacheTTL  time.Duration `mapstructure:"cache_ttl"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"github"`
	Download struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"download"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Addr is the listen address of the API server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
	}

	// KOB_GITHUB_TOKEN overrides github.token, and so on.
	v.SetEnvPrefix("KOB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("check_interval", 720)
	v.SetDefault("workers", 4)
	v.SetDefault("database.path", "./kob-updater.db")
	v.SetDefault("paths.plugins", "./wp-content/plugins")
	v.SetDefault("paths.themes", "./wp-content/themes")
	v.SetDefault("paths.temp", "")
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.token", "")
	v.SetDefault("github.user_agent", "")
	v.SetDefault("github.cache_ttl", time.Hour)
	v.SetDefault("github.timeout", 15*time.Second)
	v.SetDefault("download.timeout", 300*time.Second)
	v.SetDefault("log.level", "info")
	return v
}

func read(v *viper.Viper, requireFile bool) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if requireFile || !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads configuration from a file named "config.yml" in the
// current directory. A missing file is not an error.
func Load() (*Config, error) {
	return read(newViper(""), false)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	return read(newViper(path), true)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.CheckInterval < 0 {
		errs = append(errs, errors.New("check_interval must not be negative"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Paths.Plugins == "" || c.Paths.Themes == "" {
		errs = append(errs, errors.New("paths.plugins and paths.themes are required"))
	}
	if c.GitHub.APIURL == "" {
		errs = append(errs, errors.New("github.api_url is required"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Watch loads configuration like Load (or LoadFile when path is set) and
// then calls onChange with the reloaded settings every time the file
// changes. Invalid edits are logged and ignored.
func Watch(path string, onChange func(*Config)) (*Config, error) {
	v := newViper(path)
	cfg, err := read(v, path != "")
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	logger := log.WithPrefix("config")
	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			logger.Warn("ignoring invalid configuration change", "file", e.Name, "err", err)
			return
		}
		logger.Info("configuration reloaded", "file", e.Name, "op", e.Op.String())
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}
