package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`
}

type BrowserConfig struct {
	ExecutablePath string `mapstructure:"executablePath"`
	Headless       bool   `mapstructure:"headless"`
	UserDataDir    string `mapstructure:"userDataDir"`
	UserAgent      string `mapstructure:"userAgent"`
	WindowWidth    int    `mapstructure:"windowWidth"`
	WindowHeight   int    `mapstructure:"windowHeight"`
}

type PoolConfig struct {
	MaxSessions   int           `mapstructure:"maxSessions"`
	LeaseTimeout  time.Duration `mapstructure:"leaseTimeout"`
	IdleTTL       time.Duration `mapstructure:"idleTTL"`
	ResetCookies  bool          `mapstructure:"resetCookies"`
	DrainTimeout  time.Duration `mapstructure:"drainTimeout"`
	ProbeTimeout  time.Duration `mapstructure:"probeTimeout"`
	CreateTimeout time.Duration `mapstructure:"createTimeout"`
}

type TasksConfig struct {
	DefaultTimeout    time.Duration `mapstructure:"defaultTimeout"`
	DefaultMaxRetries int           `mapstructure:"defaultMaxRetries"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"` // debug, info, warn, error
	Development bool   `mapstructure:"development"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	APIKey         string   `mapstructure:"apiKey"`
}

// Load reads configuration from the given file (or the usual search paths
// when empty), with SUGGESTIONS_* environment variables taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "120s")
	v.SetDefault("server.idleTimeout", "60s")

	v.SetDefault("browser.executablePath", "") // auto-detect when empty
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.userDataDir", "") // empty means temporary profile
	v.SetDefault("browser.userAgent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.windowWidth", 1920)
	v.SetDefault("browser.windowHeight", 1080)

	v.SetDefault("pool.maxSessions", 4)
	v.SetDefault("pool.leaseTimeout", "30s")
	v.SetDefault("pool.idleTTL", "10m")
	v.SetDefault("pool.resetCookies", true)
	v.SetDefault("pool.drainTimeout", "30s")
	v.SetDefault("pool.probeTimeout", "3s")
	v.SetDefault("pool.createTimeout", "30s")

	v.SetDefault("tasks.defaultTimeout", "60s")
	v.SetDefault("tasks.defaultMaxRetries", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("security.allowedOrigins", []string{"*"})
	v.SetDefault("security.apiKey", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.suggestions")
		v.AddConfigPath("/etc/suggestions")
	}

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SUGGESTIONS")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
