package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "PARKING"
	devSignKey = "dev-signing-key"
)

// Command channel backends.
const (
	CommandBackendStore = "store"
	CommandBackendIoT   = "iot"
)

type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

type FeedConfig struct {
	Path           string
	StaleThreshold time.Duration
	Tick           time.Duration
}

type BarrierConfig struct {
	CommandPath  string
	Pulse        time.Duration
	Cooldown     time.Duration
	WriteTimeout time.Duration
}

type RemoteConfig struct {
	URL            string
	ReconnectDelay time.Duration
}

type CommandConfig struct {
	Backend        string
	IoTEndpoint    string
	IoTRegion      string
	IoTTopicPrefix string
}

type SimulatorConfig struct {
	Enabled  bool
	Spots    int
	Interval time.Duration
}

// Config is the typed view of configs/config.yml plus environment overrides.
type Config struct {
	Port              string
	LogLevel          string
	DBPath            string
	AuditWriteTimeout time.Duration

	Auth      AuthConfig
	Feed      FeedConfig
	Barrier   BarrierConfig
	Remote    RemoteConfig
	Command   CommandConfig
	Simulator SimulatorConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("db.path", "app.db")
	v.SetDefault("auth.signing_key", devSignKey)
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("feed.path", "estacionamiento")
	v.SetDefault("feed.stale_threshold", 5*time.Second)
	v.SetDefault("feed.tick", time.Second)
	v.SetDefault("barrier.command_path", "comandos/abrir_puerta")
	v.SetDefault("barrier.pulse", 2*time.Second)
	v.SetDefault("barrier.cooldown", time.Duration(0))
	v.SetDefault("barrier.write_timeout", time.Second)
	v.SetDefault("audit.write_timeout", 5*time.Second)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.reconnect_delay", 2*time.Second)
	v.SetDefault("command.backend", CommandBackendStore)
	v.SetDefault("command.iot_endpoint", "")
	v.SetDefault("command.iot_region", "us-east-1")
	v.SetDefault("command.iot_topic_prefix", "parking/")
	v.SetDefault("simulator.enabled", false)
	v.SetDefault("simulator.spots", 3)
	v.SetDefault("simulator.interval", 2*time.Second)
}

// New returns a viper instance with defaults, env overrides and the
// configs/config.yml search path registered. Nothing is read yet.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.AddConfigPath("configs")
	v.SetConfigName("config")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (optional) and configs/config.yml (optional) into a Config.
func Load(v *viper.Viper) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch re-reads the config file every time it changes on disk and hands the
// result to onChange. A change that fails validation arrives with a non-nil
// err and a zero Config; the caller keeps the values it already has.
func Watch(v *viper.Viper, onChange func(e fsnotify.Event, cfg Config, err error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := fromViper(v)
		if err := cfg.Validate(); err != nil {
			onChange(e, Config{}, err)
			return
		}
		onChange(e, cfg, nil)
	})
	v.WatchConfig()
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Port:              v.GetString("port"),
		LogLevel:          v.GetString("log.level"),
		DBPath:            v.GetString("db.path"),
		AuditWriteTimeout: v.GetDuration("audit.write_timeout"),
		Auth: AuthConfig{
			SigningKey: v.GetString("auth.signing_key"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
		},
		Feed: FeedConfig{
			Path:           v.GetString("feed.path"),
			StaleThreshold: v.GetDuration("feed.stale_threshold"),
			Tick:           v.GetDuration("feed.tick"),
		},
		Barrier: BarrierConfig{
			CommandPath:  v.GetString("barrier.command_path"),
			Pulse:        v.GetDuration("barrier.pulse"),
			Cooldown:     v.GetDuration("barrier.cooldown"),
			WriteTimeout: v.GetDuration("barrier.write_timeout"),
		},
		Remote: RemoteConfig{
			URL:            strings.TrimSpace(v.GetString("remote.url")),
			ReconnectDelay: v.GetDuration("remote.reconnect_delay"),
		},
		Command: CommandConfig{
			Backend:        strings.ToLower(strings.TrimSpace(v.GetString("command.backend"))),
			IoTEndpoint:    strings.TrimSpace(v.GetString("command.iot_endpoint")),
			IoTRegion:      v.GetString("command.iot_region"),
			IoTTopicPrefix: v.GetString("command.iot_topic_prefix"),
		},
		Simulator: SimulatorConfig{
			Enabled:  v.GetBool("simulator.enabled"),
			Spots:    v.GetInt("simulator.spots"),
			Interval: v.GetDuration("simulator.interval"),
		},
	}
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Feed.Path == "" {
		return errors.New("feed.path must not be empty")
	}
	if c.Barrier.CommandPath == "" {
		return errors.New("barrier.command_path must not be empty")
	}
	if c.Feed.Tick <= 0 || c.Feed.StaleThreshold <= 0 {
		return errors.New("feed.tick and feed.stale_threshold must be positive")
	}
	if c.Feed.StaleThreshold <= c.Feed.Tick {
		return fmt.Errorf("feed.stale_threshold (%s) must exceed feed.tick (%s)", c.Feed.StaleThreshold, c.Feed.Tick)
	}
	if c.Barrier.Pulse <= 0 || c.Barrier.WriteTimeout <= 0 {
		return errors.New("barrier.pulse and barrier.write_timeout must be positive")
	}
	if c.Barrier.WriteTimeout >= c.Barrier.Pulse {
		return fmt.Errorf("barrier.write_timeout (%s) must be shorter than barrier.pulse (%s)", c.Barrier.WriteTimeout, c.Barrier.Pulse)
	}
	if c.Barrier.Cooldown < 0 {
		return errors.New("barrier.cooldown must not be negative")
	}
	switch c.Command.Backend {
	case CommandBackendStore:
	case CommandBackendIoT:
		if c.Command.IoTEndpoint == "" {
			return errors.New("command.iot_endpoint is required when command.backend=iot")
		}
	default:
		return fmt.Errorf("unknown command.backend %q", c.Command.Backend)
	}
	if c.Remote.URL == "" && !c.Simulator.Enabled {
		return errors.New("remote.url is required unless simulator.enabled=true")
	}
	if c.Simulator.Enabled && c.Simulator.Spots <= 0 {
		return errors.New("simulator.spots must be positive")
	}
	return nil
}

// UsesDevSigningKey reports whether the built-in development key is active.
func (c Config) UsesDevSigningKey() bool {
	return c.Auth.SigningKey == devSignKey
}
