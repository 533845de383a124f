package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DriverLiveKit = "livekit"
	DriverMemory  = "memory"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	SDK     SDKConfig     `mapstructure:"sdk"`
	LiveKit LiveKitConfig `mapstructure:"livekit"`
	Media   MediaConfig   `mapstructure:"media"`
	Signal  SignalConfig  `mapstructure:"signal"`
}

type SDKConfig struct {
	// Driver is "livekit" or "memory". The memory driver runs rooms in process
	// with an echo participant.
	Driver string `mapstructure:"driver"`
}

type LiveKitConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Identity  string        `mapstructure:"identity"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type MediaConfig struct {
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	RecordDir      string        `mapstructure:"record_dir"`
	VideoFPS       int           `mapstructure:"video_fps"`
}

type SignalConfig struct {
	SendBuffer        int           `mapstructure:"send_buffer"`
	ConnectRateLimit  int           `mapstructure:"connect_rate_limit"`
	ConnectRateWindow time.Duration `mapstructure:"connect_rate_window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "roomsync-dev-secret")

	v.SetDefault("sdk.driver", DriverMemory)

	v.SetDefault("livekit.url", "")
	v.SetDefault("livekit.api_key", "")
	v.SetDefault("livekit.api_secret", "")
	v.SetDefault("livekit.identity", "roomsync")
	v.SetDefault("livekit.token_ttl", "1h")

	v.SetDefault("media.acquire_timeout", "10s")
	v.SetDefault("media.record_dir", "")
	v.SetDefault("media.video_fps", 15)

	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.connect_rate_limit", 5)
	v.SetDefault("signal.connect_rate_window", "1m")
}

// Load reads config/config.<CONFIG_ENV>.yaml and applies ROOMSYNC_ environment
// overrides, e.g. ROOMSYNC_LIVEKIT_URL.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("ROOMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("driver", cfg.SDK.Driver).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.SDK.Driver {
	case DriverMemory:
	case DriverLiveKit:
		if c.LiveKit.URL == "" {
			return fmt.Errorf("sdk.driver %q needs livekit.url", c.SDK.Driver)
		}
	default:
		return fmt.Errorf("unknown sdk.driver %q", c.SDK.Driver)
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("signal.send_buffer must be positive, got %d", c.Signal.SendBuffer)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Level is the zerolog level named by log_level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
