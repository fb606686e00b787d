// Package config loads server and client settings with viper. Values come
// from config/config.<CONFIG_ENV>.yaml, overridden by VOICEMESH_* variables.
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

const EnvPrefix = "VOICEMESH"

// Config is the gateway server configuration.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	MaxMembers int           `mapstructure:"max_members"`
	LogLevel   string        `mapstructure:"log_level"`
	// Backpressure is "kick" or "drop".
	Backpressure string    `mapstructure:"backpressure"`
	JoinLimit    JoinLimit `mapstructure:"join_limit"`
}

type JoinLimit struct {
	Count  int           `mapstructure:"count"`
	Window time.Duration `mapstructure:"window"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Activity struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold float64       `mapstructure:"threshold"`
	Debounce  time.Duration `mapstructure:"debounce"`
	Interval  time.Duration `mapstructure:"interval"`
	FFTSize   int           `mapstructure:"fft_size"`
}

type Negotiation struct {
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type Audio struct {
	Source     string `mapstructure:"source"`
	SampleRate int    `mapstructure:"sample_rate"`
	// Sink receives decoded remote audio; empty discards it.
	Sink string `mapstructure:"sink"`
}

// ClientConfig is the participant configuration.
type ClientConfig struct {
	GatewayURL  string      `mapstructure:"gateway_url"`
	Room        string      `mapstructure:"room"`
	User        string      `mapstructure:"user"`
	ICEServers  []ICEServer `mapstructure:"ice_servers"`
	Activity    Activity    `mapstructure:"activity"`
	Negotiation Negotiation `mapstructure:"negotiation"`
	Audio       Audio       `mapstructure:"audio"`
	MetricsAddr string      `mapstructure:"metrics_addr"`
	LogLevel    string      `mapstructure:"log_level"`
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "voicemesh")
	v.SetDefault("max_members", 5)
	v.SetDefault("log_level", "info")
	v.SetDefault("backpressure", "kick")
	v.SetDefault("join_limit.count", 5)
	v.SetDefault("join_limit.window", "10s")
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("gateway_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("room", "")
	v.SetDefault("user", "")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("activity.enabled", true)
	v.SetDefault("activity.threshold", 25)
	v.SetDefault("activity.debounce", "500ms")
	v.SetDefault("activity.interval", "16ms")
	v.SetDefault("activity.fft_size", 256)
	v.SetDefault("negotiation.retry_delay", "1s")
	v.SetDefault("negotiation.max_retries", 3)
	v.SetDefault("audio.source", "silence")
	v.SetDefault("audio.sample_rate", 8000)
	v.SetDefault("audio.sink", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
}

// New returns a viper instance reading the environment file for name
// ("config" for the server, "client" for participants).
func New(name string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(fmt.Sprintf("config/%s.%s.yaml", name, env))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func read(v *viper.Viper) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
}

func Load() (*Config, error) {
	return LoadServer(New("config"))
}

// LoadServer reads the server configuration from v.
func LoadServer(v *viper.Viper) (*Config, error) {
	setServerDefaults(v)
	read(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.MaxMembers <= 0 {
		return nil, fmt.Errorf("max_members must be positive, got %d", cfg.MaxMembers)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("max_members", cfg.MaxMembers).Msg("server config")
	return &cfg, nil
}

// LoadClient reads the participant configuration from v. Flags bound to v
// take precedence over the file.
func LoadClient(v *viper.Viper) (*ClientConfig, error) {
	setClientDefaults(v)
	read(v)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("gateway_url is required")
	}
	if cfg.Negotiation.MaxRetries < 0 {
		return nil, fmt.Errorf("negotiation.max_retries must not be negative")
	}
	return &cfg, nil
}

// SetupLogging installs the console writer and the global level.
func SetupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
