package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode" validate:"oneof=release debug"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`

	// Client side.
	SignalURL      string        `mapstructure:"signal_url" validate:"required"`
	Room           string        `mapstructure:"room"`
	Token          string        `mapstructure:"token"`
	DisplayName    string        `mapstructure:"display_name" validate:"max=64"`
	Role           string        `mapstructure:"role" validate:"oneof=teacher student guest"`
	DisableCapture bool          `mapstructure:"disable_capture"`
	DialAttempts   int           `mapstructure:"dial_attempts" validate:"min=1,max=10"`
	DialBackoff    time.Duration `mapstructure:"dial_backoff"`
	CallStagger    time.Duration `mapstructure:"call_stagger"`
	ChatAckTimeout time.Duration `mapstructure:"chat_ack_timeout"`
	STUNServers    []string      `mapstructure:"stun_servers"`

	// Relay side.
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	RoomCapacity int           `mapstructure:"room_capacity" validate:"min=1"`
	RequireToken bool          `mapstructure:"require_token"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MEETMESH")
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/room")
	v.SetDefault("display_name", "guest")
	v.SetDefault("role", "guest")
	v.SetDefault("disable_capture", false)
	v.SetDefault("dial_attempts", 5)
	v.SetDefault("dial_backoff", "500ms")
	v.SetDefault("call_stagger", "150ms")
	v.SetDefault("chat_ack_timeout", "5s")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "dev-only-secret")
	v.SetDefault("room_capacity", 16)
	v.SetDefault("require_token", false)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
