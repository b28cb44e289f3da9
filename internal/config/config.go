package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`

	// Server side: the session broadcast hub.
	Port         int           `mapstructure:"port"`
	Secret       string        `mapstructure:"secret"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`

	// Client side: one mesh participant.
	Session       string   `mapstructure:"session"`
	SignalBackend string   `mapstructure:"signal_backend"` // ws | redis
	SignalURL     string   `mapstructure:"signal_url"`
	SignalToken   string   `mapstructure:"signal_token"`
	RedisAddr     string   `mapstructure:"redis_addr"`
	RedisPassword string   `mapstructure:"redis_password"`
	RedisDB       int      `mapstructure:"redis_db"`
	ICEServers    []string `mapstructure:"ice_servers"`

	VideoWidth  int     `mapstructure:"video_width"`
	VideoHeight int     `mapstructure:"video_height"`
	FrameRate   float32 `mapstructure:"frame_rate"`
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

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("rate_limit", 64)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("signal_backend", "ws")
	v.SetDefault("signal_url", "ws://localhost:8080")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("video_width", 640)
	v.SetDefault("video_height", 480)
	v.SetDefault("frame_rate", 30)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
