package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         int
	LogLevel     string
	StaticPath   string
	RoomTTL      time.Duration
	ReadLimit    int64
	ProxyTimeout time.Duration
}

// Load reads an optional config.yaml from the working directory, then lets
// environment variables (PORT, LOG_LEVEL, STATIC_PATH, ROOM_TTL, READ_LIMIT,
// PROXY_TIMEOUT) override it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("room_ttl", "5m")
	v.SetDefault("read_limit", 4096)
	v.SetDefault("proxy_timeout", "30s")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &Config{
		Port:         v.GetInt("port"),
		LogLevel:     v.GetString("log_level"),
		StaticPath:   v.GetString("static_path"),
		RoomTTL:      v.GetDuration("room_ttl"),
		ReadLimit:    v.GetInt64("read_limit"),
		ProxyTimeout: v.GetDuration("proxy_timeout"),
	}, nil
}
