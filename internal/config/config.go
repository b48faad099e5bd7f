package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the assessment API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NatsURL          string
	JWTSecret        string
	EventChannelBase string
	// ViolationThreshold is the accumulated proctoring violation count
	// at which a student is blocked from new proctored attempts;
	// PenaltyWindow is how long that block lasts.
	ViolationThreshold int
	PenaltyWindow      time.Duration
	ExamTickInterval   time.Duration
	FeedKeepAlive      time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ASSESS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Learnify Assessment API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("event.channel_base", "assess")
	v.SetDefault("proctoring.violation_threshold", 3)
	v.SetDefault("proctoring.penalty_window", "30m")
	v.SetDefault("exam.tick_interval", "1s")
	v.SetDefault("feed.keepalive", "30s")

	penaltyWindow, err := time.ParseDuration(v.GetString("proctoring.penalty_window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid proctoring penalty window: %w", err)
	}

	tickInterval, err := time.ParseDuration(v.GetString("exam.tick_interval"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid exam tick interval: %w", err)
	}

	keepAlive, err := time.ParseDuration(v.GetString("feed.keepalive"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid feed keepalive: %w", err)
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseURL:        v.GetString("database.url"),
		RedisURL:           v.GetString("redis.url"),
		NatsURL:            v.GetString("nats.url"),
		JWTSecret:          v.GetString("jwt.secret"),
		EventChannelBase:   v.GetString("event.channel_base"),
		ViolationThreshold: v.GetInt("proctoring.violation_threshold"),
		PenaltyWindow:      penaltyWindow,
		ExamTickInterval:   tickInterval,
		FeedKeepAlive:      keepAlive,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.ViolationThreshold <= 0 {
		cfg.ViolationThreshold = 3
	}

	if cfg.ExamTickInterval <= 0 {
		cfg.ExamTickInterval = time.Second
	}

	return cfg, nil
}
