package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	StunServers  []string `env:"WEBRTC_STUN_SERVERS" envSeparator:","`
	TurnServers  []string `env:"WEBRTC_TURN_SERVERS" envSeparator:","`
	TurnUsername string   `env:"WEBRTC_TURN_USERNAME"`
	TurnPassword string   `env:"WEBRTC_TURN_PASSWORD"`

	SessionTTLSeconds     int   `env:"SESSION_TTL_SECONDS" envDefault:"3600"`
	CreateRateLimitPerMin int   `env:"CREATE_RATE_LIMIT_PER_MIN" envDefault:"30"`
	MaxBodyBytes          int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SessionTTL is how long a session may sit without updates before the
// reaper closes it.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be positive, got %d", c.SessionTTLSeconds)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	if len(c.TurnServers) > 0 && (c.TurnUsername == "" || c.TurnPassword == "") {
		log.Warn().Msg("WEBRTC_TURN_SERVERS set without credentials: most TURN deployments require WEBRTC_TURN_USERNAME and WEBRTC_TURN_PASSWORD")
	}
	if c.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL is empty: sessions are held in memory and lost on restart")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
