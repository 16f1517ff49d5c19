package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, read from the environment. A
// .env file may supply the variables in development.
type Config struct {
	Port           string
	NATSURL        string // empty disables match-event publishing
	NATSSubject    string
	AllowedOrigins []string
	TuningFile     string // optional YAML tuning overrides
}

// Load reads configuration from the environment.
func Load() Config {
	return Config{
		Port:           getEnv("PORT", "3000"),
		NATSURL:        getEnv("NATS_URL", ""),
		NATSSubject:    getEnv("NATS_SUBJECT", "games"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		TuningFile:     getEnv("TUNING_FILE", ""),
	}
}

// Tuning holds the optional game-constant overrides. Zero values mean
// "keep the default".
type Tuning struct {
	Pong struct {
		MaxScore      int     `yaml:"max_score"`
		MatchSeconds  int     `yaml:"match_seconds"`
		TickRate      int     `yaml:"tick_rate"`
		ServeSpeedX   float64 `yaml:"serve_speed_x"`
	} `yaml:"pong"`
	KeyClash struct {
		MatchSeconds int `yaml:"match_seconds"`
	} `yaml:"keyclash"`
}

// LoadTuning parses a YAML tuning file.
func LoadTuning(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	var t Tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse tuning file: %w", err)
	}
	return &t, nil
}

// PongMatchDuration converts the tuning seconds to a duration.
func (t *Tuning) PongMatchDuration() time.Duration {
	return time.Duration(t.Pong.MatchSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
