package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Game struct {
		PINAttempts       int    `yaml:"pin_attempts"`
		MinPlayers        int    `yaml:"min_players"`
		GenerationTimeout string `yaml:"generation_timeout"`
		QuestionCacheTTL  string `yaml:"question_cache_ttl"`
		PINReservationTTL string `yaml:"pin_reservation_ttl"`
	} `yaml:"game"`
	Generator struct {
		Driver string `yaml:"driver"`
		Model  string `yaml:"model"`
		APIKey string `yaml:"api_key"`
	} `yaml:"generator"`
	Sync struct {
		PollInterval            string `yaml:"poll_interval"`
		LeaderboardPollInterval string `yaml:"leaderboard_poll_interval"`
		CheckInterval           string `yaml:"check_interval"`
		SubmitCheckDelay        string `yaml:"submit_check_delay"`
		SubmitRetries           int    `yaml:"submit_retries"`
		NotifyRetries           int    `yaml:"notify_retries"`
		LeaderboardRefreshEvery int    `yaml:"leaderboard_refresh_every"`
	} `yaml:"sync"`
}

// Load reads .env (if present) and the YAML config at path, then applies
// environment overrides. A missing config file yields defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Postgres.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Generator.APIKey, "GEMINI_API_KEY")
	setString(&c.Generator.Driver, "GENERATOR_DRIVER")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Duration parses a duration string or returns the fallback if empty.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Int returns v, or fallback when v is not positive.
func Int(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
