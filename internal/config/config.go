package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"nova-battle-service/internal/app"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Store struct {
		Driver string `yaml:"driver"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Kafka struct {
		Brokers  []string `yaml:"brokers"`
		Topic    string   `yaml:"topic"`
		ClientID string   `yaml:"client_id"`
	} `yaml:"kafka"`
	Battle struct {
		QuestionCount   int    `yaml:"question_count"`
		CodeAttempts    int    `yaml:"code_attempts"`
		ExpireAfter     string `yaml:"expire_after"`
		RecentLimit     int    `yaml:"recent_limit"`
		MCQBudget       string `yaml:"mcq_budget"`
		ParagraphBudget string `yaml:"paragraph_budget"`
		QuestionTTL     string `yaml:"question_ttl"`
	} `yaml:"battle"`
	History struct {
		Cap      int `yaml:"cap"`
		PageSize int `yaml:"page_size"`
	} `yaml:"history"`
	Auth struct {
		CookieName   string `yaml:"cookie_name"`
		SecureCookie bool   `yaml:"secure_cookie"`
		SessionTTL   string `yaml:"session_ttl"`
		DevLogin     bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Load reads YAML config from path. A .env file next to the working directory is
// loaded first so ${VAR} references in the YAML can resolve against it.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	setString(&c.Server.Port, "8080")
	setString(&c.Server.ReadTimeout, "15s")
	setString(&c.Server.WriteTimeout, "15s")
	setString(&c.Server.ShutdownTimeout, "5s")
	setString(&c.Store.Driver, DriverMemory)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	setString(&c.Redis.TTL, "24h")
	setString(&c.Mongo.Database, "nova")
	setString(&c.Kafka.Topic, "battle-events")
	setString(&c.Kafka.ClientID, "nova-battle")

	def := app.DefaultSettings()
	setInt(&c.Battle.QuestionCount, def.QuestionCount)
	setInt(&c.Battle.CodeAttempts, def.CodeAttempts)
	setString(&c.Battle.ExpireAfter, def.ExpireAfter.String())
	setInt(&c.Battle.RecentLimit, def.RecentLimit)
	setString(&c.Battle.MCQBudget, def.MCQBudget.String())
	setString(&c.Battle.ParagraphBudget, def.ParagraphBudget.String())
	setString(&c.Battle.QuestionTTL, "10m")
	setInt(&c.History.Cap, def.HistoryCap)
	setInt(&c.History.PageSize, def.HistoryPageSize)

	setString(&c.Auth.CookieName, "nova_session")
	setString(&c.Auth.SessionTTL, "24h")
	setString(&c.Log.Level, "info")
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("store.driver redis needs redis.addr"))
		}
	case DriverPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("store.driver postgres needs postgres.url"))
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("store.driver mongo needs mongo.uri"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.History.PageSize > c.History.Cap {
		errs = append(errs, fmt.Errorf("history.page_size %d exceeds history.cap %d", c.History.PageSize, c.History.Cap))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	for name, raw := range map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"redis.ttl":               c.Redis.TTL,
		"battle.expire_after":     c.Battle.ExpireAfter,
		"battle.mcq_budget":       c.Battle.MCQBudget,
		"battle.paragraph_budget": c.Battle.ParagraphBudget,
		"battle.question_ttl":     c.Battle.QuestionTTL,
		"auth.session_ttl":        c.Auth.SessionTTL,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: %q is not a positive duration", name, raw))
		}
	}
	return errors.Join(errs...)
}

// Settings converts the battle and history sections into service settings.
func (c Config) Settings() app.Settings {
	def := app.DefaultSettings()
	return app.Settings{
		QuestionCount:   c.Battle.QuestionCount,
		CodeAttempts:    c.Battle.CodeAttempts,
		ExpireAfter:     TTLDuration(c.Battle.ExpireAfter, def.ExpireAfter),
		RecentLimit:     c.Battle.RecentLimit,
		HistoryCap:      c.History.Cap,
		HistoryPageSize: c.History.PageSize,
		MCQBudget:       TTLDuration(c.Battle.MCQBudget, def.MCQBudget),
		ParagraphBudget: TTLDuration(c.Battle.ParagraphBudget, def.ParagraphBudget),
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}
