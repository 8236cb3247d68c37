package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Logger   LoggerConfig   `yaml:"logger"`
	Presence PresenceConfig `yaml:"presence"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Mode            string        `yaml:"mode"`
	BasePath        string        `yaml:"base_path"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// GetDSN returns the PostgreSQL DSN, preferring an explicit URL
func (d DatabaseConfig) GetDSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
}

// PresenceConfig holds the presence timing knobs. All values are tunable defaults.
type PresenceConfig struct {
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	IdleThreshold      time.Duration `yaml:"idle_threshold"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	SweepPeriod        time.Duration `yaml:"sweep_period"`
	ClockSkewTolerance time.Duration `yaml:"clock_skew_tolerance"`
	MaxSendRetries     int           `yaml:"max_send_retries"`
}

// DefaultPresence returns the default presence timings
func DefaultPresence() PresenceConfig {
	return PresenceConfig{
		HeartbeatInterval:  30 * time.Second,
		IdleThreshold:      5 * time.Minute,
		StalenessThreshold: 60 * time.Second,
		SweepPeriod:        30 * time.Second,
		ClockSkewTolerance: 5 * time.Second,
		MaxSendRetries:     3,
	}
}

// Validate checks the presence timings and fills the staleness default (2x interval)
func (p *PresenceConfig) Validate() error {
	if p.HeartbeatInterval <= 0 {
		return fmt.Errorf("presence.heartbeat_interval must be positive, got %s", p.HeartbeatInterval)
	}
	if p.IdleThreshold <= 0 {
		return fmt.Errorf("presence.idle_threshold must be positive, got %s", p.IdleThreshold)
	}
	if p.StalenessThreshold == 0 {
		p.StalenessThreshold = 2 * p.HeartbeatInterval
	}
	if p.StalenessThreshold < p.HeartbeatInterval {
		return fmt.Errorf("presence.staleness_threshold (%s) must not be shorter than the heartbeat interval (%s)",
			p.StalenessThreshold, p.HeartbeatInterval)
	}
	if p.SweepPeriod <= 0 {
		return fmt.Errorf("presence.sweep_period must be positive, got %s", p.SweepPeriod)
	}
	if p.ClockSkewTolerance < 0 {
		return fmt.Errorf("presence.clock_skew_tolerance must not be negative, got %s", p.ClockSkewTolerance)
	}
	if p.MaxSendRetries < 0 {
		return fmt.Errorf("presence.max_send_retries must not be negative, got %d", p.MaxSendRetries)
	}
	return nil
}

// Load reads defaults, then the yaml file at path (if present), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            "8010",
			Mode:            "debug",
			BasePath:        "/api/presence",
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Name:            "presence",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		Logger: LoggerConfig{
			Level: "info",
		},
		Presence: DefaultPresence(),
	}
	// staleness follows the interval unless configured explicitly
	cfg.Presence.StalenessThreshold = 0

	// Load from yaml file if exists
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Presence.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides cfg with environment variables
func applyEnv(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		cfg.Server.Mode = mode
	}
	if basePath := os.Getenv("SERVER_BASE_PATH"); basePath != "" {
		cfg.Server.BasePath = basePath
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logger.Level = level
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"PRESENCE_HEARTBEAT_INTERVAL", &cfg.Presence.HeartbeatInterval},
		{"PRESENCE_IDLE_THRESHOLD", &cfg.Presence.IdleThreshold},
		{"PRESENCE_STALENESS_THRESHOLD", &cfg.Presence.StalenessThreshold},
		{"PRESENCE_SWEEP_PERIOD", &cfg.Presence.SweepPeriod},
		{"PRESENCE_CLOCK_SKEW_TOLERANCE", &cfg.Presence.ClockSkewTolerance},
	}
	for _, d := range durations {
		raw := os.Getenv(d.key)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", d.key, raw, err)
		}
		*d.target = parsed
	}

	if retries := os.Getenv("PRESENCE_MAX_SEND_RETRIES"); retries != "" {
		n, err := strconv.Atoi(retries)
		if err != nil {
			return fmt.Errorf("invalid PRESENCE_MAX_SEND_RETRIES=%q: %w", retries, err)
		}
		cfg.Presence.MaxSendRetries = n
	}

	return nil
}
