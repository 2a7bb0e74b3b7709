package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	Auth      AuthConfig      `yaml:"auth"`
	Contracts ContractsConfig `yaml:"contracts"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	SSLMode     string        `yaml:"ssl_mode"`
	MaxConns    int32         `yaml:"max_conns"`
	MinConns    int32         `yaml:"min_conns"`
	MaxConnTime time.Duration `yaml:"max_conn_time"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	HealthCheck time.Duration `yaml:"health_check"`
	TxTimeout   time.Duration `yaml:"tx_timeout"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type ContractsConfig struct {
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
}

// Defaults returns a configuration suitable for local development.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "be-ap-budgets",
			Version:     "0.1.0",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:            8086,
			GRPCPort:        9086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Database:    "procurement",
			SSLMode:     "disable",
			MaxConns:    20,
			MinConns:    2,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
			HealthCheck: time.Minute,
			TxTimeout:   10 * time.Second,
			LockTimeout: 5 * time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: "notifications.procurement",
		},
		Contracts: ContractsConfig{
			ExpirySweepInterval: time.Hour,
		},
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE (if
// set), then applies environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	num32 := func(key string, dst *int32) {
		n := int(*dst)
		num(key, &n)
		*dst = int32(n)
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("SERVICE_NAME", &c.Service.Name)
	str("SERVICE_VERSION", &c.Service.Version)
	str("ENVIRONMENT", &c.Service.Environment)
	str("LOG_LEVEL", &c.Service.LogLevel)

	num("PORT", &c.Server.Port)
	num("GRPC_PORT", &c.Server.GRPCPort)
	dur("SERVER_READ_TIMEOUT", &c.Server.ReadTimeout)
	dur("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	dur("SERVER_IDLE_TIMEOUT", &c.Server.IdleTimeout)
	dur("SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	dur("SERVER_REQUEST_TIMEOUT", &c.Server.RequestTimeout)

	str("DATABASE_URL", &c.Database.URL)
	str("DB_HOST", &c.Database.Host)
	num("DB_PORT", &c.Database.Port)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.Database)
	str("DB_SSLMODE", &c.Database.SSLMode)
	num32("DB_MAX_CONNS", &c.Database.MaxConns)
	num32("DB_MIN_CONNS", &c.Database.MinConns)
	dur("DB_TX_TIMEOUT", &c.Database.TxTimeout)
	dur("DB_LOCK_TIMEOUT", &c.Database.LockTimeout)

	str("NATS_URL", &c.NATS.URL)
	str("NATS_SUBJECT_PREFIX", &c.NATS.SubjectPrefix)

	str("JWT_SECRET", &c.Auth.JWTSecret)

	dur("CONTRACT_EXPIRY_SWEEP_INTERVAL", &c.Contracts.ExpirySweepInterval)

	return errors.Join(errs...)
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server port must be positive")
	}
	if c.Database.TxTimeout <= 0 {
		return errors.New("database tx timeout must be positive")
	}
	if c.Auth.JWTSecret == "" && c.Service.Environment != "development" {
		return errors.New("JWT_SECRET is required outside development")
	}
	return nil
}
