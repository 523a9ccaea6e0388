package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tms/internal/util"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"

	EnvDevelopment = "development"
	EnvProduction  = "production"

	// DevJWTSecret is used when TMS_JWT_SECRET is unset. Production mode rejects it.
	DevJWTSecret = "tms-dev-secret"
)

// Config holds everything main needs to assemble the service.
type Config struct {
	Env        string
	Addr       string
	DBDriver   string
	DBPath     string
	MongoURI   string
	MongoDB    string
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
	LogLevel   slog.Level
	StaticDir  string
}

// LoadDotEnv reads path into the process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Parse builds a Config from args, with flags defaulting to TMS_* environment variables.
func Parse(name string, args []string) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	var (
		cfg      Config
		logLevel string
	)
	fs.StringVar(&cfg.Env, "env", util.EnvOrDefault("TMS_ENV", EnvDevelopment), "Deployment mode: development or production")
	fs.StringVar(&cfg.Addr, "addr", util.EnvOrDefault("TMS_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.DBDriver, "db-driver", util.EnvOrDefault("TMS_DB_DRIVER", DriverSQLite), "Storage backend: sqlite or mongo")
	fs.StringVar(&cfg.DBPath, "db", util.EnvOrDefault("TMS_DB_PATH", "data/tms.db"), "Path to sqlite database file")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", util.EnvOrDefault("TMS_MONGO_URI", "mongodb://localhost:27017"), "MongoDB connection string")
	fs.StringVar(&cfg.MongoDB, "mongo-db", util.EnvOrDefault("TMS_MONGO_DB", "tms"), "MongoDB database name")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", util.EnvOrDefault("TMS_JWT_SECRET", DevJWTSecret), "HMAC secret for bearer tokens")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", util.EnvDurationOrDefault("TMS_TOKEN_TTL", 24*time.Hour), "Bearer token lifetime")
	fs.IntVar(&cfg.BcryptCost, "bcrypt-cost", util.EnvIntOrDefault("TMS_BCRYPT_COST", 10), "bcrypt cost factor")
	fs.StringVar(&logLevel, "log-level", util.EnvOrDefault("TMS_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.StaticDir, "static", util.EnvOrDefault("TMS_STATIC_DIR", ""), "Optional directory with a built frontend")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return Config{}, fmt.Errorf("log level: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("sqlite driver needs a database path")
		}
	case DriverMongo:
		if c.MongoURI == "" || c.MongoDB == "" {
			return fmt.Errorf("mongo driver needs a uri and database name")
		}
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	switch c.Env {
	case EnvDevelopment:
	case EnvProduction:
		if c.JWTSecret == DevJWTSecret {
			return fmt.Errorf("production mode needs TMS_JWT_SECRET set")
		}
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret must not be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	return nil
}
