package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	JWT      JWTConfig
	App      AppConfig
	Payroll  PayrollConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
}

// AppConfig holds application configuration
type AppConfig struct {
	Port           int
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

// StatutorySource selects where statutory deduction templates are loaded from.
type StatutorySource string

const (
	StatutorySourceDatabase StatutorySource = "database"
	StatutorySourceFile     StatutorySource = "file"
)

// PayrollConfig holds calculation engine settings
type PayrollConfig struct {
	BatchConcurrency int
	StatutorySource  StatutorySource
	RulesFile        string
	// AutoRunInterval of zero disables scheduled batch runs.
	AutoRunInterval  time.Duration
	AutoRunCompanies []string
	MigrateOnStart   bool
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file loaded, using process environment")
	}

	config := &Config{}

	// Database configuration
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	config.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     dbPort,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "payroll"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}

	// Application configuration
	appPort, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}

	config.App = AppConfig{
		Port:           appPort,
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS"),
	}

	config.JWT = JWTConfig{
		Secret: getEnv("JWT_SECRET_KEY", ""),
	}

	// Payroll configuration
	concurrency, err := strconv.Atoi(getEnv("PAYROLL_BATCH_CONCURRENCY", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYROLL_BATCH_CONCURRENCY: %w", err)
	}
	autoRun, err := time.ParseDuration(getEnv("PAYROLL_AUTO_RUN_INTERVAL", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYROLL_AUTO_RUN_INTERVAL: %w", err)
	}
	migrate, err := strconv.ParseBool(getEnv("PAYROLL_MIGRATE_ON_START", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYROLL_MIGRATE_ON_START: %w", err)
	}

	config.Payroll = PayrollConfig{
		BatchConcurrency: concurrency,
		StatutorySource:  StatutorySource(getEnv("PAYROLL_STATUTORY_SOURCE", string(StatutorySourceDatabase))),
		RulesFile:        getEnv("PAYROLL_RULES_FILE", ""),
		AutoRunInterval:  autoRun,
		AutoRunCompanies: getEnvSlice("PAYROLL_AUTO_RUN_COMPANIES"),
		MigrateOnStart:   migrate,
	}

	// Validate required fields
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate reports every missing or invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Password == "" {
		errs = append(errs, fmt.Errorf("DB_PASSWORD is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET_KEY is required"))
	}
	if c.Payroll.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("PAYROLL_BATCH_CONCURRENCY must be at least 1"))
	}
	switch c.Payroll.StatutorySource {
	case StatutorySourceDatabase:
	case StatutorySourceFile:
		if c.Payroll.RulesFile == "" {
			errs = append(errs, fmt.Errorf("PAYROLL_RULES_FILE is required when PAYROLL_STATUTORY_SOURCE=file"))
		}
	default:
		errs = append(errs, fmt.Errorf("PAYROLL_STATUTORY_SOURCE must be database or file, got %q", c.Payroll.StatutorySource))
	}
	if c.Payroll.AutoRunInterval < 0 {
		errs = append(errs, fmt.Errorf("PAYROLL_AUTO_RUN_INTERVAL must not be negative"))
	}
	return errors.Join(errs...)
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(env string) []string {
	value := getEnv(env, "")
	if value == "" {
		return []string{}
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
