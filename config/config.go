/*
Package config loads server settings from the environment.

SOURCES (later wins):
  1. envDefault tags below
  2. .env and .env.local in the working directory, when present
  3. The process environment
  4. Command-line flags in cmd/server (port and database only)
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/warp/personnel-engine/personnel"
)

type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"personnel.db"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"12h"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	// Timezone and ReportCutoff drive the daily-report lock.
	Timezone     string `env:"TZ_NAME" envDefault:"Local"`
	ReportCutoff string `env:"REPORT_CUTOFF" envDefault:"16:00"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	DocumentsDir  string        `env:"DOCUMENTS_DIR" envDefault:"documents"`
	SweepInterval time.Duration `env:"DOCUMENT_SWEEP_INTERVAL" envDefault:"0"`

	// SeedDemo loads the demo scenario into an empty database at startup.
	SeedDemo bool `env:"SEED_DEMO" envDefault:"false"`

	// DemoRoutes mounts /api/scenarios. Loading a scenario wipes the
	// database and returns tokens for every demo account.
	DemoRoutes bool `env:"DEMO_ROUTES" envDefault:"false"`

	MinIO MinIOOptions `envPrefix:"MINIO_"`
	SMTP  SMTPOptions  `envPrefix:"SMTP_"`
}

type MinIOOptions struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"personnel-documents"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

func (m MinIOOptions) Enabled() bool { return m.Endpoint != "" }

type SMTPOptions struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
}

// Load reads the given dotenv files (missing ones are skipped) and then
// parses the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}

	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("failed to load %v: %w", existing, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Cutoff(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ_NAME %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Cutoff parses ReportCutoff as a time of day.
func (c *Config) Cutoff() (time.Duration, error) {
	d, err := personnel.ParseClock(c.ReportCutoff)
	if err != nil {
		return 0, fmt.Errorf("invalid REPORT_CUTOFF %q: %w", c.ReportCutoff, err)
	}
	return d, nil
}
