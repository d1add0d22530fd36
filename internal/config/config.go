package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Raffle configuration
	Raffle RaffleConfig `env:",prefix=RAFFLE_"`

	// Object storage configuration (payment proof uploads)
	S3 S3Config `env:",prefix=S3_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string `env:"PORT,default=8080"`
	Host string `env:"HOST,default=0.0.0.0"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=rifa"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
}

// RaffleConfig holds the raffle domain parameters
type RaffleConfig struct {
	// TotalNumbers is the size of the selectable grid (numbers run 1..TotalNumbers).
	TotalNumbers int `env:"TOTAL_NUMBERS,default=200"`

	// PaymentWindow is how long a pending ticket holds its number before the
	// sweeper releases it.
	PaymentWindow time.Duration `env:"PAYMENT_WINDOW,default=30m"`

	// SweepInterval is how often the background sweeper runs.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=1m"`

	// PixKey is the static payment key shown in the purchase instructions.
	PixKey string `env:"PIX_KEY"`

	// AdminToken guards the admin routes. Empty disables the admin surface.
	AdminToken string `env:"ADMIN_TOKEN"`

	// ReserveRPS / ReserveBurst rate-limit reservation attempts per client IP.
	ReserveRPS   float64 `env:"RESERVE_RPS,default=1"`
	ReserveBurst int     `env:"RESERVE_BURST,default=5"`
}

// S3Config holds MinIO/S3 configuration for proof image storage
type S3Config struct {
	Endpoint  string `env:"ENDPOINT,default=localhost:9000"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET,default=rifa-proofs"`
	UseSSL    bool   `env:"USE_SSL,default=false"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if cfg.Raffle.TotalNumbers <= 0 {
		return nil, fmt.Errorf("RAFFLE_TOTAL_NUMBERS must be positive, got %d", cfg.Raffle.TotalNumbers)
	}
	if cfg.Raffle.PaymentWindow <= 0 {
		return nil, fmt.Errorf("RAFFLE_PAYMENT_WINDOW must be positive, got %s", cfg.Raffle.PaymentWindow)
	}
	return &cfg, nil
}

// GetDatabaseURL returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
