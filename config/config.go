package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the complete runtime configuration, read from the environment.
type Config struct {
	Addr         string        `env:"AGORA_ADDR" envDefault:":8080"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret    string        `env:"SUPABASE_JWT_SECRET,required"`
	VotingWindow time.Duration `env:"DECISION_VOTING_WINDOW" envDefault:"168h"`
	Database     Database
	Mail         Mail
}

type Database struct {
	User     string `env:"user"`
	Password string `env:"password"`
	Host     string `env:"host" envDefault:"localhost"`
	Port     string `env:"port" envDefault:"5432"`
	Name     string `env:"dbname"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"require"`
	// Migrate applies the embedded schema on startup.
	Migrate bool `env:"DB_MIGRATE" envDefault:"true"`
}

// DSN is the lib/pq connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type Mail struct {
	BotEmail     string `env:"AGORA_BOT_EMAIL,required"`
	Contact      string `env:"AGORA_CONTACT,required"`
	BaseURL      string `env:"AGORA_BASE_URL" envDefault:"http://localhost:8080"`
	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"25"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	QueueSize    int    `env:"NOTIFY_QUEUE_SIZE" envDefault:"64"`
	// EnqueueTimeout bounds how long a create request waits for queue space.
	EnqueueTimeout time.Duration `env:"NOTIFY_ENQUEUE_TIMEOUT" envDefault:"5s"`
	// DrainTimeout bounds delivery of notifications still queued at shutdown.
	DrainTimeout time.Duration `env:"NOTIFY_DRAIN_TIMEOUT" envDefault:"30s"`
}

// LoadDotenv loads a .env file into the process environment. It reports whether one was found.
func LoadDotenv(filenames ...string) bool {
	return godotenv.Load(filenames...) == nil
}

// Parse reads Config from the environment.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
