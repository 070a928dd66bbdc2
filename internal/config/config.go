package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	ShopName      string `envconfig:"SHOP_NAME" default:"Kedai POS"`
	TimeZone      string `envconfig:"TIME_ZONE" default:"Asia/Kuala_Lumpur"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	RedisAddr      string `envconfig:"REDIS_ADDR"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	ChangesChannel string `envconfig:"CHANGES_CHANNEL" default:"kedaipos:changes"`
	ReceiptQueue   string `envconfig:"RECEIPT_QUEUE" default:"receipts"`
	ReceiptSpool   string `envconfig:"RECEIPT_SPOOL_DIR" default:"./receipts"`
	ReceiptWorkers int    `envconfig:"RECEIPT_WORKERS" default:"2"`
	WorkerMetrics  string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	ManagerPIN     string        `envconfig:"MANAGER_PIN"`

	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"15s"`
	CreditCacheTTL   time.Duration `envconfig:"CREDIT_CACHE_TTL" default:"5m"`
}

// Load reads an optional .env file and then the process environment, which
// wins over the file.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !isMissingFile(err) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	if cfg.OperationTimeout <= 0 {
		return Config{}, errors.New("OPERATION_TIMEOUT must be positive")
	}
	if cfg.AccessTokenTTL <= 0 {
		return Config{}, errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Location resolves TimeZone, falling back to UTC when the zone database
// does not know it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
