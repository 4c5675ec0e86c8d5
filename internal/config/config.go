package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// AppConfig is the resolved process configuration. It is built once at
// startup and passed explicitly into the components that need it; nothing
// reads the environment after Load returns.
type AppConfig struct {
	// DataDir is where the reading partitions and the watermark file live.
	DataDir string `validate:"required"`

	// PollInterval controls how often a poll cycle runs.
	PollInterval time.Duration `validate:"gt=0"`

	// Backfill is how far back the first window for a source with no
	// watermark reaches.
	Backfill time.Duration `validate:"gt=0"`

	// Outbound HTTP behaviour.
	HTTPTimeout   time.Duration `validate:"gt=0"`
	MaxRetries    int           `validate:"gte=1"`
	RetryInitial  time.Duration `validate:"gt=0"`
	RetryMaxDelay time.Duration `validate:"gt=0"`

	// Smart meter account. The meter source is skipped when empty.
	MeterEmail    string
	MeterPassword string
	MeterID       string

	// OpenWeatherMap. The weather source is skipped when the key is empty.
	OWMAPIKey    string
	OWMLatitude  float64 `validate:"gte=-90,lte=90"`
	OWMLongitude float64 `validate:"gte=-180,lte=180"`

	// AwattarEnabled toggles the power-price source (no credentials needed).
	AwattarEnabled bool

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.DataDir = getenvDefault("GRIDPOLL_DATA_DIR", "data")

	var err error
	if cfg.PollInterval, err = getenvDuration("GRIDPOLL_POLL_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	if cfg.Backfill, err = getenvDuration("GRIDPOLL_BACKFILL", "12h"); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("GRIDPOLL_HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	cfg.MaxRetries = getenvInt("GRIDPOLL_MAX_RETRIES", 5)
	if cfg.RetryInitial, err = getenvDuration("GRIDPOLL_RETRY_INITIAL", "500ms"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = getenvDuration("GRIDPOLL_RETRY_MAX_DELAY", "10s"); err != nil {
		return nil, err
	}

	cfg.MeterEmail = os.Getenv("METER_EMAIL")
	cfg.MeterPassword = os.Getenv("METER_PASSWORD")
	cfg.MeterID = os.Getenv("METER_ID")

	cfg.OWMAPIKey = os.Getenv("OWM_API_KEY")
	if cfg.OWMLatitude, err = getenvFloat("OWM_LATITUDE", 0); err != nil {
		return nil, err
	}
	if cfg.OWMLongitude, err = getenvFloat("OWM_LONGITUDE", 0); err != nil {
		return nil, err
	}

	cfg.AwattarEnabled = getenvBool("AWATTAR_ENABLED", true)
	cfg.Port = getenvDefault("PORT", "8080")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MeterConfigured reports whether the smart-meter account is usable.
func (c *AppConfig) MeterConfigured() bool {
	return c.MeterEmail != "" && c.MeterPassword != "" && c.MeterID != ""
}

// WeatherConfigured reports whether the weather source is usable.
func (c *AppConfig) WeatherConfigured() bool {
	return c.OWMAPIKey != ""
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
