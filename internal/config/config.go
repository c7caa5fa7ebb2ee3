package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env string `validate:"required,oneof=dev prod"`
	DB  struct {
		Path        string `validate:"required"`
		WAL         bool
		ForeignKeys bool
		BusyTimeout time.Duration `validate:"min=0"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Persist struct {
		Enabled  bool
		Dir      string
		Debounce time.Duration `validate:"min=0"`
		Cron     string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Env = getenv("ENV", "prod")
	c.DB.Path = getenv("DB_PATH", "data/litekit.db")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/litekit.log")
	c.Persist.Dir = getenv("PERSIST_DIR", "data/snapshots")
	c.Persist.Cron = os.Getenv("PERSIST_CRON")

	var err error
	if c.DB.WAL, err = getenvBool("DB_WAL", true); err != nil {
		return Config{}, err
	}
	if c.DB.ForeignKeys, err = getenvBool("DB_FOREIGN_KEYS", true); err != nil {
		return Config{}, err
	}
	if c.DB.BusyTimeout, err = getenvDuration("DB_BUSY_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if c.Persist.Enabled, err = getenvBool("PERSIST_ENABLED", false); err != nil {
		return Config{}, err
	}
	if c.Persist.Debounce, err = getenvDuration("PERSIST_DEBOUNCE", time.Second); err != nil {
		return Config{}, err
	}

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.Persist.Enabled && c.Persist.Dir == "" {
		return Config{}, fmt.Errorf("PERSIST_DIR required when PERSIST_ENABLED is set")
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", k, v)
	}
	return b, nil
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", k, v)
	}
	return d, nil
}
