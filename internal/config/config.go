package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

var defaultPrayerNames = []string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"}

type Config struct {
	TelegramToken string
	AdminIDs      []int64

	StoreDriver   string
	DBDSN         string
	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int

	PrayerAPIURL string
	PrayerMethod int
	PrayerNames  []string
	// ReferenceTZ is the zone the midnight refresh runs in.
	ReferenceTZ      *time.Location
	BuildConcurrency int

	HTTPAddr      string
	WebhookMode   bool
	WebhookURL    string
	WebhookSecret string
	AdminToken    string

	LogLevel  string
	LogPretty bool
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	admins := os.Getenv("ADMIN_IDS")
	if admins != "" {
		parts := strings.Split(admins, ",")
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := parseInt64(part)
			if err != nil {
				return nil, fmt.Errorf("invalid admin id %q: %w", part, err)
			}
			cfg.AdminIDs = append(cfg.AdminIDs, id)
		}
	}

	cfg.StoreDriver = strings.ToLower(getenv("STORE_DRIVER", DriverPostgres))
	switch cfg.StoreDriver {
	case DriverPostgres, DriverSQLite:
		cfg.DBDSN = os.Getenv("DB_DSN")
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for %s", cfg.StoreDriver)
		}
	case DriverRedis:
		cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
		cfg.RedisUsername = os.Getenv("REDIS_USERNAME")
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
		db, err := getInt("REDIS_DB", 0)
		if err != nil {
			return nil, err
		}
		cfg.RedisDB = db
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	cfg.PrayerAPIURL = os.Getenv("PRAYER_API_URL")
	method, err := getInt("PRAYER_METHOD", 3)
	if err != nil {
		return nil, err
	}
	cfg.PrayerMethod = method
	cfg.PrayerNames = parseNames(os.Getenv("PRAYER_NAMES"))

	tz := getenv("REFERENCE_TZ", "UTC")
	cfg.ReferenceTZ, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid REFERENCE_TZ %q: %w", tz, err)
	}

	cfg.BuildConcurrency, err = getInt("BUILD_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	if cfg.BuildConcurrency < 1 {
		return nil, fmt.Errorf("BUILD_CONCURRENCY must be positive, got %d", cfg.BuildConcurrency)
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")
	cfg.WebhookMode, err = getBool("WEBHOOK_MODE", false)
	if err != nil {
		return nil, err
	}
	if cfg.WebhookMode {
		cfg.WebhookURL = os.Getenv("WEBHOOK_URL")
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is on")
		}
		cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
		if cfg.WebhookSecret == "" {
			return nil, fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_MODE is on")
		}
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	cfg.LogLevel = getenv("LOG_LEVEL", "info")
	cfg.LogPretty, err = getBool("LOG_PRETTY", false)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseNames splits a comma separated list, dropping blanks and
// case-insensitive duplicates. An empty list yields the five daily prayers.
func parseNames(raw string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := strings.ToLower(part)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, part)
	}
	if len(names) == 0 {
		return append([]string(nil), defaultPrayerNames...)
	}
	return names
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
