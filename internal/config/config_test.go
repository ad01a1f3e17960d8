package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"TELEGRAM_TOKEN", "ADMIN_IDS", "STORE_DRIVER", "DB_DSN",
	"REDIS_ADDR", "REDIS_USERNAME", "REDIS_PASSWORD", "REDIS_DB",
	"PRAYER_API_URL", "PRAYER_METHOD", "PRAYER_NAMES", "REFERENCE_TZ", "BUILD_CONCURRENCY",
	"HTTP_ADDR", "WEBHOOK_MODE", "WEBHOOK_URL", "WEBHOOK_SECRET", "ADMIN_TOKEN",
	"LOG_LEVEL", "LOG_PRETTY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("DB_DSN", "postgres://bot@localhost/prayers")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"}, cfg.PrayerNames)
	assert.Equal(t, 3, cfg.PrayerMethod)
	assert.Equal(t, "UTC", cfg.ReferenceTZ.String())
	assert.Equal(t, 4, cfg.BuildConcurrency)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.WebhookMode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.AdminIDs)
}

func TestLoadFull(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("ADMIN_IDS", "42, 7,,-100")
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("PRAYER_NAMES", "Fajr, Dhuhr,fajr, ,Isha")
	t.Setenv("REFERENCE_TZ", "Asia/Jakarta")
	t.Setenv("WEBHOOK_MODE", "true")
	t.Setenv("WEBHOOK_URL", "https://bot.example.org")
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("LOG_PRETTY", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 7, -100}, cfg.AdminIDs)
	assert.Equal(t, DriverRedis, cfg.StoreDriver)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, []string{"Fajr", "Dhuhr", "Isha"}, cfg.PrayerNames)
	assert.Equal(t, "Asia/Jakarta", cfg.ReferenceTZ.String())
	assert.True(t, cfg.WebhookMode)
	assert.Equal(t, "s3cret", cfg.WebhookSecret)
	assert.True(t, cfg.LogPretty)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing token", map[string]string{}, "TELEGRAM_TOKEN is required"},
		{"missing dsn", map[string]string{"TELEGRAM_TOKEN": "t"}, "DB_DSN is required"},
		{"bad admin", map[string]string{"TELEGRAM_TOKEN": "t", "DB_DSN": "x", "ADMIN_IDS": "abc"}, `invalid admin id "abc"`},
		{"bad driver", map[string]string{"TELEGRAM_TOKEN": "t", "STORE_DRIVER": "mongo"}, "unsupported STORE_DRIVER"},
		{"bad tz", map[string]string{"TELEGRAM_TOKEN": "t", "DB_DSN": "x", "REFERENCE_TZ": "Mars/Olympus"}, "invalid REFERENCE_TZ"},
		{"bad concurrency", map[string]string{"TELEGRAM_TOKEN": "t", "DB_DSN": "x", "BUILD_CONCURRENCY": "0"}, "BUILD_CONCURRENCY must be positive"},
		{"bad method", map[string]string{"TELEGRAM_TOKEN": "t", "DB_DSN": "x", "PRAYER_METHOD": "mwl"}, "invalid PRAYER_METHOD"},
		{"webhook without secret", map[string]string{"TELEGRAM_TOKEN": "t", "DB_DSN": "x", "WEBHOOK_MODE": "true", "WEBHOOK_URL": "https://x"}, "WEBHOOK_SECRET is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
