package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateRule(t *testing.T) {
	cases := map[string]RateRule{
		"20/1m":    {Limit: 20, Window: time.Minute},
		"100/hour": {Limit: 100, Window: time.Hour},
		" 5 / s ":  {Limit: 5, Window: time.Second},
		"0/1m":     {Limit: 0, Window: time.Minute},
		"300/90s":  {Limit: 300, Window: 90 * time.Second},
	}
	for in, want := range cases {
		got, err := ParseRateRule(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"20", "x/1m", "-1/1m", "20/fortnight", "20/0s"} {
		_, err := ParseRateRule(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("RATE_LIMIT_CHAT", "")

	cfg := LoadConfig()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, RateRule{Limit: 20, Window: time.Minute}, cfg.RateLimit.Chat)
	assert.Equal(t, RateRule{Limit: 100, Window: time.Minute}, cfg.RateLimit.PublicConfig)
	assert.Equal(t, 60*time.Second, cfg.Cache.ConfigTTL)
	assert.Equal(t, 2000, cfg.Session.MaxMessageLength)
	assert.NotEmpty(t, cfg.Kafka.GroupID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("RATE_LIMIT_CHAT", "5/30s")
	t.Setenv("RATE_LIMIT_FEEDBACK", "not-a-rule")
	t.Setenv("CONFIG_CACHE_TTL", "2m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SERVER_PORT", "9090")

	cfg := LoadConfig()
	assert.Equal(t, RateRule{Limit: 5, Window: 30 * time.Second}, cfg.RateLimit.Chat)
	assert.Equal(t, RateRule{Limit: 10, Window: time.Minute}, cfg.RateLimit.Feedback)
	assert.Equal(t, 2*time.Minute, cfg.Cache.ConfigTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddress())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("APP_ENV", "development")
		return LoadConfig()
	}

	cfg := base()
	cfg.Cache.Backend = "redis"
	assert.ErrorContains(t, cfg.Validate(), "REDIS_ENABLED")

	cfg = base()
	cfg.Documents.Backend = "supabase"
	assert.ErrorContains(t, cfg.Validate(), "SUPABASE_URL")

	cfg = base()
	cfg.Database.Driver = "oracle"
	cfg.Session.Backend = "mongo"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "DB_DRIVER")
	assert.ErrorContains(t, err, "SESSION_BACKEND")

	cfg = base()
	cfg.Session.ServerIdleTimeout = 0
	assert.ErrorContains(t, cfg.Validate(), "SESSION_SERVER_IDLE_TIMEOUT")

	cfg = base()
	cfg.Environment = "production"
	err = cfg.Validate()
	assert.ErrorContains(t, err, "RATE_LIMIT_IDENTITY_SECRET")
	assert.ErrorContains(t, err, "INTERNAL_API_TOKEN")

	cfg.RateLimit.IdentitySecret = "pepper"
	cfg.Server.InternalTokenCiphertext = "AQICAHh..."
	assert.NoError(t, cfg.Validate())
}
