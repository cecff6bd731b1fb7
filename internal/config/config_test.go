package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, BackendMongo, cfg.StoreBackend)
	assert.Equal(t, "totpgate", cfg.MongoDB)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, uint(1), cfg.OTPSkew)
	assert.Equal(t, 5, cfg.OTPMaxAttempts)
	assert.Equal(t, uint32(64*1024), cfg.Argon2MemoryKiB)
	assert.Equal(t, uint8(2), cfg.Argon2Parallelism)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", BackendMemory)
	t.Setenv("CHALLENGE_TTL", "90s")
	t.Setenv("OTP_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 90*time.Second, cfg.ChallengeTTL)
	assert.Equal(t, 3, cfg.OTPMaxAttempts)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET"},
		{"unknown backend", map[string]string{"JWT_SECRET": testSecret, "STORE_BACKEND": "redis"}, "STORE_BACKEND"},
		{"memory in production", map[string]string{"JWT_SECRET": testSecret, "STORE_BACKEND": BackendMemory, "APP_ENV": "production"}, "production"},
		{"zero attempts", map[string]string{"JWT_SECRET": testSecret, "OTP_MAX_ATTEMPTS": "0"}, "OTP_MAX_ATTEMPTS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), err.Error())
		})
	}
}
