package config

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/taskflow-auth/pkg/util/errorutil"
)

func validSecret() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", MinSecretBytes)))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", validSecret())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL())
	require.Equal(t, 10080*time.Minute, cfg.Auth.RefreshTTL())
	require.Equal(t, 300*time.Second, cfg.Auth.FlowTTL())
	require.Equal(t, 3, cfg.Auth.MaxLoginAttempts)
	require.Equal(t, FlowStoreMemory, cfg.Auth.FlowStore)
	require.Equal(t, "taskflow", cfg.Auth.Issuer)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", validSecret())
	t.Setenv("AUTH_ACCESS_TOKEN_TTL_MINUTES", "5")
	t.Setenv("AUTH_FLOW_STORE", "REDIS")
	t.Setenv("AUTH_MAX_LOGIN_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL())
	require.Equal(t, FlowStoreRedis, cfg.Auth.FlowStore)
	require.Equal(t, 3, cfg.Auth.MaxLoginAttempts)
}

func TestSigningKey(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := AuthConfig{JWTSecret: "  "}.SigningKey()
		var cfgErr *apperrors.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		require.Equal(t, "AUTH_JWT_SECRET", cfgErr.Key)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := AuthConfig{JWTSecret: "not*base64!"}.SigningKey()
		require.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString([]byte("short-key"))
		_, err := AuthConfig{JWTSecret: short}.SigningKey()
		require.Error(t, err)
	})

	t.Run("accepts 256-bit key", func(t *testing.T) {
		key, err := AuthConfig{JWTSecret: validSecret()}.SigningKey()
		require.NoError(t, err)
		require.Len(t, key, MinSecretBytes)
	})
}

func TestValidateRejectsUnknownFlowStore(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", validSecret())
	t.Setenv("AUTH_FLOW_STORE", "memcached")

	cfg, err := Load()
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}
