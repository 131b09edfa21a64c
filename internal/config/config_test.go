package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("CIRCLES_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("CIRCLES_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 1500*time.Millisecond, cfg.Chat.TypingWriteInterval())
	assert.Equal(t, 3*time.Second, cfg.Chat.TypingIdle())
	assert.Equal(t, 4*time.Second, cfg.Chat.TypingStale())
	assert.Equal(t, time.Second, cfg.Room.Tick())
	assert.Equal(t, 10, cfg.Room.MinSessionSeconds)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
	assert.Equal(t, "none", cfg.Media.Backend)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "circles.yaml")
	body := []byte("app:\n  addr: \":9000\"\n  env: development\nauth:\n  jwt_secret: file-secret\nroom:\n  tick_ms: 250\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.App.Addr)
	assert.True(t, cfg.Dev())
	assert.Equal(t, 250*time.Millisecond, cfg.Room.Tick())
}

func TestValidate(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		c := &Config{}
		require.Error(t, c.Validate())
	})

	t.Run("cloudinary needs preset", func(t *testing.T) {
		c := &Config{Auth: AuthConfig{JWTSecret: "x"}, Media: MediaConfig{Backend: "cloudinary", CloudinaryCloud: "demo"}}
		require.Error(t, c.Validate())
	})

	t.Run("unknown backend", func(t *testing.T) {
		c := &Config{Auth: AuthConfig{JWTSecret: "x"}, Media: MediaConfig{Backend: "ftp"}}
		require.Error(t, c.Validate())
	})
}
