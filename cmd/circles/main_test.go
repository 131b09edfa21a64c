package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wishp/circles/internal/auth"
	"github.com/wishp/circles/internal/config"
	"github.com/wishp/circles/internal/media"
	"go.uber.org/zap"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("CIRCLES_AUTH_JWT_SECRET", "cli-secret")
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"token", "alice", "--name", "Alice", "--ttl", "1h"})
	require.NoError(t, root.Execute())

	claims, err := auth.NewJWTManager("cli-secret", time.Hour).VerifyToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Contains(t, errOut.String(), "expires")
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("CIRCLES_AUTH_JWT_SECRET", "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token", "alice"})
	assert.ErrorContains(t, root.Execute(), "jwt_secret")
}

func TestBuild_InMemoryFallbacks(t *testing.T) {
	t.Setenv("CIRCLES_AUTH_JWT_SECRET", "s")
	cfg, err := config.Load("")
	require.NoError(t, err)

	st, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.close(context.Background(), zap.NewNop())

	assert.NotNil(t, st.srv.Chat)
	assert.NotNil(t, st.srv.Rooms)
	assert.NotNil(t, st.srv.Social)
	assert.NotNil(t, st.srv.Presence)
	assert.Nil(t, st.srv.DB)
	assert.IsType(t, media.Disabled{}, st.srv.Uploader)
}

func TestNewUploader(t *testing.T) {
	log := zap.NewNop()
	u, err := newUploader(context.Background(), config.MediaConfig{Backend: "cloudinary", CloudinaryCloud: "demo", CloudinaryPreset: "p"}, log)
	require.NoError(t, err)
	assert.IsType(t, &media.CloudinaryUploader{}, u)

	_, err = newUploader(context.Background(), config.MediaConfig{Backend: "ftp"}, log)
	assert.Error(t, err)
}
