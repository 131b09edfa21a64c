package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Integration test; needs a running MongoDB at MONGODB_URI.
func TestNewAndCreateIndexes(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := New(ctx, uri, "circles_test")
	require.NoError(t, err)
	defer func() {
		_ = c.UsersCollection().Drop(context.Background())
		_ = c.SessionsCollection().Drop(context.Background())
		_ = c.StateCollection().Drop(context.Background())
		_ = c.Close(context.Background())
	}()

	require.NoError(t, c.CreateIndexes(ctx))
	require.NoError(t, c.Ping(ctx))
}
