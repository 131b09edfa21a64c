package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wishp/circles/internal/data"
)

func TestUserDirectory(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemoryStore()
	_, err := store.UpsertUser(ctx, data.User{UID: "u1", DisplayName: "Una", PhotoURL: "https://img/u1"})
	require.NoError(t, err)

	d := UserDirectory{Users: store}
	p, ok := d.Profile(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, Profile{Name: "Una", PhotoURL: "https://img/u1"}, p)

	_, ok = d.Profile(ctx, "ghost")
	assert.False(t, ok)
}
