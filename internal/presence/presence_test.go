package presence

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wishp/circles/internal/hub"
	"go.uber.org/zap"
)

type recordingPub struct {
	mu     sync.Mutex
	states []Status
}

func (p *recordingPub) Publish(_ context.Context, _ string, _ hub.Kind, _ string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, data.(Status))
}

func exerciseStore(t *testing.T, s Store, uid string) {
	t.Helper()
	ctx := context.Background()

	st, err := s.Get(ctx, uid)
	require.NoError(t, err)
	assert.False(t, st.Online)

	first, err := s.Connect(ctx, uid, "c1")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = s.Connect(ctx, uid, "c2")
	require.NoError(t, err)
	assert.False(t, first)

	last, err := s.Disconnect(ctx, uid, "c1")
	require.NoError(t, err)
	assert.False(t, last)
	st, err = s.Get(ctx, uid)
	require.NoError(t, err)
	assert.True(t, st.Online)

	last, err = s.Disconnect(ctx, uid, "c2")
	require.NoError(t, err)
	assert.True(t, last)
	last, err = s.Disconnect(ctx, uid, "c2")
	require.NoError(t, err)
	assert.False(t, last, "unknown connection is ignored")

	st, err = s.Get(ctx, uid)
	require.NoError(t, err)
	assert.False(t, st.Online)
	assert.NotZero(t, st.LastSeen)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), "u1")
}

func TestTrackerPublishesTransitions(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPub{}
	tr := NewTracker(NewMemoryStore(), pub, zap.NewNop())

	tr.Online(ctx, "u", "a")
	tr.Online(ctx, "u", "b")
	tr.Offline(ctx, "u", "a")
	tr.Offline(ctx, "u", "b")

	require.Len(t, pub.states, 2)
	assert.True(t, pub.states[0].Online)
	assert.False(t, pub.states[1].Online)

	st, err := tr.Get(ctx, "u")
	require.NoError(t, err)
	assert.False(t, st.Online)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(context.Background()).Err())
	return c
}

func TestRedisStore(t *testing.T) {
	c := redisClient(t)
	prefix := "circles-test-" + uuid.NewString()
	exerciseStore(t, NewRedisStore(c, prefix, time.Minute), "u1")
}

func TestRelayRoundTrip(t *testing.T) {
	c := redisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelay(c, "circles-test-"+uuid.NewString(), zap.NewNop())
	got := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() {
		done <- relay.Run(ctx, func(b []byte) {
			select {
			case got <- b:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		return relay.Publish(ctx, []byte("ping")) == nil && len(got) > 0
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "ping", string(<-got))

	cancel()
	require.NoError(t, <-done)
}
