// Package presence tracks which users have at least one live connection.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/wishp/circles/internal/hub"
	"go.uber.org/zap"
)

type Status struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen,omitempty"`
}

// Store counts connections per user. Connect reports whether connID is the
// user's first live connection, Disconnect whether it was the last.
type Store interface {
	Connect(ctx context.Context, uid, connID string) (bool, error)
	Disconnect(ctx context.Context, uid, connID string) (bool, error)
	Get(ctx context.Context, uid string) (Status, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, kind hub.Kind, key string, data any)
}

func Topic(uid string) string { return "presence/" + uid }

// Tracker publishes online/offline transitions on top of a Store.
type Tracker struct {
	store Store
	pub   Publisher
	log   *zap.Logger
	now   func() time.Time
}

func NewTracker(store Store, pub Publisher, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{store: store, pub: pub, log: log, now: time.Now}
}

func (t *Tracker) Online(ctx context.Context, uid, connID string) {
	first, err := t.store.Connect(ctx, uid, connID)
	if err != nil {
		t.log.Warn("presence connect", zap.String("uid", uid), zap.Error(err))
		return
	}
	if first && t.pub != nil {
		t.pub.Publish(ctx, Topic(uid), hub.Changed, uid, Status{Online: true, LastSeen: t.now().UnixMilli()})
	}
}

func (t *Tracker) Offline(ctx context.Context, uid, connID string) {
	last, err := t.store.Disconnect(ctx, uid, connID)
	if err != nil {
		t.log.Warn("presence disconnect", zap.String("uid", uid), zap.Error(err))
		return
	}
	if last && t.pub != nil {
		t.pub.Publish(ctx, Topic(uid), hub.Changed, uid, Status{LastSeen: t.now().UnixMilli()})
	}
}

func (t *Tracker) Get(ctx context.Context, uid string) (Status, error) {
	return t.store.Get(ctx, uid)
}

// MemoryStore keeps presence for a single instance.
type MemoryStore struct {
	mu       sync.Mutex
	conns    map[string]map[string]bool
	lastSeen map[string]int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conns:    map[string]map[string]bool{},
		lastSeen: map[string]int64{},
		now:      time.Now,
	}
}

func (s *MemoryStore) Connect(_ context.Context, uid, connID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.conns[uid]
	if !ok {
		set = map[string]bool{}
		s.conns[uid] = set
	}
	set[connID] = true
	s.lastSeen[uid] = s.now().UnixMilli()
	return len(set) == 1, nil
}

func (s *MemoryStore) Disconnect(_ context.Context, uid, connID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.conns[uid]
	if !ok || !set[connID] {
		return false, nil
	}
	delete(set, connID)
	s.lastSeen[uid] = s.now().UnixMilli()
	if len(set) > 0 {
		return false, nil
	}
	delete(s.conns, uid)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, uid string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Online: len(s.conns[uid]) > 0, LastSeen: s.lastSeen[uid]}, nil
}
