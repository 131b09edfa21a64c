// Package social holds the social graph (friends, requests, follows, blocks),
// posts with likes and comments, and per-user notifications.
package social

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wishp/circles/internal/data"
	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/hub"
	"go.uber.org/zap"
)

var (
	ErrSelf             = errors.New("cannot target yourself")
	ErrDuplicateRequest = errors.New("friend request already pending")
	ErrAlreadyFriends   = errors.New("already friends")
	ErrBlocked          = errors.New("user is blocked")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalid          = errors.New("invalid request")
)

// Publisher delivers change events to subscribed clients.
type Publisher interface {
	Publish(ctx context.Context, topic string, kind hub.Kind, key string, data any)
}

func NotificationsTopic(uid string) string  { return "notifications/" + uid }
func FriendsTopic(uid string) string        { return "friends/" + uid }
func FriendRequestsTopic(uid string) string { return "friendRequests/" + uid }
func PostTopic(id string) string            { return "posts/" + id }

type set map[string]bool

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// edges is a uid -> uid set adjacency list.
type edges map[string]set

func (e edges) add(a, b string) bool {
	if e[a][b] {
		return false
	}
	if e[a] == nil {
		e[a] = set{}
	}
	e[a][b] = true
	return true
}

func (e edges) remove(a, b string) bool {
	if !e[a][b] {
		return false
	}
	delete(e[a], b)
	if len(e[a]) == 0 {
		delete(e, a)
	}
	return true
}

type Config struct {
	MaxVideoSeconds float64
	MaxPostRunes    int
	MaxCommentRunes int
}

func DefaultConfig() Config {
	return Config{MaxVideoSeconds: 60, MaxPostRunes: 2000, MaxCommentRunes: 500}
}

// Service is the in-process owner of social state.
type Service struct {
	mu sync.RWMutex

	friends   map[string]map[string]int64   // uid -> friend -> since
	requests  map[string]map[string]Request // to -> from -> request
	following edges
	followers edges
	blocks    edges

	posts    map[string]*Post
	likes    map[string]set
	comments map[string][]Comment

	notifications map[string][]*Notification

	cfg    Config
	users  data.UserStore
	pub    Publisher
	events events.Emitter
	log    *zap.Logger
	now    func() time.Time

	store   data.StateStore
	journal *data.Journal
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithEvents(e events.Emitter) Option    { return func(s *Service) { s.events = e } }

func NewService(cfg Config, users data.UserStore, pub Publisher, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		friends:       map[string]map[string]int64{},
		requests:      map[string]map[string]Request{},
		following:     edges{},
		followers:     edges{},
		blocks:        edges{},
		posts:         map[string]*Post{},
		likes:         map[string]set{},
		comments:      map[string][]Comment{},
		notifications: map[string][]*Notification{},
		cfg:           cfg,
		users:         users,
		pub:           pub,
		events:        events.Nop{},
		log:           log,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.store != nil {
		s.journal = data.NewJournal(s.store, s.record, log.Named("journal"))
	}
	return s
}

type change struct {
	topic string
	kind  hub.Kind
	key   string
	data  any
}

func (s *Service) publish(ctx context.Context, changes []change) {
	if s.pub == nil {
		return
	}
	for _, c := range changes {
		s.pub.Publish(ctx, c.topic, c.kind, c.key, c.data)
	}
}

func (s *Service) emit(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.events.Emit(ctx, e); err != nil {
		s.log.Warn("emit event", zap.String("type", e.Type), zap.Error(err))
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Service) nowMs() int64 { return s.now().UnixMilli() }
