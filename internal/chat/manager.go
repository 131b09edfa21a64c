// Package chat owns conversations: the per-user inbox index, DM and group
// threads, typing markers, read receipts and reactions. Every mutation is
// published as a typed change event on the matching topic so connected
// clients can update their views.
package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wishp/circles/internal/data"
	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/hub"
	"go.uber.org/zap"
)

// Publisher delivers change events to subscribed clients.
type Publisher interface {
	Publish(ctx context.Context, topic string, kind hub.Kind, key string, data any)
}

// Revoker ends a user's live subscriptions to topics they lost access to.
// Publishers that also implement it are told when someone leaves a group.
type Revoker interface {
	Revoke(ctx context.Context, uid string, topics ...string)
}

// Profile is the public part of a user used to label inbox rows.
type Profile struct {
	Name     string
	PhotoURL string
}

// Directory resolves user profiles.
type Directory interface {
	Profile(ctx context.Context, uid string) (Profile, bool)
}

// BlockChecker reports whether either user blocked the other.
type BlockChecker interface {
	Blocked(a, b string) bool
}

type Config struct {
	TypingWriteInterval time.Duration
	TypingIdle          time.Duration
	TypingStale         time.Duration
	MaxVideoSeconds     float64
}

func DefaultConfig() Config {
	return Config{
		TypingWriteInterval: 1500 * time.Millisecond,
		TypingIdle:          3 * time.Second,
		TypingStale:         4 * time.Second,
		MaxVideoSeconds:     60,
	}
}

type conversation struct {
	id      string
	kind    ChatType
	members []string // DM participants; groups use ChatManager.groups

	messages  map[string]*Message
	order     []string
	reactions map[string]map[string]map[string]bool // msg -> emoji -> uid
	seen      map[string]int64
	typing    map[string]TypingEntry
	lastWrite map[string]time.Time // last typing write per uid
	viewers   map[string]int       // uid -> open connections
}

func newConversation(id string, kind ChatType, members []string) *conversation {
	return &conversation{
		id:        id,
		kind:      kind,
		members:   members,
		messages:  map[string]*Message{},
		reactions: map[string]map[string]map[string]bool{},
		seen:      map[string]int64{},
		typing:    map[string]TypingEntry{},
		lastWrite: map[string]time.Time{},
		viewers:   map[string]int{},
	}
}

func (c *conversation) add(msg *Message) {
	c.messages[msg.ID] = msg
	c.order = append(c.order, msg.ID)
}

func (c *conversation) last() *Message {
	if len(c.order) == 0 {
		return nil
	}
	return c.messages[c.order[len(c.order)-1]]
}

// ChatManager holds all conversation state.
type ChatManager struct {
	mu sync.RWMutex

	cfg    Config
	pub    Publisher
	log    *zap.Logger
	events events.Emitter
	dir    Directory
	blocks BlockChecker

	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	inbox  inboxIndex
	convs  map[string]*conversation
	groups map[string]*Group

	typingTimers map[string]typingTimer
	typingGen    uint64

	store   data.StateStore
	journal *data.Journal
}

type Option func(*ChatManager)

func WithClock(now func() time.Time) Option { return func(m *ChatManager) { m.now = now } }
func WithDirectory(d Directory) Option      { return func(m *ChatManager) { m.dir = d } }
func WithBlocks(b BlockChecker) Option      { return func(m *ChatManager) { m.blocks = b } }
func WithEvents(e events.Emitter) Option    { return func(m *ChatManager) { m.events = e } }

func NewManager(cfg Config, pub Publisher, log *zap.Logger, opts ...Option) *ChatManager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &ChatManager{
		cfg:          cfg,
		pub:          pub,
		log:          log,
		events:       events.Nop{},
		now:          time.Now,
		afterFunc:    time.AfterFunc,
		inbox:        inboxIndex{},
		convs:        map[string]*conversation{},
		groups:       map[string]*Group{},
		typingTimers: map[string]typingTimer{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.store != nil {
		m.journal = data.NewJournal(m.store, m.record, log.Named("journal"))
	}
	return m
}

// Close stops pending typing timers and flushes unwritten state.
func (m *ChatManager) Close() {
	m.mu.Lock()
	for k, t := range m.typingTimers {
		t.timer.Stop()
		delete(m.typingTimers, k)
	}
	m.mu.Unlock()
	if err := m.journal.Close(context.Background()); err != nil {
		m.log.Warn("final state flush", zap.Error(err))
	}
}

type change struct {
	topic string
	kind  hub.Kind
	key   string
	data  any
}

// publish sends collected changes and queues them for the store. Must be
// called without m.mu held.
func (m *ChatManager) publish(ctx context.Context, changes []change) {
	m.persist(changes)
	if m.pub == nil {
		return
	}
	for _, c := range changes {
		m.pub.Publish(ctx, c.topic, c.kind, c.key, c.data)
	}
}

// revoke drops uid's subscriptions to chat id. Must be called without m.mu
// held.
func (m *ChatManager) revoke(ctx context.Context, uid, id string) {
	r, ok := m.pub.(Revoker)
	if !ok {
		return
	}
	r.Revoke(ctx, uid, append(Topics(id), groupTopic(id))...)
}

func (m *ChatManager) emit(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	if err := m.events.Emit(ctx, e); err != nil {
		m.log.Warn("emit event", zap.String("type", e.Type), zap.Error(err))
	}
}

func (m *ChatManager) profile(ctx context.Context, uid string) Profile {
	if m.dir == nil {
		return Profile{}
	}
	p, _ := m.dir.Profile(ctx, uid)
	return p
}

func (m *ChatManager) blocked(a, b string) bool {
	return m.blocks != nil && m.blocks.Blocked(a, b)
}

// resolve maps a target to its conversation, creating DM conversations on
// first use. Caller holds m.mu for writing.
func (m *ChatManager) resolve(uid string, t Target) (*conversation, error) {
	switch t.Type {
	case ChatDM:
		if t.ID == "" || t.ID == uid {
			return nil, ErrInvalid
		}
		id := DMID(uid, t.ID)
		c, ok := m.convs[id]
		if !ok {
			c = newConversation(id, ChatDM, []string{uid, t.ID})
			m.convs[id] = c
		}
		return c, nil
	case ChatGroup:
		g, ok := m.groups[t.ID]
		if !ok {
			return nil, ErrNotFound
		}
		if !g.Members[uid] {
			return nil, ErrForbidden
		}
		c, ok := m.convs[g.ID]
		if !ok {
			c = newConversation(g.ID, ChatGroup, nil)
			m.convs[g.ID] = c
		}
		return c, nil
	}
	return nil, ErrInvalid
}

// lookup is resolve without creating anything. Caller holds m.mu.
func (m *ChatManager) lookup(uid string, t Target) (*conversation, error) {
	switch t.Type {
	case ChatDM:
		if t.ID == "" || t.ID == uid {
			return nil, ErrInvalid
		}
		if c, ok := m.convs[DMID(uid, t.ID)]; ok {
			return c, nil
		}
		return nil, ErrNotFound
	case ChatGroup:
		g, ok := m.groups[t.ID]
		if !ok {
			return nil, ErrNotFound
		}
		if !g.Members[uid] {
			return nil, ErrForbidden
		}
		if c, ok := m.convs[g.ID]; ok {
			return c, nil
		}
		return nil, ErrNotFound
	}
	return nil, ErrInvalid
}

// members returns the uids taking part in c. Caller holds m.mu.
func (m *ChatManager) members(c *conversation) []string {
	if c.kind == ChatDM {
		return append([]string(nil), c.members...)
	}
	g, ok := m.groups[c.id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.Members))
	for uid := range g.Members {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// inboxID is the id of c's row in uid's inbox.
func inboxID(c *conversation, uid string) string {
	if c.kind == ChatGroup {
		return c.id
	}
	for _, u := range c.members {
		if u != uid {
			return u
		}
	}
	return ""
}

func (m *ChatManager) nowMs() int64 { return m.now().UnixMilli() }

// CanSubscribe reports whether uid may listen on a chat topic.
func (m *ChatManager) CanSubscribe(uid, topic string) bool {
	prefix, id, ok := strings.Cut(topic, "/")
	if !ok || id == "" {
		return false
	}
	switch prefix {
	case "userInboxes":
		return id == uid
	case "groupChats":
		m.mu.RLock()
		defer m.mu.RUnlock()
		g, ok := m.groups[id]
		return ok && g.Members[uid]
	case "messages", "reactions", "typing", "chatSeen":
		m.mu.RLock()
		defer m.mu.RUnlock()
		if g, ok := m.groups[id]; ok {
			return g.Members[uid]
		}
		a, b, ok := strings.Cut(id, "_")
		return ok && (a == uid || b == uid) && DMID(a, b) == id
	}
	return false
}
