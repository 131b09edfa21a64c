package room

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wishp/circles/internal/data"
	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/hub"
	"go.uber.org/zap"
)

// Publisher delivers change events to subscribed clients.
type Publisher interface {
	Publish(ctx context.Context, topic string, kind hub.Kind, key string, data any)
}

type Config struct {
	Tick            time.Duration
	SwitchCooldown  time.Duration
	MinSession      time.Duration
	CompletionRatio float64
	MaxMessages     int
}

func DefaultConfig() Config {
	return Config{
		Tick:            time.Second,
		SwitchCooldown:  time.Second,
		MinSession:      10 * time.Second,
		CompletionRatio: 0.8,
		MaxMessages:     200,
	}
}

func Topic(code string) string         { return "rooms/" + code }
func MessagesTopic(code string) string { return "rooms/" + code + "/messages" }

// Manager owns every live room. The server is the single writer of room
// state, so host checks and phase switches are decided under one lock.
type Manager struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	accs       map[string]map[string]*accumulator // code -> participant key
	lastSwitch map[string]time.Time

	cfg    Config
	pub    Publisher
	rec    Recorder
	events events.Emitter
	log    *zap.Logger

	now     func() time.Time
	newCode func() string
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithRecorder(r Recorder) Option        { return func(m *Manager) { m.rec = r } }
func WithEvents(e events.Emitter) Option    { return func(m *Manager) { m.events = e } }

func NewManager(cfg Config, pub Publisher, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		rooms:      map[string]*Room{},
		accs:       map[string]map[string]*accumulator{},
		lastSwitch: map[string]time.Time{},
		cfg:        cfg,
		pub:        pub,
		events:     events.Nop{},
		log:        log,
		now:        time.Now,
		newCode:    newCode,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newCode returns a 6 character room code without look-alike characters.
func newCode() string {
	u := uuid.New()
	b := make([]byte, 6)
	for i := range b {
		b[i] = codeAlphabet[int(u[i])%len(codeAlphabet)]
	}
	return string(b)
}

func newKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NormalizeCode upper-cases and trims a code typed by a user.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// outcome is the work left after a mutation, done without m.mu held.
type outcome struct {
	code     string
	kind     hub.Kind
	room     Room
	line     *ChatLine
	sessions []data.StudySession
}

func (m *Manager) finish(ctx context.Context, o outcome) {
	if m.pub != nil {
		switch {
		case o.line != nil:
			m.pub.Publish(ctx, MessagesTopic(o.code), hub.Added, o.line.ID, *o.line)
		case o.kind == hub.Removed:
			m.pub.Publish(ctx, Topic(o.code), hub.Removed, o.code, nil)
		case o.kind != "":
			m.pub.Publish(ctx, Topic(o.code), o.kind, o.code, o.room)
		}
	}
	m.record(ctx, o.sessions)
	if o.kind == hub.Removed {
		m.emit(ctx, events.Event{Type: events.RoomClosed, Ref: o.code})
		m.log.Info("room closed", zap.String("room", o.code))
	}
}

func (m *Manager) emit(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	if err := m.events.Emit(ctx, e); err != nil {
		m.log.Warn("emit event", zap.String("type", e.Type), zap.Error(err))
	}
}

func (m *Manager) view(r *Room, key string, now time.Time) View {
	return View{
		Room:           r.clone(),
		Key:            key,
		IsHost:         key != "" && key == r.HostKey,
		DisplaySeconds: DisplaySeconds(r.Timer, now),
		Status:         status(r, now),
	}
}

// member returns the room and checks key belongs to it. Caller holds m.mu.
func (m *Manager) member(code, key string) (*Room, error) {
	r, ok := m.rooms[NormalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if _, ok := r.Participants[key]; !ok {
		return nil, ErrNotParticipant
	}
	return r, nil
}

// host is member plus the host check. Caller holds m.mu.
func (m *Manager) host(code, key string) (*Room, error) {
	r, err := m.member(code, key)
	if err != nil {
		return nil, err
	}
	if r.HostKey != key {
		return nil, ErrNotHost
	}
	return r, nil
}

// elect picks the participant who joined first; ties go to the lower key.
func elect(r *Room) string {
	keys := make([]string, 0, len(r.Participants))
	for k := range r.Participants {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := r.Participants[keys[i]], r.Participants[keys[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return a.Key < b.Key
	})
	return keys[0]
}

// Create opens a room with uid as its only participant and host.
func (m *Manager) Create(ctx context.Context, uid, name, title string) (View, error) {
	now := m.now()
	ms := now.UnixMilli()
	key := newKey()

	m.mu.Lock()
	code := m.newCode()
	for m.rooms[code] != nil {
		code = m.newCode()
	}
	r := &Room{
		Code:         code,
		Name:         strings.TrimSpace(title),
		HostKey:      key,
		Timer:        Timer{Mode: ModeStopwatch, Phase: PhaseFocus},
		Participants: map[string]Participant{key: {Key: key, UID: uid, Name: name, JoinedAt: ms}},
		Messages:     []ChatLine{},
		Version:      1,
		CreatedAt:    ms,
	}
	m.rooms[code] = r
	m.accs[code] = map[string]*accumulator{key: {uid: uid}}
	v := m.view(r, key, now)
	m.mu.Unlock()

	m.finish(ctx, outcome{code: code, kind: hub.Added, room: v.Room})
	m.emit(ctx, events.Event{Type: events.RoomCreated, Actor: uid, Ref: code})
	m.log.Info("room created", zap.String("room", code), zap.String("uid", uid))
	return v, nil
}

// Join adds uid to a room under a fresh participant key.
func (m *Manager) Join(ctx context.Context, code, uid, name string) (View, error) {
	now := m.now()
	ms := now.UnixMilli()
	key := newKey()

	m.mu.Lock()
	r, ok := m.rooms[NormalizeCode(code)]
	if !ok {
		m.mu.Unlock()
		return View{}, ErrRoomNotFound
	}
	r.Participants[key] = Participant{Key: key, UID: uid, Name: name, JoinedAt: ms}
	a := &accumulator{uid: uid}
	if r.Timer.IsRunning {
		a.start(ms)
	}
	m.accs[r.Code][key] = a
	v := m.view(r, key, now)
	m.mu.Unlock()

	m.finish(ctx, outcome{code: r.Code, kind: hub.Changed, room: v.Room})
	return v, nil
}

// Leave removes a participant. The last one out closes the room; a leaving
// host hands over to the earliest remaining joiner.
func (m *Manager) Leave(ctx context.Context, code, key string) error {
	now := m.now()
	ms := now.UnixMilli()

	m.mu.Lock()
	r, err := m.member(code, key)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	o := outcome{code: r.Code, kind: hub.Changed}
	if a, ok := m.accs[r.Code][key]; ok {
		if s, ok := m.flush(r, a, ms, false); ok {
			o.sessions = append(o.sessions, s)
		}
		delete(m.accs[r.Code], key)
	}
	delete(r.Participants, key)
	if len(r.Participants) == 0 {
		o.sessions = append(o.sessions, m.removeLocked(r, ms)...)
		o.kind = hub.Removed
	} else if _, ok := r.Participants[r.HostKey]; !ok {
		r.HostKey = elect(r)
		r.Version++
		m.log.Info("host handed over", zap.String("room", r.Code), zap.String("host_key", r.HostKey))
	}
	o.room = r.clone()
	m.mu.Unlock()

	m.finish(ctx, o)
	return nil
}

// removeLocked drops a room and flushes everyone still in it.
func (m *Manager) removeLocked(r *Room, ms int64) []data.StudySession {
	sessions := m.flushAll(r, ms, false)
	delete(m.rooms, r.Code)
	delete(m.accs, r.Code)
	delete(m.lastSwitch, r.Code)
	return sessions
}

// Delete closes the room for everyone. Host only.
func (m *Manager) Delete(ctx context.Context, code, key string) error {
	m.mu.Lock()
	r, err := m.host(code, key)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	sessions := m.removeLocked(r, m.now().UnixMilli())
	m.mu.Unlock()

	m.finish(ctx, outcome{code: r.Code, kind: hub.Removed, sessions: sessions})
	return nil
}

// Toggle starts or pauses the timer. Host only.
func (m *Manager) Toggle(ctx context.Context, code, key string) (View, error) {
	now := m.now()
	ms := now.UnixMilli()

	m.mu.Lock()
	r, err := m.host(code, key)
	if err != nil {
		m.mu.Unlock()
		return View{}, err
	}
	if r.Timer.IsRunning {
		r.Timer.Elapsed = elapsedMs(r.Timer, now)
		r.Timer.IsRunning = false
		m.pauseAll(r.Code, ms)
	} else {
		r.Timer.IsRunning = true
		r.Timer.StartTime = ms
		m.startAll(r.Code, ms)
	}
	r.Version++
	v := m.view(r, key, now)
	m.mu.Unlock()

	m.finish(ctx, outcome{code: r.Code, kind: hub.Changed, room: v.Room})
	return v, nil
}

// Reset stops the timer and puts it back to the start of a focus phase.
// Host only.
func (m *Manager) Reset(ctx context.Context, code, key string) (View, error) {
	now := m.now()

	m.mu.Lock()
	r, err := m.host(code, key)
	if err != nil {
		m.mu.Unlock()
		return View{}, err
	}
	sessions := m.flushAll(r, now.UnixMilli(), false)
	r.Timer = Timer{Mode: r.Timer.Mode, Phase: PhaseFocus, Config: r.Timer.Config}
	r.Version++
	v := m.view(r, key, now)
	m.mu.Unlock()

	m.finish(ctx, outcome{code: r.Code, kind: hub.Changed, room: v.Room, sessions: sessions})
	return v, nil
}

// SetMode switches the timer mode and resets it. custom is read only for
// ModeCustom. Host only.
func (m *Manager) SetMode(ctx context.Context, code, key string, mode Mode, custom PhaseConfig) (View, error) {
	cfg, err := ConfigFor(mode, custom)
	if err != nil {
		return View{}, err
	}
	now := m.now()

	m.mu.Lock()
	r, err := m.host(code, key)
	if err != nil {
		m.mu.Unlock()
		return View{}, err
	}
	sessions := m.flushAll(r, now.UnixMilli(), false)
	r.Timer = Timer{Mode: mode, Phase: PhaseFocus, Config: cfg}
	r.Version++
	v := m.view(r, key, now)
	m.mu.Unlock()

	m.finish(ctx, outcome{code: r.Code, kind: hub.Changed, room: v.Room, sessions: sessions})
	return v, nil
}

// AdvancePhase moves a finished countdown to its next phase and keeps it
// running. It succeeds only for the host, only if version still matches the
// room, only once the countdown is at zero and only after the switch
// cooldown, so duplicate ticks cannot advance twice.
func (m *Manager) AdvancePhase(ctx context.Context, code, key string, version int64) (View, error) {
	now := m.now()
	ms := now.UnixMilli()

	m.mu.Lock()
	r, err := m.host(code, key)
	if err != nil {
		m.mu.Unlock()
		return View{}, err
	}
	if r.Version != version {
		m.mu.Unlock()
		return View{}, ErrVersionConflict
	}
	if !due(r.Timer, now) {
		m.mu.Unlock()
		return View{}, ErrNotDue
	}
	if last, ok := m.lastSwitch[r.Code]; ok && now.Sub(last) < m.cfg.SwitchCooldown {
		m.mu.Unlock()
		return View{}, ErrCooldown
	}
	sessions := m.flushAll(r, ms, true)
	r.Timer.Phase = nextPhase(r.Timer.Phase)
	r.Timer.StartTime = ms
	r.Timer.Elapsed = 0
	r.Timer.IsRunning = true
	r.Version++
	m.lastSwitch[r.Code] = now
	v := m.view(r, key, now)
	m.mu.Unlock()

	m.finish(ctx, outcome{code: r.Code, kind: hub.Changed, room: v.Room, sessions: sessions})
	m.log.Debug("phase advanced", zap.String("room", r.Code), zap.String("phase", string(v.Room.Timer.Phase)))
	return v, nil
}

// ClaimHost lets a participant take over as host when it is the earliest
// remaining joiner. Claiming as the current host is a no-op.
func (m *Manager) ClaimHost(ctx context.Context, code, key string) (View, error) {
	now := m.now()

	m.mu.Lock()
	r, err := m.member(code, key)
	if err != nil {
		m.mu.Unlock()
		return View{}, err
	}
	if r.HostKey == key {
		v := m.view(r, key, now)
		m.mu.Unlock()
		return v, nil
	}
	if _, ok := r.Participants[r.HostKey]; ok || elect(r) != key {
		m.mu.Unlock()
		return View{}, ErrNotHost
	}
	r.HostKey = key
	r.Version++
	v := m.view(r, key, now)
	m.mu.Unlock()

	m.finish(ctx, outcome{code: r.Code, kind: hub.Changed, room: v.Room})
	return v, nil
}

// SendMessage posts a chat line to the room.
func (m *Manager) SendMessage(ctx context.Context, code, key, text string) (ChatLine, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatLine{}, ErrEmptyMessage
	}
	m.mu.Lock()
	r, err := m.member(code, key)
	if err != nil {
		m.mu.Unlock()
		return ChatLine{}, err
	}
	p := r.Participants[key]
	line := ChatLine{ID: newKey(), Key: key, UID: p.UID, Name: p.Name, Text: text, Timestamp: m.now().UnixMilli()}
	r.Messages = append(r.Messages, line)
	if limit := m.cfg.MaxMessages; limit > 0 && len(r.Messages) > limit {
		r.Messages = append([]ChatLine(nil), r.Messages[len(r.Messages)-limit:]...)
	}
	m.mu.Unlock()

	m.finish(ctx, outcome{code: r.Code, line: &line})
	return line, nil
}

// Get returns a copy of a room.
func (m *Manager) Get(code string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[NormalizeCode(code)]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return r.clone(), nil
}

// View returns the room as seen by key right now. key may be empty for an
// observer.
func (m *Manager) View(code, key string) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[NormalizeCode(code)]
	if !ok {
		return View{}, ErrRoomNotFound
	}
	return m.view(r, key, m.now()), nil
}

// IsParticipant reports whether uid currently sits in the room.
func (m *Manager) IsParticipant(code, uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[NormalizeCode(code)]
	if !ok {
		return false
	}
	for _, p := range r.Participants {
		if p.UID == uid {
			return true
		}
	}
	return false
}

// Len is the number of live rooms.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
