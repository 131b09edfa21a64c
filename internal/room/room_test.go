package room

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wishp/circles/internal/data"
	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/hub"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu       sync.Mutex
	sessions []data.StudySession
}

func (r *recorder) RecordSession(_ context.Context, s data.StudySession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	return nil
}

func (r *recorder) take() []data.StudySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sessions
	r.sessions = nil
	return out
}

type roomPub struct {
	mu    sync.Mutex
	kinds map[string][]hub.Kind
}

func (p *roomPub) Publish(_ context.Context, topic string, kind hub.Kind, _ string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kinds == nil {
		p.kinds = map[string][]hub.Kind{}
	}
	p.kinds[topic] = append(p.kinds[topic], kind)
}

func (p *roomPub) on(topic string) []hub.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hub.Kind(nil), p.kinds[topic]...)
}

var ctx = context.Background()

func newTestManager(t *testing.T) (*Manager, *fakeClock, *recorder, *roomPub) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	pub := &roomPub{}
	m := NewManager(DefaultConfig(), pub, nil, WithClock(clk.Now), WithRecorder(rec))
	return m, clk, rec, pub
}

func TestDisplaySeconds(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	sw := Timer{Mode: ModeStopwatch, Elapsed: 5000, IsRunning: true, StartTime: now.Add(-3 * time.Second).UnixMilli()}
	assert.Equal(t, int64(8), DisplaySeconds(sw, now))
	sw.IsRunning = false
	assert.Equal(t, int64(5), DisplaySeconds(sw, now))

	cd := Timer{Mode: ModeShort, Phase: PhaseFocus, Config: PhaseConfig{Focus: 25, Break: 5}}
	assert.Equal(t, int64(1500), DisplaySeconds(cd, now))
	cd.Phase = PhaseBreak
	assert.Equal(t, int64(300), DisplaySeconds(cd, now))
	cd.Elapsed = 400_000
	assert.Equal(t, int64(0), DisplaySeconds(cd, now))

	assert.Equal(t, "25:00", Clock(1500))
	assert.Equal(t, "1:02:03", Clock(3723))
}

func TestConfigFor(t *testing.T) {
	c, err := ConfigFor(ModeLong, PhaseConfig{})
	require.NoError(t, err)
	assert.Equal(t, PhaseConfig{Focus: 50, Break: 10}, c)

	c, err = ConfigFor(ModeCustom, PhaseConfig{Focus: 40, Break: 8})
	require.NoError(t, err)
	assert.Equal(t, 40, c.Focus)

	_, err = ConfigFor(ModeCustom, PhaseConfig{Focus: 0, Break: 5})
	assert.ErrorIs(t, err, ErrInvalidMode)
	_, err = ConfigFor("90/30", PhaseConfig{})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestRoom_CreateJoinHostFailover(t *testing.T) {
	m, clk, _, pub := newTestManager(t)

	a, err := m.Create(ctx, "uid-a", "Ana", "Finals")
	require.NoError(t, err)
	code := a.Room.Code
	assert.Len(t, code, 6)
	assert.True(t, a.IsHost)
	assert.Equal(t, a.Key, a.Room.HostKey)
	assert.Equal(t, ModeStopwatch, a.Room.Timer.Mode)
	require.Len(t, a.Room.Participants, 1)
	assert.Equal(t, "uid-a", a.Room.Participants[a.Key].UID)

	clk.Advance(time.Second)
	b, err := m.Join(ctx, " "+strings.ToLower(code)+" ", "uid-b", "Ben")
	require.NoError(t, err)
	assert.Len(t, b.Room.Participants, 2)
	assert.False(t, b.IsHost)

	_, err = m.Toggle(ctx, code, b.Key)
	assert.ErrorIs(t, err, ErrNotHost)

	clk.Advance(time.Second)
	started, err := m.Toggle(ctx, code, a.Key)
	require.NoError(t, err)
	assert.True(t, started.Room.Timer.IsRunning)
	assert.Equal(t, clk.Now().UnixMilli(), started.Room.Timer.StartTime)

	// the host drops out
	require.NoError(t, m.Leave(ctx, code, a.Key))
	v, err := m.View(code, b.Key)
	require.NoError(t, err)
	assert.True(t, v.IsHost)
	assert.Equal(t, b.Key, v.Room.HostKey)

	_, err = m.ClaimHost(ctx, code, b.Key)
	require.NoError(t, err)

	paused, err := m.Toggle(ctx, code, b.Key)
	require.NoError(t, err)
	assert.False(t, paused.Room.Timer.IsRunning)

	require.NoError(t, m.Leave(ctx, code, b.Key))
	_, err = m.Get(code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, 0, m.Len())

	kinds := pub.on(Topic(code))
	require.NotEmpty(t, kinds)
	assert.Equal(t, hub.Added, kinds[0])
	assert.Equal(t, hub.Removed, kinds[len(kinds)-1])
}

func TestRoom_FailoverPicksEarliestJoiner(t *testing.T) {
	m, clk, _, _ := newTestManager(t)
	host, err := m.Create(ctx, "h", "Host", "")
	require.NoError(t, err)
	code := host.Room.Code

	clk.Advance(time.Second)
	first, err := m.Join(ctx, code, "u1", "First")
	require.NoError(t, err)
	clk.Advance(time.Second)
	second, err := m.Join(ctx, code, "u2", "Second")
	require.NoError(t, err)

	_, err = m.ClaimHost(ctx, code, first.Key)
	assert.ErrorIs(t, err, ErrNotHost)

	require.NoError(t, m.Leave(ctx, code, host.Key))
	r, err := m.Get(code)
	require.NoError(t, err)
	assert.Equal(t, first.Key, r.HostKey)

	_, err = m.ClaimHost(ctx, code, second.Key)
	assert.ErrorIs(t, err, ErrNotHost)
	_, err = m.Toggle(ctx, code, second.Key)
	assert.ErrorIs(t, err, ErrNotHost)

	assert.ErrorIs(t, m.Leave(ctx, code, host.Key), ErrNotParticipant)
	assert.ErrorIs(t, m.Leave(ctx, "ZZZZZZ", first.Key), ErrRoomNotFound)
}

func TestElect_TieBreaksOnKey(t *testing.T) {
	r := &Room{Participants: map[string]Participant{
		"k2": {Key: "k2", JoinedAt: 10},
		"k1": {Key: "k1", JoinedAt: 10},
		"k0": {Key: "k0", JoinedAt: 11},
	}}
	assert.Equal(t, "k1", elect(r))
}

func TestRoom_CountdownReachesZeroThenAdvances(t *testing.T) {
	m, clk, _, _ := newTestManager(t)
	v, err := m.Create(ctx, "h", "Host", "")
	require.NoError(t, err)
	code, key := v.Room.Code, v.Key

	_, err = m.SetMode(ctx, code, key, ModeShort, PhaseConfig{})
	require.NoError(t, err)
	v, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)

	prev := v.DisplaySeconds
	assert.Equal(t, int64(1500), prev)
	for i := 0; i < 1500; i++ {
		clk.Advance(time.Second)
		cur, err := m.View(code, key)
		require.NoError(t, err)
		assert.Less(t, cur.DisplaySeconds, prev)
		prev = cur.DisplaySeconds
		if prev > 0 {
			_, err = m.AdvancePhase(ctx, code, key, cur.Room.Version)
			require.ErrorIs(t, err, ErrNotDue)
		}
	}
	assert.Equal(t, int64(0), prev)

	cur, _ := m.View(code, key)
	_, err = m.AdvancePhase(ctx, code, key, cur.Room.Version-1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	next, err := m.AdvancePhase(ctx, code, key, cur.Room.Version)
	require.NoError(t, err)
	assert.Equal(t, PhaseBreak, next.Room.Timer.Phase)
	assert.True(t, next.Room.Timer.IsRunning)
	assert.Equal(t, int64(300), next.DisplaySeconds)
	assert.Equal(t, cur.Room.Version+1, next.Room.Version)

	// a duplicate advance with the old version is rejected
	_, err = m.AdvancePhase(ctx, code, key, cur.Room.Version)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestRoom_AdvanceCooldown(t *testing.T) {
	m, clk, _, _ := newTestManager(t)
	v, err := m.Create(ctx, "h", "Host", "")
	require.NoError(t, err)
	code, key := v.Room.Code, v.Key
	_, err = m.SetMode(ctx, code, key, ModeCustom, PhaseConfig{Focus: 1, Break: 1})
	require.NoError(t, err)
	_, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	cur, _ := m.View(code, key)
	_, err = m.AdvancePhase(ctx, code, key, cur.Room.Version)
	require.NoError(t, err)

	// force the new phase to be due straight away
	m.mu.Lock()
	m.rooms[code].Timer.Elapsed = 60_000
	m.mu.Unlock()

	cur, _ = m.View(code, key)
	_, err = m.AdvancePhase(ctx, code, key, cur.Room.Version)
	assert.ErrorIs(t, err, ErrCooldown)

	clk.Advance(time.Second)
	_, err = m.AdvancePhase(ctx, code, key, cur.Room.Version)
	require.NoError(t, err)
}

func TestRoom_TickAdvancesForHost(t *testing.T) {
	m, clk, _, _ := newTestManager(t)
	v, err := m.Create(ctx, "h", "Host", "")
	require.NoError(t, err)
	code, key := v.Room.Code, v.Key
	_, err = m.SetMode(ctx, code, key, ModeCustom, PhaseConfig{Focus: 1, Break: 1})
	require.NoError(t, err)
	_, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	m.Tick(ctx)
	r, _ := m.Get(code)
	assert.Equal(t, PhaseFocus, r.Timer.Phase)

	clk.Advance(30 * time.Second)
	m.Tick(ctx)
	m.Tick(ctx)
	r, _ = m.Get(code)
	assert.Equal(t, PhaseBreak, r.Timer.Phase)
	assert.Equal(t, clk.Now().UnixMilli(), r.Timer.StartTime)
}

func TestRoom_SessionAccounting(t *testing.T) {
	m, clk, rec, _ := newTestManager(t)
	evs := events.NewRecorder(16)
	m.events = evs

	host, err := m.Create(ctx, "h", "Host", "")
	require.NoError(t, err)
	code, key := host.Room.Code, host.Key
	_, err = m.SetMode(ctx, code, key, ModeShort, PhaseConfig{})
	require.NoError(t, err)
	_, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)

	clk.Advance(1495 * time.Second)
	late, err := m.Join(ctx, code, "late", "Late")
	require.NoError(t, err)

	clk.Advance(5 * time.Second)
	m.Tick(ctx)
	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, "h", got[0].UID)
	assert.Equal(t, int64(1500), got[0].DurationSeconds)
	assert.True(t, got[0].Completed)
	assert.Equal(t, "focus", got[0].Phase)
	assert.Equal(t, code, got[0].RoomCode)

	// break time is never recorded
	clk.Advance(300 * time.Second)
	m.Tick(ctx)
	assert.Empty(t, rec.take())

	// pausing records nothing; the stretch continues on resume
	clk.Advance(30 * time.Second)
	_, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)
	assert.Empty(t, rec.take())
	clk.Advance(time.Minute)
	_, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)

	clk.Advance(9 * time.Second)
	require.NoError(t, m.Leave(ctx, code, late.Key))
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].UID)
	assert.Equal(t, int64(39), got[0].DurationSeconds)
	assert.False(t, got[0].Completed)

	_, err = m.Reset(ctx, code, key)
	require.NoError(t, err)
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, int64(39), got[0].DurationSeconds)

	// too short to count
	_, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)
	clk.Advance(9 * time.Second)
	require.NoError(t, m.Delete(ctx, code, key))
	assert.Empty(t, rec.take())

	var types []string
	for _, e := range evs.Drain() {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, events.SessionRecorded)
	assert.Contains(t, types, events.RoomClosed)
}

func TestRoom_PauseResumeWithinFocusIsOneSession(t *testing.T) {
	m, clk, rec, _ := newTestManager(t)
	v, err := m.Create(ctx, "h", "Host", "")
	require.NoError(t, err)
	code, key := v.Room.Code, v.Key
	_, err = m.SetMode(ctx, code, key, ModeShort, PhaseConfig{})
	require.NoError(t, err)

	start := clk.Now()
	_, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)
	clk.Advance(15 * time.Minute)
	_, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = m.Toggle(ctx, code, key)
	require.NoError(t, err)
	assert.Empty(t, rec.take())

	clk.Advance(10 * time.Minute)
	m.Tick(ctx)

	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, int64(1500), got[0].DurationSeconds)
	assert.True(t, got[0].Completed)
	assert.True(t, start.Equal(got[0].StartedAt), "started at first start, not at resume")
	assert.True(t, clk.Now().Equal(got[0].EndedAt))

	r, err := m.Get(code)
	require.NoError(t, err)
	assert.Equal(t, PhaseBreak, r.Timer.Phase)
}

func TestRoom_StopwatchSessionOnReset(t *testing.T) {
	m, clk, rec, _ := newTestManager(t)
	v, err := m.Create(ctx, "h", "Host", "")
	require.NoError(t, err)
	_, err = m.Toggle(ctx, v.Room.Code, v.Key)
	require.NoError(t, err)
	clk.Advance(45 * time.Second)
	reset, err := m.Reset(ctx, v.Room.Code, v.Key)
	require.NoError(t, err)
	assert.False(t, reset.Room.Timer.IsRunning)
	assert.Equal(t, int64(0), reset.DisplaySeconds)

	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, "stopwatch", got[0].Mode)
	assert.Equal(t, int64(45), got[0].DurationSeconds)
	assert.False(t, got[0].Completed)
}

func TestRoom_Messages(t *testing.T) {
	m, _, _, pub := newTestManager(t)
	v, err := m.Create(ctx, "h", "Host", "")
	require.NoError(t, err)

	_, err = m.SendMessage(ctx, v.Room.Code, v.Key, "  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = m.SendMessage(ctx, v.Room.Code, "stranger", "hi")
	assert.ErrorIs(t, err, ErrNotParticipant)

	line, err := m.SendMessage(ctx, v.Room.Code, v.Key, " focus time ")
	require.NoError(t, err)
	assert.Equal(t, "focus time", line.Text)
	assert.Equal(t, "Host", line.Name)

	r, _ := m.Get(v.Room.Code)
	require.Len(t, r.Messages, 1)
	assert.Equal(t, []hub.Kind{hub.Added}, pub.on(MessagesTopic(v.Room.Code)))
	assert.True(t, m.IsParticipant(v.Room.Code, "h"))
	assert.False(t, m.IsParticipant(v.Room.Code, "x"))
}

func TestRoom_DeleteHostOnly(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	v, err := m.Create(ctx, "h", "Host", "")
	require.NoError(t, err)
	guest, err := m.Join(ctx, v.Room.Code, "g", "Guest")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Delete(ctx, v.Room.Code, guest.Key), ErrNotHost)
	require.NoError(t, m.Delete(ctx, v.Room.Code, v.Key))
	_, err = m.Join(ctx, v.Room.Code, "g", "Guest")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultConfig()
	cfg.Tick = 5 * time.Millisecond
	m := NewManager(cfg, nil, nil)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(runCtx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
