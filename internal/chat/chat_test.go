package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/hub"
	"github.com/wishp/circles/internal/media"
)

type published struct {
	topic string
	kind  hub.Kind
	key   string
	data  any
}

type fakePub struct {
	mu      sync.Mutex
	got     []published
	revoked map[string][]string
}

func (p *fakePub) Publish(_ context.Context, topic string, kind hub.Kind, key string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, published{topic, kind, key, data})
}

func (p *fakePub) Revoke(_ context.Context, uid string, topics ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.revoked == nil {
		p.revoked = map[string][]string{}
	}
	p.revoked[uid] = append(p.revoked[uid], topics...)
}

func (p *fakePub) revokedFor(uid string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revoked[uid]
}

func (p *fakePub) on(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.got {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

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

type directory map[string]Profile

func (d directory) Profile(_ context.Context, uid string) (Profile, bool) {
	p, ok := d[uid]
	return p, ok
}

type blockSet map[[2]string]bool

func (b blockSet) Blocked(x, y string) bool { return b[[2]string{x, y}] || b[[2]string{y, x}] }

// pendingTimers captures idle callbacks so tests fire them by hand.
type pendingTimers struct {
	mu  sync.Mutex
	fns []func()
}

func (p *pendingTimers) afterFunc(_ time.Duration, fn func()) *time.Timer {
	p.mu.Lock()
	p.fns = append(p.fns, fn)
	p.mu.Unlock()
	return time.NewTimer(time.Hour)
}

func (p *pendingTimers) fireLast() {
	p.mu.Lock()
	fn := p.fns[len(p.fns)-1]
	p.mu.Unlock()
	fn()
}

func newTestManager(t *testing.T) (*ChatManager, *fakePub, *fakeClock) {
	t.Helper()
	pub := &fakePub{}
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	dir := directory{
		"alice": {Name: "Alice", PhotoURL: "https://img/alice.jpg"},
		"bob":   {Name: "Bob"},
		"cara":  {Name: "Cara"},
	}
	m := NewManager(DefaultConfig(), pub, nil, WithClock(clk.Now), WithDirectory(dir))
	t.Cleanup(m.Close)
	return m, pub, clk
}

var ctx = context.Background()

func dm(uid string) Target    { return Target{Type: ChatDM, ID: uid} }
func group(id string) Target { return Target{Type: ChatGroup, ID: id} }
func text(s string) Draft    { return Draft{Text: s} }

func TestDMID_Symmetric(t *testing.T) {
	assert.Equal(t, DMID("bob", "alice"), DMID("alice", "bob"))
	assert.Equal(t, "alice_bob", DMID("bob", "alice"))
}

func TestPushKey_Ordered(t *testing.T) {
	a := PushKey()
	b := PushKey()
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}

func TestSendMessage_DMUnreadScenario(t *testing.T) {
	m, pub, clk := newTestManager(t)

	_, err := m.SendMessage(ctx, "alice", "Alice", dm("bob"), text("hi"))
	require.NoError(t, err)

	row, ok := m.InboxItem("bob", "alice")
	require.True(t, ok)
	assert.Equal(t, 1, row.UnreadCount)
	assert.Equal(t, "Alice", row.Name)
	assert.Equal(t, "https://img/alice.jpg", row.PhotoURL)
	assert.Equal(t, "hi", row.LastMessage)

	own, ok := m.InboxItem("alice", "bob")
	require.True(t, ok)
	assert.Equal(t, 0, own.UnreadCount)
	assert.Equal(t, "Bob", own.Name)

	clk.Advance(time.Second)
	_, err = m.SendMessage(ctx, "alice", "Alice", dm("bob"), text("still there?"))
	require.NoError(t, err)
	row, _ = m.InboxItem("bob", "alice")
	assert.Equal(t, 2, row.UnreadCount)

	th, err := m.OpenChat(ctx, "bob", dm("alice"))
	require.NoError(t, err)
	assert.Len(t, th.Messages, 2)
	row, _ = m.InboxItem("bob", "alice")
	assert.Equal(t, 0, row.UnreadCount)

	after, _ := m.InboxItem("alice", "bob")
	assert.Equal(t, own.UnreadCount, after.UnreadCount)
	assert.Equal(t, 0, m.UnreadTotal("bob"))

	added := pub.on(InboxTopic("bob"))
	require.NotEmpty(t, added)
	assert.Equal(t, hub.Added, added[0].kind)
}

func TestSendMessage_ViewerGetsNoUnread(t *testing.T) {
	m, _, clk := newTestManager(t)
	_, err := m.SendMessage(ctx, "alice", "Alice", dm("bob"), text("one"))
	require.NoError(t, err)
	_, err = m.OpenChat(ctx, "bob", dm("alice"))
	require.NoError(t, err)

	clk.Advance(time.Second)
	msg, err := m.SendMessage(ctx, "alice", "Alice", dm("bob"), text("two"))
	require.NoError(t, err)
	row, _ := m.InboxItem("bob", "alice")
	assert.Equal(t, 0, row.UnreadCount)

	r, err := m.SeenBy("alice", dm("bob"))
	require.NoError(t, err)
	assert.Equal(t, msg.ID, r.MessageID)
	assert.Equal(t, []string{"bob"}, r.SeenBy)

	require.NoError(t, m.CloseChat(ctx, "bob", dm("alice")))
	clk.Advance(time.Second)
	_, err = m.SendMessage(ctx, "alice", "Alice", dm("bob"), text("three"))
	require.NoError(t, err)
	row, _ = m.InboxItem("bob", "alice")
	assert.Equal(t, 1, row.UnreadCount)
}

func TestInbox_SortedNewestFirst(t *testing.T) {
	m, _, clk := newTestManager(t)
	_, err := m.SendMessage(ctx, "bob", "Bob", dm("alice"), text("first"))
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = m.SendMessage(ctx, "cara", "Cara", dm("alice"), text("second"))
	require.NoError(t, err)

	list := m.Inbox("alice")
	require.Len(t, list, 2)
	assert.Equal(t, "cara", list[0].ID)
	assert.Equal(t, "bob", list[1].ID)
}

func TestSendMessage_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.SendMessage(ctx, "alice", "Alice", dm("bob"), text("   "))
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = m.SendMessage(ctx, "alice", "Alice", dm("alice"), text("me"))
	assert.ErrorIs(t, err, ErrInvalid)

	long := Draft{Type: MessageVideo, Media: &Media{URL: "https://v/1.mp4", Duration: 61}}
	_, err = m.SendMessage(ctx, "alice", "Alice", dm("bob"), long)
	assert.ErrorIs(t, err, media.ErrVideoTooLong)

	_, err = m.SendMessage(ctx, "alice", "Alice", dm("bob"), Draft{Text: "x", ReplyTo: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, m.Inbox("bob"))
	assert.Empty(t, m.Inbox("alice"))

	ok := Draft{Type: MessageVideo, Media: &Media{URL: "https://v/1.mp4", Duration: 59.5}}
	msg, err := m.SendMessage(ctx, "alice", "Alice", dm("bob"), ok)
	require.NoError(t, err)
	assert.Equal(t, MessageVideo, msg.Type)
	row, _ := m.InboxItem("bob", "alice")
	assert.Equal(t, "Sent a video", row.LastMessage)
}

func TestSendMessage_Blocked(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.blocks = blockSet{{"bob", "alice"}: true}
	_, err := m.SendMessage(ctx, "alice", "Alice", dm("bob"), text("hi"))
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Empty(t, m.Inbox("bob"))
}

func TestTyping_Blocked(t *testing.T) {
	m, pub, _ := newTestManager(t)
	m.blocks = blockSet{{"bob", "alice"}: true}
	_, err := m.Typing(ctx, "alice", "Alice", dm("bob"))
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Empty(t, pub.on(typingTopic(DMID("alice", "bob"))))
	_, err = m.Typers("bob", dm("alice"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessage_ReplyPreview(t *testing.T) {
	m, _, _ := newTestManager(t)
	long := "this is a rather long message that should be cut short when quoted in a reply"
	orig, err := m.SendMessage(ctx, "alice", "Alice", dm("bob"), text(long))
	require.NoError(t, err)

	reply, err := m.SendMessage(ctx, "bob", "Bob", dm("alice"), Draft{Text: "ok", ReplyTo: orig.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, "alice", reply.ReplyTo.SenderID)
	assert.Equal(t, "Alice", reply.ReplyTo.SenderName)
	assert.Equal(t, []rune(long)[:previewRunes], []rune(reply.ReplyTo.PreviewText)[:previewRunes])
	assert.Equal(t, previewRunes+1, len([]rune(reply.ReplyTo.PreviewText)))
}

func TestUnsend_RedactsAndClearsReactions(t *testing.T) {
	m, pub, _ := newTestManager(t)
	msg, err := m.SendMessage(ctx, "alice", "Alice", dm("bob"), Draft{
		Text:  "look",
		Type:  MessageImage,
		Media: &Media{URL: "https://img/1.jpg"},
	})
	require.NoError(t, err)

	on, err := m.ToggleReaction(ctx, "bob", dm("alice"), msg.ID, "🔥")
	require.NoError(t, err)
	assert.True(t, on)

	assert.ErrorIs(t, m.Unsend(ctx, "bob", dm("alice"), msg.ID), ErrForbidden)
	require.NoError(t, m.Unsend(ctx, "alice", dm("bob"), msg.ID))
	require.NoError(t, m.Unsend(ctx, "alice", dm("bob"), msg.ID))

	msgs, err := m.Messages("bob", dm("alice"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.True(t, got.IsUnsent)
	assert.True(t, got.Redacted())
	assert.Equal(t, msg.Timestamp, got.Timestamp)

	r, err := m.Reactions("alice", dm("bob"), msg.ID)
	require.NoError(t, err)
	assert.Empty(t, r)

	_, err = m.ToggleReaction(ctx, "bob", dm("alice"), msg.ID, "🔥")
	assert.ErrorIs(t, err, ErrInvalid)

	row, _ := m.InboxItem("bob", "alice")
	assert.Equal(t, "Message unsent", row.LastMessage)

	removed := pub.on(reactionsTopic(DMID("alice", "bob")))
	require.NotEmpty(t, removed)
	assert.Equal(t, hub.Removed, removed[len(removed)-1].kind)

	rec, err := m.SeenBy("alice", dm("bob"))
	require.NoError(t, err)
	assert.Empty(t, rec.MessageID)
	assert.Empty(t, rec.SeenBy)
}

func TestToggleReaction(t *testing.T) {
	m, _, _ := newTestManager(t)
	msg, err := m.SendMessage(ctx, "alice", "Alice", dm("bob"), text("hey"))
	require.NoError(t, err)

	on, err := m.ToggleReaction(ctx, "bob", dm("alice"), msg.ID, "❤️")
	require.NoError(t, err)
	assert.True(t, on)
	on, err = m.ToggleReaction(ctx, "alice", dm("bob"), msg.ID, "❤️")
	require.NoError(t, err)
	assert.True(t, on)
	_, err = m.ToggleReaction(ctx, "alice", dm("bob"), msg.ID, "😂")
	require.NoError(t, err)

	r, _ := m.Reactions("bob", dm("alice"), msg.ID)
	assert.Equal(t, []string{"alice", "bob"}, r["❤️"])
	assert.Equal(t, []string{"alice"}, r["😂"])

	on, err = m.ToggleReaction(ctx, "bob", dm("alice"), msg.ID, "❤️")
	require.NoError(t, err)
	assert.False(t, on)
	r, _ = m.Reactions("bob", dm("alice"), msg.ID)
	assert.Equal(t, []string{"alice"}, r["❤️"])

	_, err = m.ToggleReaction(ctx, "bob", dm("alice"), "nope", "❤️")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.ToggleReaction(ctx, "bob", dm("alice"), msg.ID, " ")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestTyping_ThrottleAndExpiry(t *testing.T) {
	m, pub, clk := newTestManager(t)
	timers := &pendingTimers{}
	m.afterFunc = timers.afterFunc

	wrote, err := m.Typing(ctx, "alice", "Alice", dm("bob"))
	require.NoError(t, err)
	assert.True(t, wrote)

	clk.Advance(500 * time.Millisecond)
	wrote, err = m.Typing(ctx, "alice", "Alice", dm("bob"))
	require.NoError(t, err)
	assert.False(t, wrote)

	clk.Advance(time.Second)
	wrote, err = m.Typing(ctx, "alice", "Alice", dm("bob"))
	require.NoError(t, err)
	assert.True(t, wrote)

	line, err := m.TypingText("bob", dm("alice"))
	require.NoError(t, err)
	assert.Equal(t, "Alice is typing...", line)

	line, _ = m.TypingText("alice", dm("bob"))
	assert.Empty(t, line)

	// a reader drops the marker once it is older than the stale window
	clk.Advance(4*time.Second + time.Millisecond)
	line, _ = m.TypingText("bob", dm("alice"))
	assert.Empty(t, line)

	// the idle timer removes it for good
	timers.fireLast()
	th, err := m.OpenChat(ctx, "bob", dm("alice"))
	require.NoError(t, err)
	assert.Empty(t, th.Typing)

	evs := pub.on(typingTopic(DMID("alice", "bob")))
	require.Len(t, evs, 3)
	assert.Equal(t, hub.Added, evs[0].kind)
	assert.Equal(t, hub.Changed, evs[1].kind)
	assert.Equal(t, hub.Removed, evs[2].kind)
}

func TestTyping_StaleTimerIgnored(t *testing.T) {
	m, _, clk := newTestManager(t)
	timers := &pendingTimers{}
	m.afterFunc = timers.afterFunc

	_, err := m.Typing(ctx, "alice", "Alice", dm("bob"))
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = m.Typing(ctx, "alice", "Alice", dm("bob"))
	require.NoError(t, err)

	timers.mu.Lock()
	first := timers.fns[0]
	timers.mu.Unlock()
	first()

	names, err := m.Typers("bob", dm("alice"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, names)
}

func TestTyping_ClearedOnSendAndClose(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.afterFunc = (&pendingTimers{}).afterFunc

	_, err := m.Typing(ctx, "alice", "Alice", dm("bob"))
	require.NoError(t, err)
	_, err = m.SendMessage(ctx, "alice", "Alice", dm("bob"), text("done"))
	require.NoError(t, err)
	names, _ := m.Typers("bob", dm("alice"))
	assert.Empty(t, names)

	_, err = m.Typing(ctx, "alice", "Alice", dm("bob"))
	require.NoError(t, err)
	_, err = m.OpenChat(ctx, "alice", dm("bob"))
	require.NoError(t, err)
	require.NoError(t, m.CloseChat(ctx, "alice", dm("bob")))
	names, _ = m.Typers("bob", dm("alice"))
	assert.Empty(t, names)
}

func TestTyping_IdleTimerClearsMarker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TypingIdle = time.Nanosecond
	pub := &fakePub{}
	m := NewManager(cfg, pub, nil)
	t.Cleanup(m.Close)

	for i := 0; i < 20; i++ {
		_, err := m.Typing(ctx, "alice", "Alice", dm("bob"))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		names, err := m.Typers("bob", dm("alice"))
		return err == nil && len(names) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingLine(t *testing.T) {
	assert.Equal(t, "", TypingLine(nil))
	assert.Equal(t, "A is typing...", TypingLine([]string{"A"}))
	assert.Equal(t, "A and B are typing...", TypingLine([]string{"A", "B"}))
	assert.Equal(t, "3 people are typing...", TypingLine([]string{"A", "B", "C"}))
}

func TestSeenBy_ComparesTimestamps(t *testing.T) {
	m, _, clk := newTestManager(t)
	g, err := m.CreateGroup(ctx, "alice", "Alice", "Study crew", "", []string{"bob", "cara"})
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, err = m.OpenChat(ctx, "bob", group(g.ID))
	require.NoError(t, err)
	require.NoError(t, m.CloseChat(ctx, "bob", group(g.ID)))

	clk.Advance(time.Second)
	msg, err := m.SendMessage(ctx, "alice", "Alice", group(g.ID), text("quiz at 5"))
	require.NoError(t, err)

	r, err := m.SeenBy("alice", group(g.ID))
	require.NoError(t, err)
	assert.Equal(t, msg.ID, r.MessageID)
	assert.Empty(t, r.SeenBy)

	clk.Advance(time.Second)
	require.NoError(t, m.MarkSeen(ctx, "cara", group(g.ID)))
	r, _ = m.SeenBy("alice", group(g.ID))
	assert.Equal(t, []string{"cara"}, r.SeenBy)

	// no receipt for a user with no messages of their own
	r, _ = m.SeenBy("bob", group(g.ID))
	assert.Empty(t, r.MessageID)
}

func TestGroups_Lifecycle(t *testing.T) {
	m, pub, clk := newTestManager(t)
	rec := events.NewRecorder(16)
	m.events = rec

	_, err := m.CreateGroup(ctx, "alice", "Alice", "  ", "", []string{"bob"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = m.CreateGroup(ctx, "alice", "Alice", "Solo", "", nil)
	assert.ErrorIs(t, err, ErrInvalid)

	g, err := m.CreateGroup(ctx, "alice", "Alice", " Study   crew ", "", []string{"bob", "cara", "alice"})
	require.NoError(t, err)
	assert.Equal(t, "Study crew", g.Name)
	assert.Len(t, g.Members, 3)
	for _, uid := range []string{"alice", "bob", "cara"} {
		row, ok := m.InboxItem(uid, g.ID)
		require.True(t, ok, uid)
		assert.Equal(t, 0, row.UnreadCount)
		assert.Equal(t, "Alice created the group", row.LastMessage)
	}

	clk.Advance(time.Second)
	_, err = m.SendMessage(ctx, "bob", "Bob", group(g.ID), text("hello all"))
	require.NoError(t, err)
	row, _ := m.InboxItem("cara", g.ID)
	assert.Equal(t, 1, row.UnreadCount)
	assert.Equal(t, "Bob: hello all", row.LastMessage)
	row, _ = m.InboxItem("bob", g.ID)
	assert.Equal(t, 0, row.UnreadCount)

	_, err = m.SendMessage(ctx, "dave", "Dave", group(g.ID), text("let me in"))
	assert.ErrorIs(t, err, ErrForbidden)

	assert.ErrorIs(t, m.LeaveGroup(ctx, "alice", "Alice", g.ID), ErrForbidden)
	require.NoError(t, m.LeaveGroup(ctx, "cara", "Cara", g.ID))
	_, ok := m.InboxItem("cara", g.ID)
	assert.False(t, ok)
	assert.False(t, m.CanSubscribe("cara", messagesTopic(g.ID)))
	assert.True(t, m.CanSubscribe("bob", messagesTopic(g.ID)))
	assert.ElementsMatch(t, append(Topics(g.ID), GroupTopic(g.ID)), pub.revokedFor("cara"))
	assert.Empty(t, pub.revokedFor("bob"))

	_, err = m.RenameGroup(ctx, "bob", g.ID, "Mine now", "")
	assert.ErrorIs(t, err, ErrForbidden)
	renamed, err := m.RenameGroup(ctx, "alice", g.ID, "Finals", "https://img/g.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Finals", renamed.Name)
	row, _ = m.InboxItem("bob", g.ID)
	assert.Equal(t, "Finals", row.Name)

	added, err := m.AddMembers(ctx, "alice", "Alice", g.ID, []string{"cara"})
	require.NoError(t, err)
	assert.True(t, added.Members["cara"])

	assert.ErrorIs(t, m.DeleteGroup(ctx, "bob", g.ID), ErrForbidden)
	require.NoError(t, m.DeleteGroup(ctx, "alice", g.ID))
	for _, uid := range []string{"alice", "bob", "cara"} {
		_, ok := m.InboxItem(uid, g.ID)
		assert.False(t, ok, uid)
	}
	_, err = m.Group("alice", g.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	gone := pub.on(GroupTopic(g.ID))
	assert.Equal(t, hub.Removed, gone[len(gone)-1].kind)
	for _, uid := range []string{"alice", "bob"} {
		assert.Contains(t, pub.revokedFor(uid), messagesTopic(g.ID), uid)
	}

	var types []string
	for _, e := range rec.Drain() {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, events.GroupCreated)
	assert.Contains(t, types, events.MessageSent)
	assert.Contains(t, types, events.GroupDeleted)
}

func TestCanSubscribe(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.True(t, m.CanSubscribe("alice", InboxTopic("alice")))
	assert.False(t, m.CanSubscribe("alice", InboxTopic("bob")))
	assert.True(t, m.CanSubscribe("alice", messagesTopic(DMID("alice", "bob"))))
	assert.False(t, m.CanSubscribe("cara", typingTopic(DMID("alice", "bob"))))
	assert.False(t, m.CanSubscribe("alice", "rooms/ABC123"))
	assert.False(t, m.CanSubscribe("alice", "messages/"))
}
