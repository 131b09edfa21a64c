package chat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wishp/circles/internal/hub"
)

func typingTimerKey(chatID, uid string) string { return chatID + "|" + uid }

// typingTimer is a pending idle clear. gen tells a stale callback apart from
// the timer that replaced it.
type typingTimer struct {
	timer *time.Timer
	gen   uint64
}

// Typing records a keystroke from uid. The marker is written at most once
// per write interval and cleared after the idle delay with no further
// keystrokes. It reports whether a write happened.
func (m *ChatManager) Typing(ctx context.Context, uid, name string, t Target) (bool, error) {
	if t.Type == ChatDM && m.blocked(uid, t.ID) {
		return false, ErrBlocked
	}
	m.mu.Lock()
	c, err := m.resolve(uid, t)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	now := m.now()
	var changes []change
	written := false
	if last, ok := c.lastWrite[uid]; !ok || now.Sub(last) >= m.cfg.TypingWriteInterval {
		kind := hub.Changed
		if _, ok := c.typing[uid]; !ok {
			kind = hub.Added
		}
		e := TypingEntry{Name: name, Timestamp: now.UnixMilli()}
		c.typing[uid] = e
		c.lastWrite[uid] = now
		changes = append(changes, change{topic: typingTopic(c.id), kind: kind, key: uid, data: e})
		written = true
	}

	key := typingTimerKey(c.id, uid)
	if prev, ok := m.typingTimers[key]; ok {
		prev.timer.Stop()
	}
	m.typingGen++
	chatID, gen := c.id, m.typingGen
	timer := m.afterFunc(m.cfg.TypingIdle, func() {
		m.expireTyping(chatID, uid, gen)
	})
	m.typingTimers[key] = typingTimer{timer: timer, gen: gen}
	m.mu.Unlock()

	m.publish(ctx, changes)
	return written, nil
}

// StopTyping clears uid's marker immediately.
func (m *ChatManager) StopTyping(ctx context.Context, uid string, t Target) error {
	m.mu.Lock()
	c, err := m.lookup(uid, t)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	ch, ok := m.clearTypingLocked(c, uid)
	m.mu.Unlock()
	if ok {
		m.publish(ctx, []change{ch})
	}
	return nil
}

// expireTyping runs when the idle timer of generation gen fires. A timer
// replaced by a later keystroke does nothing.
func (m *ChatManager) expireTyping(chatID, uid string, gen uint64) {
	m.mu.Lock()
	key := typingTimerKey(chatID, uid)
	if cur, ok := m.typingTimers[key]; !ok || cur.gen != gen {
		m.mu.Unlock()
		return
	}
	c, ok := m.convs[chatID]
	if !ok {
		delete(m.typingTimers, key)
		m.mu.Unlock()
		return
	}
	ch, ok := m.clearTypingLocked(c, uid)
	m.mu.Unlock()
	if ok {
		m.publish(context.Background(), []change{ch})
	}
}

// clearTypingLocked removes uid's marker and idle timer. Caller holds m.mu.
func (m *ChatManager) clearTypingLocked(c *conversation, uid string) (change, bool) {
	key := typingTimerKey(c.id, uid)
	if tt, ok := m.typingTimers[key]; ok {
		tt.timer.Stop()
		delete(m.typingTimers, key)
	}
	delete(c.lastWrite, uid)
	if _, ok := c.typing[uid]; !ok {
		return change{}, false
	}
	delete(c.typing, uid)
	return change{topic: typingTopic(c.id), kind: hub.Removed, key: uid}, true
}

// Typers returns the names of users other than viewer with a fresh typing
// marker, oldest first.
func (m *ChatManager) Typers(viewer string, t Target) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.lookup(viewer, t)
	if err != nil {
		return nil, err
	}
	return freshTypers(c.typing, viewer, m.now(), m.cfg.TypingStale), nil
}

// TypingText renders the typing line shown to viewer.
func (m *ChatManager) TypingText(viewer string, t Target) (string, error) {
	names, err := m.Typers(viewer, t)
	if err != nil {
		return "", err
	}
	return TypingLine(names), nil
}

func freshTypers(entries map[string]TypingEntry, viewer string, now time.Time, stale time.Duration) []string {
	type typer struct {
		uid string
		TypingEntry
	}
	cutoff := now.Add(-stale).UnixMilli()
	var list []typer
	for uid, e := range entries {
		if uid == viewer || e.Timestamp < cutoff {
			continue
		}
		list = append(list, typer{uid, e})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp < list[j].Timestamp
		}
		return list[i].uid < list[j].uid
	})
	names := make([]string, len(list))
	for i, e := range list {
		names[i] = e.Name
		if names[i] == "" {
			names[i] = "Someone"
		}
	}
	return names
}

// TypingLine formats a list of typing names.
func TypingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return names[0] + " and " + names[1] + " are typing..."
	}
	return fmt.Sprintf("%d people are typing...", len(names))
}
