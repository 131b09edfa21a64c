package chat

import (
	"context"
	"sort"
	"strings"

	"github.com/wishp/circles/internal/hub"
)

// ToggleReaction adds uid to the emoji's set on a message, or removes it if
// already present. It reports whether the reaction is now on.
func (m *ChatManager) ToggleReaction(ctx context.Context, uid string, t Target, msgID, emoji string) (bool, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return false, ErrInvalid
	}
	m.mu.Lock()
	c, err := m.lookup(uid, t)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	msg, ok := c.messages[msgID]
	if !ok {
		m.mu.Unlock()
		return false, ErrNotFound
	}
	if msg.IsUnsent || msg.Type == MessageSystem {
		m.mu.Unlock()
		return false, ErrInvalid
	}

	byEmoji, existed := c.reactions[msgID]
	if !existed {
		byEmoji = map[string]map[string]bool{}
		c.reactions[msgID] = byEmoji
	}
	set := byEmoji[emoji]
	on := !set[uid]
	if on {
		if set == nil {
			set = map[string]bool{}
			byEmoji[emoji] = set
		}
		set[uid] = true
	} else {
		delete(set, uid)
		if len(set) == 0 {
			delete(byEmoji, emoji)
		}
	}

	var ch change
	switch {
	case len(byEmoji) == 0:
		delete(c.reactions, msgID)
		ch = change{topic: reactionsTopic(c.id), kind: hub.Removed, key: msgID}
	case !existed:
		ch = change{topic: reactionsTopic(c.id), kind: hub.Added, key: msgID, data: c.reactionView(msgID)}
	default:
		ch = change{topic: reactionsTopic(c.id), kind: hub.Changed, key: msgID, data: c.reactionView(msgID)}
	}
	m.mu.Unlock()

	m.publish(ctx, []change{ch})
	return on, nil
}

// Reactions returns emoji -> uids for one message.
func (m *ChatManager) Reactions(uid string, t Target, msgID string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.lookup(uid, t)
	if err != nil {
		return nil, err
	}
	if _, ok := c.messages[msgID]; !ok {
		return nil, ErrNotFound
	}
	return c.reactionView(msgID), nil
}

func (c *conversation) reactionView(msgID string) map[string][]string {
	out := map[string][]string{}
	for emoji, set := range c.reactions[msgID] {
		uids := make([]string, 0, len(set))
		for uid := range set {
			uids = append(uids, uid)
		}
		sort.Strings(uids)
		out[emoji] = uids
	}
	return out
}
