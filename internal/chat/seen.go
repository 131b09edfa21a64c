package chat

import (
	"context"
	"sort"

	"github.com/wishp/circles/internal/hub"
)

// Receipt is the read receipt shown under the viewer's latest message.
type Receipt struct {
	MessageID string   `json:"messageId,omitempty"`
	SeenBy    []string `json:"seenBy"`
}

// stampSeen records that uid has seen the chat up to now. Caller holds m.mu.
func (m *ChatManager) stampSeen(c *conversation, uid string) change {
	ts := m.nowMs()
	kind := hub.Changed
	if prev, ok := c.seen[uid]; !ok {
		kind = hub.Added
	} else if prev > ts {
		ts = prev
	}
	c.seen[uid] = ts
	return change{topic: seenTopic(c.id), kind: kind, key: uid, data: ts}
}

// MarkSeen stamps uid's seen time for the chat.
func (m *ChatManager) MarkSeen(ctx context.Context, uid string, t Target) error {
	m.mu.Lock()
	c, err := m.lookup(uid, t)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	ch := m.stampSeen(c, uid)
	m.mu.Unlock()
	m.publish(ctx, []change{ch})
	return nil
}

// SeenBy returns who has seen viewer's most recent non-system message. No
// receipt is given when that message was unsent.
func (m *ChatManager) SeenBy(viewer string, t Target) (Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.lookup(viewer, t)
	if err != nil {
		return Receipt{}, err
	}
	return receipt(c.list(), c.seen, viewer), nil
}

func receipt(msgs []Message, seen map[string]int64, viewer string) Receipt {
	out := Receipt{SeenBy: []string{}}
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.SenderUID != viewer || msg.Type == MessageSystem {
			continue
		}
		if msg.IsUnsent {
			return out
		}
		out.MessageID = msg.ID
		for uid, ts := range seen {
			if uid != viewer && ts >= msg.Timestamp {
				out.SeenBy = append(out.SeenBy, uid)
			}
		}
		sort.Strings(out.SeenBy)
		return out
	}
	return out
}
