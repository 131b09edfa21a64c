package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wishp/circles/internal/data"
	"github.com/wishp/circles/internal/hub"
)

// Record kinds written to the state store.
const (
	kindChat     = "chat"
	kindMessage  = "message"
	kindReaction = "reaction"
	kindSeen     = "seen"
	kindInbox    = "inbox"
	kindGroup    = "group"
)

// chatRecord is what a conversation needs besides its messages.
type chatRecord struct {
	Type    ChatType `json:"type"`
	Members []string `json:"members,omitempty"`
}

// WithStore persists conversations, inbox rows and groups. Every change is
// written through in the background; Restore loads them back.
func WithStore(st data.StateStore) Option { return func(m *ChatManager) { m.store = st } }

// persist queues the records touched by changes. Typing markers are not
// kept.
func (m *ChatManager) persist(changes []change) {
	if m.journal == nil {
		return
	}
	refs := make([]data.Ref, 0, len(changes)+1)
	for _, c := range changes {
		prefix, owner, _ := strings.Cut(c.topic, "/")
		switch prefix {
		case "messages":
			refs = append(refs,
				data.Ref{Kind: kindMessage, Owner: owner, Key: c.key},
				data.Ref{Kind: kindChat, Owner: owner, Key: owner})
		case "reactions":
			refs = append(refs, data.Ref{Kind: kindReaction, Owner: owner, Key: c.key})
		case "chatSeen":
			refs = append(refs, data.Ref{Kind: kindSeen, Owner: owner, Key: c.key})
		case "userInboxes":
			refs = append(refs, data.Ref{Kind: kindInbox, Owner: owner, Key: c.key})
		case "groupChats":
			refs = append(refs, data.Ref{Kind: kindGroup, Owner: owner, Key: owner})
			if c.kind == hub.Removed {
				m.journal.Purge(owner, kindChat, kindMessage, kindReaction, kindSeen)
			}
		}
	}
	m.journal.Mark(refs...)
}

// record returns the current value of r, or false once it is gone.
func (m *ChatManager) record(r data.Ref) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch r.Kind {
	case kindGroup:
		g, ok := m.groups[r.Owner]
		if !ok {
			return nil, false
		}
		return copyGroup(g), true
	case kindInbox:
		row, ok := m.inbox[r.Owner][r.Key]
		if !ok {
			return nil, false
		}
		return *row, true
	}

	c, ok := m.convs[r.Owner]
	if !ok {
		return nil, false
	}
	switch r.Kind {
	case kindChat:
		return chatRecord{Type: c.kind, Members: c.members}, true
	case kindMessage:
		msg, ok := c.messages[r.Key]
		if !ok {
			return nil, false
		}
		return *msg, true
	case kindReaction:
		if _, ok := c.reactions[r.Key]; !ok {
			return nil, false
		}
		return c.reactionView(r.Key), true
	case kindSeen:
		ts, ok := c.seen[r.Key]
		return ts, ok
	}
	return nil, false
}

// Restore loads persisted chat state. Call it once, before serving.
func (m *ChatManager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.Load(ctx, kindGroup, func(r data.Ref, decode func(any) error) error {
		var g Group
		if err := decode(&g); err != nil {
			return err
		}
		if g.Members == nil {
			g.Members = map[string]bool{}
		}
		m.groups[r.Owner] = &g
		return nil
	})
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}

	err = m.store.Load(ctx, kindChat, func(r data.Ref, decode func(any) error) error {
		var rec chatRecord
		if err := decode(&rec); err != nil {
			return err
		}
		if rec.Type == ChatGroup && m.groups[r.Owner] == nil {
			return nil
		}
		m.convs[r.Owner] = newConversation(r.Owner, rec.Type, rec.Members)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}

	pending := map[string][]*Message{}
	err = m.store.Load(ctx, kindMessage, func(r data.Ref, decode func(any) error) error {
		if m.convs[r.Owner] == nil {
			return nil
		}
		msg := &Message{}
		if err := decode(msg); err != nil {
			return err
		}
		pending[r.Owner] = append(pending[r.Owner], msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	for id, msgs := range pending {
		sort.Slice(msgs, func(i, j int) bool {
			if msgs[i].Timestamp != msgs[j].Timestamp {
				return msgs[i].Timestamp < msgs[j].Timestamp
			}
			return msgs[i].ID < msgs[j].ID
		})
		for _, msg := range msgs {
			m.convs[id].add(msg)
		}
	}

	err = m.store.Load(ctx, kindReaction, func(r data.Ref, decode func(any) error) error {
		c := m.convs[r.Owner]
		if c == nil {
			return nil
		}
		var view map[string][]string
		if err := decode(&view); err != nil {
			return err
		}
		byEmoji := map[string]map[string]bool{}
		for emoji, uids := range view {
			set := make(map[string]bool, len(uids))
			for _, uid := range uids {
				set[uid] = true
			}
			byEmoji[emoji] = set
		}
		c.reactions[r.Key] = byEmoji
		return nil
	})
	if err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}

	err = m.store.Load(ctx, kindSeen, func(r data.Ref, decode func(any) error) error {
		c := m.convs[r.Owner]
		if c == nil {
			return nil
		}
		var ts int64
		if err := decode(&ts); err != nil {
			return err
		}
		c.seen[r.Key] = ts
		return nil
	})
	if err != nil {
		return fmt.Errorf("load seen: %w", err)
	}

	err = m.store.Load(ctx, kindInbox, func(r data.Ref, decode func(any) error) error {
		row := &ChatItem{}
		if err := decode(row); err != nil {
			return err
		}
		m.inbox.rows(r.Owner)[r.Key] = row
		return nil
	})
	if err != nil {
		return fmt.Errorf("load inbox: %w", err)
	}
	return nil
}
