package chat

import (
	"context"
	"sort"

	"github.com/wishp/circles/internal/hub"
)

// inboxIndex is uid -> row id -> row.
type inboxIndex map[string]map[string]*ChatItem

func (ix inboxIndex) rows(uid string) map[string]*ChatItem {
	r, ok := ix[uid]
	if !ok {
		r = map[string]*ChatItem{}
		ix[uid] = r
	}
	return r
}

// upsert writes a row and returns the change to publish. unread is added to
// the current counter; a new row starts from zero.
func (ix inboxIndex) upsert(uid string, item ChatItem, unread int) change {
	rows := ix.rows(uid)
	kind := hub.Changed
	cur, ok := rows[item.ID]
	if !ok {
		kind = hub.Added
		cur = &ChatItem{ID: item.ID}
		rows[item.ID] = cur
	}
	cur.Type = item.Type
	if item.Name != "" {
		cur.Name = item.Name
	}
	if item.PhotoURL != "" {
		cur.PhotoURL = item.PhotoURL
	}
	cur.LastMessage = item.LastMessage
	if item.Timestamp > cur.Timestamp {
		cur.Timestamp = item.Timestamp
	}
	cur.UnreadCount += unread
	if cur.UnreadCount < 0 {
		cur.UnreadCount = 0
	}
	return change{topic: inboxTopic(uid), kind: kind, key: item.ID, data: *cur}
}

func (ix inboxIndex) remove(uid, id string) (change, bool) {
	rows, ok := ix[uid]
	if !ok {
		return change{}, false
	}
	if _, ok := rows[id]; !ok {
		return change{}, false
	}
	delete(rows, id)
	if len(rows) == 0 {
		delete(ix, uid)
	}
	return change{topic: inboxTopic(uid), kind: hub.Removed, key: id}, true
}

func (ix inboxIndex) resetUnread(uid, id string) (change, bool) {
	cur, ok := ix[uid][id]
	if !ok || cur.UnreadCount == 0 {
		return change{}, false
	}
	cur.UnreadCount = 0
	return change{topic: inboxTopic(uid), kind: hub.Changed, key: id, data: *cur}, true
}

// Inbox returns uid's conversations, newest first.
func (m *ChatManager) Inbox(uid string) []ChatItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.inbox[uid]
	list := make([]ChatItem, 0, len(rows))
	for _, r := range rows {
		list = append(list, *r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp > list[j].Timestamp
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// InboxItem returns one row of uid's inbox.
func (m *ChatManager) InboxItem(uid, id string) (ChatItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.inbox[uid][id]
	if !ok {
		return ChatItem{}, false
	}
	return *r, true
}

// UnreadTotal sums the unread counters of uid's inbox.
func (m *ChatManager) UnreadTotal(uid string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.inbox[uid] {
		n += r.UnreadCount
	}
	return n
}

// MarkRead resets the unread counter of one inbox row.
func (m *ChatManager) MarkRead(ctx context.Context, uid, id string) {
	m.mu.Lock()
	c, ok := m.inbox.resetUnread(uid, id)
	m.mu.Unlock()
	if ok {
		m.publish(ctx, []change{c})
	}
}

// fanout updates every member's row for conversation c after msg was
// appended. Members viewing the chat, and the sender, get no unread bump.
// Caller holds m.mu.
func (m *ChatManager) fanout(c *conversation, msg *Message, labels map[string]Profile) []change {
	members := m.members(c)
	out := make([]change, 0, len(members))
	text := preview(msg)
	var g *Group
	if c.kind == ChatGroup {
		g = m.groups[c.id]
		if msg.Type != MessageSystem && !msg.IsUnsent {
			text = msg.SenderName + ": " + text
		}
	}
	for _, uid := range members {
		item := ChatItem{
			ID:          inboxID(c, uid),
			Type:        c.kind,
			LastMessage: text,
			Timestamp:   msg.Timestamp,
		}
		if g != nil {
			item.Name, item.PhotoURL = g.Name, g.PhotoURL
		} else if p, ok := labels[item.ID]; ok {
			item.Name, item.PhotoURL = p.Name, p.PhotoURL
		}
		if item.Name == "" && m.inbox[uid][item.ID] == nil {
			item.Name = item.ID
		}
		unread := 0
		if msg.Type != MessageSystem && uid != msg.SenderUID && c.viewers[uid] == 0 {
			unread = 1
		}
		out = append(out, m.inbox.upsert(uid, item, unread))
	}
	return out
}
