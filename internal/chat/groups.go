package chat

import (
	"context"
	"fmt"
	"sort"

	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/hub"
	"go.uber.org/zap"
)

func copyGroup(g *Group) Group {
	cp := *g
	cp.Members = make(map[string]bool, len(g.Members))
	for uid := range g.Members {
		cp.Members[uid] = true
	}
	return cp
}

// systemMessage appends a system line to c. Caller holds m.mu.
func (m *ChatManager) systemMessage(c *conversation, text string) []change {
	msg := &Message{
		ID:        PushKey(),
		Timestamp: m.nowMs(),
		Type:      MessageSystem,
		Text:      text,
	}
	if last := c.last(); last != nil && last.Timestamp > msg.Timestamp {
		msg.Timestamp = last.Timestamp
	}
	c.add(msg)
	out := []change{{topic: messagesTopic(c.id), kind: hub.Added, key: msg.ID, data: *msg}}
	return append(out, m.fanout(c, msg, nil)...)
}

// CreateGroup creates a group owned by owner. The owner is always a member
// and at least one other member is required.
func (m *ChatManager) CreateGroup(ctx context.Context, owner, ownerName, name, photoURL string, members []string) (Group, error) {
	name = normalizeName(name)
	if owner == "" || name == "" {
		return Group{}, fmt.Errorf("%w: group name required", ErrInvalid)
	}
	set := map[string]bool{owner: true}
	for _, uid := range members {
		if uid == "" || uid == owner {
			continue
		}
		if m.blocked(owner, uid) {
			return Group{}, fmt.Errorf("%w: %s", ErrBlocked, uid)
		}
		set[uid] = true
	}
	if len(set) < 2 {
		return Group{}, fmt.Errorf("%w: a group needs another member", ErrInvalid)
	}
	if ownerName == "" {
		ownerName = m.profile(ctx, owner).Name
	}

	m.mu.Lock()
	g := &Group{
		ID:        PushKey(),
		Name:      name,
		PhotoURL:  photoURL,
		Owner:     owner,
		Members:   set,
		CreatedAt: m.nowMs(),
	}
	m.groups[g.ID] = g
	c := newConversation(g.ID, ChatGroup, nil)
	m.convs[g.ID] = c
	changes := []change{{topic: groupTopic(g.ID), kind: hub.Added, key: g.ID, data: copyGroup(g)}}
	changes = append(changes, m.systemMessage(c, ownerName+" created the group")...)
	out := copyGroup(g)
	m.mu.Unlock()

	m.publish(ctx, changes)
	m.emit(ctx, events.Event{Type: events.GroupCreated, Actor: owner, Ref: out.ID, Data: map[string]any{"members": len(out.Members)}})
	m.log.Info("group created", zap.String("group_id", out.ID), zap.String("uid", owner))
	return out, nil
}

// Group returns a group uid belongs to.
func (m *ChatManager) Group(uid, id string) (Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	if !g.Members[uid] {
		return Group{}, ErrForbidden
	}
	return copyGroup(g), nil
}

// Groups lists the groups uid belongs to, by name.
func (m *ChatManager) Groups(uid string) []Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Group{}
	for _, g := range m.groups {
		if g.Members[uid] {
			out = append(out, copyGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ownedGroup returns id if uid owns it. Caller holds m.mu.
func (m *ChatManager) ownedGroup(uid, id string) (*Group, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	if g.Owner != uid {
		return nil, ErrForbidden
	}
	return g, nil
}

// AddMembers adds users to a group. Only the owner may add.
func (m *ChatManager) AddMembers(ctx context.Context, uid, name, id string, uids []string) (Group, error) {
	for _, u := range uids {
		if m.blocked(uid, u) {
			return Group{}, fmt.Errorf("%w: %s", ErrBlocked, u)
		}
	}
	m.mu.Lock()
	g, err := m.ownedGroup(uid, id)
	if err != nil {
		m.mu.Unlock()
		return Group{}, err
	}
	added := 0
	for _, u := range uids {
		if u != "" && !g.Members[u] {
			g.Members[u] = true
			added++
		}
	}
	var changes []change
	if added > 0 {
		c, _ := m.resolve(uid, Target{Type: ChatGroup, ID: id})
		changes = append(changes, change{topic: groupTopic(id), kind: hub.Changed, key: id, data: copyGroup(g)})
		line := fmt.Sprintf("%s added %d members", name, added)
		if added == 1 {
			line = name + " added a member"
		}
		changes = append(changes, m.systemMessage(c, line)...)
	}
	out := copyGroup(g)
	m.mu.Unlock()

	m.publish(ctx, changes)
	return out, nil
}

// LeaveGroup removes uid from a group. The owner cannot leave and must
// delete the group instead.
func (m *ChatManager) LeaveGroup(ctx context.Context, uid, name, id string) error {
	m.mu.Lock()
	g, ok := m.groups[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if !g.Members[uid] {
		m.mu.Unlock()
		return ErrForbidden
	}
	if g.Owner == uid {
		m.mu.Unlock()
		return fmt.Errorf("%w: owner must delete the group", ErrForbidden)
	}
	c, _ := m.resolve(uid, Target{Type: ChatGroup, ID: id})
	var changes []change
	if ch, ok := m.clearTypingLocked(c, uid); ok {
		changes = append(changes, ch)
	}
	delete(c.viewers, uid)
	delete(g.Members, uid)
	if ch, ok := m.inbox.remove(uid, id); ok {
		changes = append(changes, ch)
	}
	changes = append(changes, change{topic: groupTopic(id), kind: hub.Changed, key: id, data: copyGroup(g)})
	changes = append(changes, m.systemMessage(c, name+" left the group")...)
	m.mu.Unlock()

	m.revoke(ctx, uid, id)
	m.publish(ctx, changes)
	return nil
}

// RenameGroup changes a group's name and photo. An empty photo keeps the
// current one.
func (m *ChatManager) RenameGroup(ctx context.Context, uid, id, name, photoURL string) (Group, error) {
	name = normalizeName(name)
	if name == "" {
		return Group{}, ErrInvalid
	}
	m.mu.Lock()
	g, err := m.ownedGroup(uid, id)
	if err != nil {
		m.mu.Unlock()
		return Group{}, err
	}
	g.Name = name
	if photoURL != "" {
		g.PhotoURL = photoURL
	}
	changes := []change{{topic: groupTopic(id), kind: hub.Changed, key: id, data: copyGroup(g)}}
	for member := range g.Members {
		row, ok := m.inbox[member][id]
		if !ok {
			continue
		}
		row.Name, row.PhotoURL = g.Name, g.PhotoURL
		changes = append(changes, change{topic: inboxTopic(member), kind: hub.Changed, key: id, data: *row})
	}
	out := copyGroup(g)
	m.mu.Unlock()

	m.publish(ctx, changes)
	return out, nil
}

// DeleteGroup removes a group, its messages and every member's inbox row.
// Only the owner may delete.
func (m *ChatManager) DeleteGroup(ctx context.Context, uid, id string) error {
	m.mu.Lock()
	g, err := m.ownedGroup(uid, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	members := make([]string, 0, len(g.Members))
	for member := range g.Members {
		members = append(members, member)
	}
	var changes []change
	if c, ok := m.convs[id]; ok {
		for member := range c.typing {
			if ch, ok := m.clearTypingLocked(c, member); ok {
				changes = append(changes, ch)
			}
		}
		for _, msgID := range c.order {
			changes = append(changes, change{topic: messagesTopic(id), kind: hub.Removed, key: msgID})
		}
		delete(m.convs, id)
	}
	for member := range g.Members {
		if ch, ok := m.inbox.remove(member, id); ok {
			changes = append(changes, ch)
		}
	}
	delete(m.groups, id)
	changes = append(changes, change{topic: groupTopic(id), kind: hub.Removed, key: id})
	m.mu.Unlock()

	m.publish(ctx, changes)
	for _, member := range members {
		m.revoke(ctx, member, id)
	}
	m.emit(ctx, events.Event{Type: events.GroupDeleted, Actor: uid, Ref: id})
	m.log.Info("group deleted", zap.String("group_id", id), zap.String("uid", uid))
	return nil
}
