package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/hub"
	"github.com/wishp/circles/internal/media"
	"go.uber.org/zap"
)

// ChatID resolves the conversation id of target for uid without touching
// any state.
func ChatID(uid string, t Target) (string, error) {
	switch t.Type {
	case ChatDM:
		if t.ID == "" || t.ID == uid {
			return "", ErrInvalid
		}
		return DMID(uid, t.ID), nil
	case ChatGroup:
		if t.ID == "" {
			return "", ErrInvalid
		}
		return t.ID, nil
	}
	return "", ErrInvalid
}

// OpenChat marks uid as viewing the chat, resets its unread counter, stamps
// seen and returns the current thread.
func (m *ChatManager) OpenChat(ctx context.Context, uid string, t Target) (Thread, error) {
	m.mu.Lock()
	c, err := m.resolve(uid, t)
	if err != nil {
		m.mu.Unlock()
		return Thread{}, err
	}
	c.viewers[uid]++
	var changes []change
	if ch, ok := m.inbox.resetUnread(uid, inboxID(c, uid)); ok {
		changes = append(changes, ch)
	}
	changes = append(changes, m.stampSeen(c, uid))
	th := m.snapshot(c)
	m.mu.Unlock()

	m.publish(ctx, changes)
	return th, nil
}

// CloseChat ends one viewing session of the chat and clears uid's typing
// marker there.
func (m *ChatManager) CloseChat(ctx context.Context, uid string, t Target) error {
	m.mu.Lock()
	c, err := m.lookup(uid, t)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if c.viewers[uid] > 1 {
		c.viewers[uid]--
	} else {
		delete(c.viewers, uid)
	}
	var changes []change
	if ch, ok := m.clearTypingLocked(c, uid); ok {
		changes = append(changes, ch)
	}
	m.mu.Unlock()

	m.publish(ctx, changes)
	return nil
}

// draftType checks a draft before anything is written.
func (m *ChatManager) draftType(d Draft) (MessageType, error) {
	if d.Media == nil {
		if strings.TrimSpace(d.Text) == "" {
			return "", ErrEmptyMessage
		}
		return MessageText, nil
	}
	if d.Media.URL == "" {
		return "", fmt.Errorf("%w: media without url", ErrInvalid)
	}
	switch d.Type {
	case "", MessageImage:
		return MessageImage, nil
	case MessageVideo:
		if err := media.CheckDuration(d.Media.Duration, m.cfg.MaxVideoSeconds); err != nil {
			return "", err
		}
		return MessageVideo, nil
	}
	return "", fmt.Errorf("%w: message type %q", ErrInvalid, d.Type)
}

// SendMessage appends a message from uid to the target chat and updates the
// inbox rows of every participant.
func (m *ChatManager) SendMessage(ctx context.Context, uid, name string, t Target, d Draft) (Message, error) {
	typ, err := m.draftType(d)
	if err != nil {
		return Message{}, err
	}
	labels := map[string]Profile{}
	if t.Type == ChatDM {
		if t.ID == uid || t.ID == "" {
			return Message{}, ErrInvalid
		}
		if m.blocked(uid, t.ID) {
			return Message{}, ErrBlocked
		}
		labels[t.ID] = m.profile(ctx, t.ID)
		self := m.profile(ctx, uid)
		if self.Name == "" {
			self.Name = name
		}
		labels[uid] = self
	}
	if name == "" {
		name = labels[uid].Name
	}

	m.mu.Lock()
	c, err := m.resolve(uid, t)
	if err != nil {
		m.mu.Unlock()
		return Message{}, err
	}
	msg := &Message{
		ID:         PushKey(),
		SenderUID:  uid,
		SenderName: name,
		Timestamp:  m.nowMs(),
		Type:       typ,
		Text:       strings.TrimSpace(d.Text),
	}
	if d.Media != nil {
		md := *d.Media
		msg.Media = &md
	}
	if d.ReplyTo != "" {
		orig, ok := c.messages[d.ReplyTo]
		if !ok {
			m.mu.Unlock()
			return Message{}, fmt.Errorf("%w: reply target", ErrNotFound)
		}
		msg.ReplyTo = &ReplyTo{
			MessageID:   orig.ID,
			SenderID:    orig.SenderUID,
			SenderName:  orig.SenderName,
			PreviewText: preview(orig),
		}
	}
	if last := c.last(); last != nil && last.Timestamp > msg.Timestamp {
		msg.Timestamp = last.Timestamp
	}
	c.add(msg)

	changes := []change{{topic: messagesTopic(c.id), kind: hub.Added, key: msg.ID, data: *msg}}
	if ch, ok := m.clearTypingLocked(c, uid); ok {
		changes = append(changes, ch)
	}
	for viewer := range c.viewers {
		if viewer != uid {
			changes = append(changes, m.stampSeen(c, viewer))
		}
	}
	changes = append(changes, m.fanout(c, msg, labels)...)
	out := *msg
	chatID := c.id
	m.mu.Unlock()

	m.publish(ctx, changes)
	m.emit(ctx, events.Event{
		Type:    events.MessageSent,
		Actor:   uid,
		Subject: t.ID,
		Ref:     chatID,
		Data:    map[string]any{"messageId": out.ID, "chatType": string(t.Type), "messageType": string(out.Type)},
	})
	m.log.Debug("message sent", zap.String("chat_id", chatID), zap.String("uid", uid), zap.String("message_id", out.ID))
	return out, nil
}

// Unsend redacts one of uid's own messages in place and clears its
// reactions. Unsending twice is a no-op.
func (m *ChatManager) Unsend(ctx context.Context, uid string, t Target, msgID string) error {
	m.mu.Lock()
	c, err := m.lookup(uid, t)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	msg, ok := c.messages[msgID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if msg.SenderUID != uid || msg.Type == MessageSystem {
		m.mu.Unlock()
		return ErrForbidden
	}
	if msg.IsUnsent {
		m.mu.Unlock()
		return nil
	}
	msg.IsUnsent = true
	msg.Text = ""
	msg.Media = nil
	msg.ReplyTo = nil

	changes := []change{{topic: messagesTopic(c.id), kind: hub.Changed, key: msg.ID, data: *msg}}
	if _, ok := c.reactions[msgID]; ok {
		delete(c.reactions, msgID)
		changes = append(changes, change{topic: reactionsTopic(c.id), kind: hub.Removed, key: msgID})
	}
	if last := c.last(); last != nil && last.ID == msgID {
		for _, member := range m.members(c) {
			id := inboxID(c, member)
			if _, ok := m.inbox[member][id]; !ok {
				continue
			}
			row := *m.inbox[member][id]
			row.LastMessage = preview(msg)
			changes = append(changes, m.inbox.upsert(member, row, 0))
		}
	}
	chatID := c.id
	m.mu.Unlock()

	m.publish(ctx, changes)
	m.emit(ctx, events.Event{Type: events.MessageUnsent, Actor: uid, Subject: t.ID, Ref: chatID, Data: map[string]any{"messageId": msgID}})
	return nil
}

// Messages returns the chat's messages in send order.
func (m *ChatManager) Messages(uid string, t Target) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.lookup(uid, t)
	if errors.Is(err, ErrNotFound) && t.Type == ChatDM {
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return c.list(), nil
}

func (c *conversation) list() []Message {
	out := make([]Message, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.messages[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// snapshot copies the state a client renders. Caller holds m.mu.
func (m *ChatManager) snapshot(c *conversation) Thread {
	th := Thread{
		ChatID:    c.id,
		Messages:  c.list(),
		Reactions: make(map[string]map[string][]string, len(c.reactions)),
		Seen:      make(map[string]int64, len(c.seen)),
		Typing:    make(map[string]TypingEntry, len(c.typing)),
	}
	for id := range c.reactions {
		th.Reactions[id] = c.reactionView(id)
	}
	for uid, ts := range c.seen {
		th.Seen[uid] = ts
	}
	for uid, e := range c.typing {
		th.Typing[uid] = e
	}
	return th
}
