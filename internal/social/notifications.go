package social

import (
	"context"

	"github.com/wishp/circles/internal/hub"
)

type NotificationKind string

const (
	KindFriendRequest  NotificationKind = "friend_request"
	KindFriendAccepted NotificationKind = "friend_accepted"
	KindFollow         NotificationKind = "follow"
	KindLike           NotificationKind = "like"
	KindComment        NotificationKind = "comment"
)

type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	From      string           `json:"from"`
	FromName  string           `json:"fromName"`
	Ref       string           `json:"ref,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt int64            `json:"createdAt"`
}

// maxNotifications bounds each user's list; the oldest entries fall off.
const maxNotifications = 200

func (s *Service) notifyLocked(to, from, fromName string, kind NotificationKind, ref string) Notification {
	n := &Notification{
		ID:        newID(),
		Kind:      kind,
		From:      from,
		FromName:  fromName,
		Ref:       ref,
		CreatedAt: s.nowMs(),
	}
	list := append(s.notifications[to], n)
	if len(list) > maxNotifications {
		for _, old := range list[:len(list)-maxNotifications] {
			s.mark(kindNotification, to, old.ID)
		}
		list = list[len(list)-maxNotifications:]
	}
	s.notifications[to] = list
	s.mark(kindNotification, to, n.ID)
	return *n
}

// Notifications returns uid's notifications newest first.
func (s *Service) Notifications(uid string) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.notifications[uid]
	out := make([]Notification, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, *list[i])
	}
	return out
}

func (s *Service) UnreadNotifications(uid string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, x := range s.notifications[uid] {
		if !x.Read {
			n++
		}
	}
	return n
}

// MarkNotificationsRead marks the given notifications read, or all of them
// when ids is empty. It returns how many changed.
func (s *Service) MarkNotificationsRead(ctx context.Context, uid string, ids ...string) int {
	want := make(set, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var changes []change
	s.mu.Lock()
	for _, n := range s.notifications[uid] {
		if n.Read || (len(want) > 0 && !want[n.ID]) {
			continue
		}
		n.Read = true
		s.mark(kindNotification, uid, n.ID)
		changes = append(changes, change{NotificationsTopic(uid), hub.Changed, n.ID, *n})
	}
	s.mu.Unlock()
	s.publish(ctx, changes)
	return len(changes)
}
