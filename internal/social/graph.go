package social

import (
	"context"
	"sort"

	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/hub"
)

type Request struct {
	From      string `json:"from"`
	To        string `json:"to"`
	CreatedAt int64  `json:"createdAt"`
}

type Counts struct {
	Friends   int `json:"friends"`
	Followers int `json:"followers"`
	Following int `json:"following"`
}

// Blocked reports whether either user blocked the other.
func (s *Service) Blocked(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockedLocked(a, b)
}

func (s *Service) blockedLocked(a, b string) bool {
	return s.blocks[a][b] || s.blocks[b][a]
}

func (s *Service) areFriendsLocked(a, b string) bool {
	_, ok := s.friends[a][b]
	return ok
}

func (s *Service) AreFriends(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.areFriendsLocked(a, b)
}

// SendFriendRequest stores a pending request from -> to and notifies the
// recipient. A request in the opposite direction must be accepted instead.
func (s *Service) SendFriendRequest(ctx context.Context, from, fromName, to string) (Request, error) {
	if from == to {
		return Request{}, ErrSelf
	}
	if to == "" {
		return Request{}, ErrInvalid
	}
	s.mu.Lock()
	switch {
	case s.blockedLocked(from, to):
		s.mu.Unlock()
		return Request{}, ErrBlocked
	case s.areFriendsLocked(from, to):
		s.mu.Unlock()
		return Request{}, ErrAlreadyFriends
	}
	if _, ok := s.requests[to][from]; ok {
		s.mu.Unlock()
		return Request{}, ErrDuplicateRequest
	}
	if _, ok := s.requests[from][to]; ok {
		s.mu.Unlock()
		return Request{}, ErrDuplicateRequest
	}
	req := Request{From: from, To: to, CreatedAt: s.nowMs()}
	if s.requests[to] == nil {
		s.requests[to] = map[string]Request{}
	}
	s.requests[to][from] = req
	s.mark(kindRequest, to, from)
	n := s.notifyLocked(to, from, fromName, KindFriendRequest, "")
	s.mu.Unlock()

	s.publish(ctx, []change{
		{FriendRequestsTopic(to), hub.Added, from, req},
		{NotificationsTopic(to), hub.Added, n.ID, n},
	})
	s.emit(ctx, events.Event{Type: events.FriendRequested, Actor: from, Subject: to})
	return req, nil
}

// AcceptFriendRequest turns the pending request from -> uid into a
// friendship.
func (s *Service) AcceptFriendRequest(ctx context.Context, uid, name, from string) error {
	s.mu.Lock()
	if _, ok := s.requests[uid][from]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.dropRequestLocked(from, uid)
	since := s.nowMs()
	s.linkFriendsLocked(uid, from, since)
	n := s.notifyLocked(from, uid, name, KindFriendAccepted, "")
	s.mu.Unlock()

	s.publish(ctx, []change{
		{FriendRequestsTopic(uid), hub.Removed, from, nil},
		{FriendsTopic(uid), hub.Added, from, since},
		{FriendsTopic(from), hub.Added, uid, since},
		{NotificationsTopic(from), hub.Added, n.ID, n},
	})
	s.emit(ctx, events.Event{Type: events.FriendAccepted, Actor: uid, Subject: from})
	return nil
}

func (s *Service) DeclineFriendRequest(ctx context.Context, uid, from string) error {
	s.mu.Lock()
	ok := s.dropRequestLocked(from, uid)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.publish(ctx, []change{{FriendRequestsTopic(uid), hub.Removed, from, nil}})
	return nil
}

func (s *Service) CancelFriendRequest(ctx context.Context, uid, to string) error {
	s.mu.Lock()
	ok := s.dropRequestLocked(uid, to)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.publish(ctx, []change{{FriendRequestsTopic(to), hub.Removed, uid, nil}})
	return nil
}

func (s *Service) Unfriend(ctx context.Context, uid, other string) error {
	s.mu.Lock()
	ok := s.unlinkFriendsLocked(uid, other)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.publish(ctx, []change{
		{FriendsTopic(uid), hub.Removed, other, nil},
		{FriendsTopic(other), hub.Removed, uid, nil},
	})
	return nil
}

func (s *Service) dropRequestLocked(from, to string) bool {
	if _, ok := s.requests[to][from]; !ok {
		return false
	}
	delete(s.requests[to], from)
	if len(s.requests[to]) == 0 {
		delete(s.requests, to)
	}
	s.mark(kindRequest, to, from)
	return true
}

func (s *Service) linkFriendsLocked(a, b string, since int64) {
	if s.friends[a] == nil {
		s.friends[a] = map[string]int64{}
	}
	if s.friends[b] == nil {
		s.friends[b] = map[string]int64{}
	}
	s.friends[a][b] = since
	s.friends[b][a] = since
	s.mark(kindFriend, a, b)
	s.mark(kindFriend, b, a)
}

func (s *Service) unlinkFriendsLocked(a, b string) bool {
	if !s.areFriendsLocked(a, b) {
		return false
	}
	delete(s.friends[a], b)
	delete(s.friends[b], a)
	s.mark(kindFriend, a, b)
	s.mark(kindFriend, b, a)
	return true
}

func (s *Service) Friends(uid string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.friends[uid]))
	for f := range s.friends[uid] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// IncomingRequests lists pending requests sent to uid, oldest first.
func (s *Service) IncomingRequests(uid string) []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, 0, len(s.requests[uid]))
	for _, r := range s.requests[uid] {
		out = append(out, r)
	}
	sortRequests(out)
	return out
}

func (s *Service) OutgoingRequests(uid string) []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Request
	for _, byFrom := range s.requests {
		if r, ok := byFrom[uid]; ok {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out
}

func sortRequests(rs []Request) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt != rs[j].CreatedAt {
			return rs[i].CreatedAt < rs[j].CreatedAt
		}
		return rs[i].From+rs[i].To < rs[j].From+rs[j].To
	})
}

// Follow is idempotent; the target is notified only on the first follow.
func (s *Service) Follow(ctx context.Context, uid, name, target string) error {
	if uid == target {
		return ErrSelf
	}
	s.mu.Lock()
	if s.blockedLocked(uid, target) {
		s.mu.Unlock()
		return ErrBlocked
	}
	if !s.following.add(uid, target) {
		s.mu.Unlock()
		return nil
	}
	s.followers.add(target, uid)
	s.mark(kindFollow, uid, target)
	n := s.notifyLocked(target, uid, name, KindFollow, "")
	s.mu.Unlock()

	s.publish(ctx, []change{{NotificationsTopic(target), hub.Added, n.ID, n}})
	s.emit(ctx, events.Event{Type: events.UserFollowed, Actor: uid, Subject: target})
	return nil
}

func (s *Service) Unfollow(_ context.Context, uid, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.following.remove(uid, target) {
		return ErrNotFound
	}
	s.followers.remove(target, uid)
	s.mark(kindFollow, uid, target)
	return nil
}

func (s *Service) Followers(uid string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.followers[uid].sorted()
}

func (s *Service) Following(uid string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.following[uid].sorted()
}

func (s *Service) Counts(uid string) Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Friends:   len(s.friends[uid]),
		Followers: len(s.followers[uid]),
		Following: len(s.following[uid]),
	}
}

// Block severs every tie between uid and target: friendship, pending
// requests in both directions and follows in both directions.
func (s *Service) Block(ctx context.Context, uid, target string) error {
	if uid == target {
		return ErrSelf
	}
	var changes []change
	s.mu.Lock()
	s.blocks.add(uid, target)
	s.mark(kindBlock, uid, target)
	if s.unlinkFriendsLocked(uid, target) {
		changes = append(changes,
			change{FriendsTopic(uid), hub.Removed, target, nil},
			change{FriendsTopic(target), hub.Removed, uid, nil})
	}
	if s.dropRequestLocked(uid, target) {
		changes = append(changes, change{FriendRequestsTopic(target), hub.Removed, uid, nil})
	}
	if s.dropRequestLocked(target, uid) {
		changes = append(changes, change{FriendRequestsTopic(uid), hub.Removed, target, nil})
	}
	s.following.remove(uid, target)
	s.followers.remove(target, uid)
	s.following.remove(target, uid)
	s.followers.remove(uid, target)
	s.mark(kindFollow, uid, target)
	s.mark(kindFollow, target, uid)
	s.mu.Unlock()

	s.publish(ctx, changes)
	return nil
}

func (s *Service) Unblock(_ context.Context, uid, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.blocks.remove(uid, target) {
		return ErrNotFound
	}
	s.mark(kindBlock, uid, target)
	return nil
}

// Blocks lists the users uid has blocked.
func (s *Service) Blocks(uid string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[uid].sorted()
}
