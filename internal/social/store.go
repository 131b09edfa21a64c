package social

import (
	"context"
	"fmt"
	"sort"

	"github.com/wishp/circles/internal/data"
)

const (
	kindFriend       = "friend"
	kindRequest      = "friend_request"
	kindFollow       = "follow"
	kindBlock        = "block"
	kindPost         = "post"
	kindLike         = "like"
	kindComment      = "comment"
	kindNotification = "notification"
)

// WithStore persists the graph, posts and notifications. Writes go through
// in the background; Restore loads them back.
func WithStore(st data.StateStore) Option { return func(s *Service) { s.store = st } }

func (s *Service) mark(kind, owner, key string) {
	s.journal.Mark(data.Ref{Kind: kind, Owner: owner, Key: key})
}

// Close flushes unwritten state.
func (s *Service) Close(ctx context.Context) error {
	return s.journal.Close(ctx)
}

// record returns the current value of r, or false once it is gone.
func (s *Service) record(r data.Ref) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch r.Kind {
	case kindFriend:
		since, ok := s.friends[r.Owner][r.Key]
		return since, ok
	case kindRequest:
		req, ok := s.requests[r.Owner][r.Key]
		return req, ok
	case kindFollow:
		return true, s.following[r.Owner][r.Key]
	case kindBlock:
		return true, s.blocks[r.Owner][r.Key]
	case kindPost:
		p, ok := s.posts[r.Owner]
		if !ok {
			return nil, false
		}
		return *p, true
	case kindLike:
		return true, s.likes[r.Owner][r.Key]
	case kindComment:
		for _, c := range s.comments[r.Owner] {
			if c.ID == r.Key {
				return c, true
			}
		}
	case kindNotification:
		for _, n := range s.notifications[r.Owner] {
			if n.ID == r.Key {
				return *n, true
			}
		}
	}
	return nil, false
}

// Restore loads persisted social state. Call it once, before serving.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	load := func(kind string, fn func(r data.Ref, decode func(any) error) error) error {
		if err := s.store.Load(ctx, kind, fn); err != nil {
			return fmt.Errorf("load %s records: %w", kind, err)
		}
		return nil
	}
	flag := func(e edges) func(data.Ref, func(any) error) error {
		return func(r data.Ref, _ func(any) error) error {
			e.add(r.Owner, r.Key)
			return nil
		}
	}

	err := load(kindFriend, func(r data.Ref, decode func(any) error) error {
		var since int64
		if err := decode(&since); err != nil {
			return err
		}
		if s.friends[r.Owner] == nil {
			s.friends[r.Owner] = map[string]int64{}
		}
		s.friends[r.Owner][r.Key] = since
		return nil
	})
	if err != nil {
		return err
	}
	err = load(kindRequest, func(r data.Ref, decode func(any) error) error {
		var req Request
		if err := decode(&req); err != nil {
			return err
		}
		if s.requests[r.Owner] == nil {
			s.requests[r.Owner] = map[string]Request{}
		}
		s.requests[r.Owner][r.Key] = req
		return nil
	})
	if err != nil {
		return err
	}
	if err := load(kindFollow, flag(s.following)); err != nil {
		return err
	}
	for uid, targets := range s.following {
		for target := range targets {
			s.followers.add(target, uid)
		}
	}
	if err := load(kindBlock, flag(s.blocks)); err != nil {
		return err
	}

	err = load(kindPost, func(r data.Ref, decode func(any) error) error {
		p := &Post{}
		if err := decode(p); err != nil {
			return err
		}
		s.posts[r.Owner] = p
		return nil
	})
	if err != nil {
		return err
	}
	err = load(kindLike, func(r data.Ref, _ func(any) error) error {
		if s.posts[r.Owner] == nil {
			return nil
		}
		if s.likes[r.Owner] == nil {
			s.likes[r.Owner] = set{}
		}
		s.likes[r.Owner][r.Key] = true
		return nil
	})
	if err != nil {
		return err
	}
	err = load(kindComment, func(r data.Ref, decode func(any) error) error {
		if s.posts[r.Owner] == nil {
			return nil
		}
		var c Comment
		if err := decode(&c); err != nil {
			return err
		}
		s.comments[r.Owner] = append(s.comments[r.Owner], c)
		return nil
	})
	if err != nil {
		return err
	}
	for _, list := range s.comments {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].CreatedAt != list[j].CreatedAt {
				return list[i].CreatedAt < list[j].CreatedAt
			}
			return list[i].ID < list[j].ID
		})
	}

	err = load(kindNotification, func(r data.Ref, decode func(any) error) error {
		n := &Notification{}
		if err := decode(n); err != nil {
			return err
		}
		s.notifications[r.Owner] = append(s.notifications[r.Owner], n)
		return nil
	})
	if err != nil {
		return err
	}
	for uid, list := range s.notifications {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].CreatedAt != list[j].CreatedAt {
				return list[i].CreatedAt < list[j].CreatedAt
			}
			return list[i].ID < list[j].ID
		})
		if len(list) > maxNotifications {
			s.notifications[uid] = list[len(list)-maxNotifications:]
		}
	}
	return nil
}
