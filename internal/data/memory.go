package data

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements UserStore and SessionStore in process memory. It
// is used when no MongoDB URI is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	sessions []StudySession
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[string]User{}, now: time.Now}
}

func (s *MemoryStore) UpsertUser(_ context.Context, u User) (User, error) {
	if u.UID == "" {
		return User{}, errors.New("uid required")
	}
	u = normalizeUser(u, s.now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.UID]
	if !ok {
		u.CreatedAt = u.UpdatedAt
		u.TotalStudySeconds = 0
		s.users[u.UID] = u
		return u, nil
	}
	cur.DisplayName, cur.NameLower, cur.UpdatedAt = u.DisplayName, u.NameLower, u.UpdatedAt
	if u.PhotoURL != "" {
		cur.PhotoURL = u.PhotoURL
	}
	if u.Bio != "" {
		cur.Bio = u.Bio
	}
	s.users[u.UID] = cur
	return cur, nil
}

func (s *MemoryStore) GetUser(_ context.Context, uid string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[uid]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) ListUsers(context.Context) ([]User, error) {
	s.mu.RLock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalStudySeconds != out[j].TotalStudySeconds {
			return out[i].TotalStudySeconds > out[j].TotalStudySeconds
		}
		return out[i].UID < out[j].UID
	})
	return out, nil
}

func (s *MemoryStore) AddStudySeconds(_ context.Context, uid string, seconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return ErrNotFound
	}
	u.TotalStudySeconds += seconds
	u.UpdatedAt = s.now().UTC()
	s.users[uid] = u
	return nil
}

func (s *MemoryStore) AddSession(_ context.Context, sess StudySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context, uid string, limit int) ([]StudySession, error) {
	s.mu.RLock()
	out := []StudySession{}
	for _, sess := range s.sessions {
		if sess.UID == uid {
			out = append(out, sess)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
