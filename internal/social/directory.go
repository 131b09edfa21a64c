package social

import (
	"context"
	"strings"

	"github.com/wishp/circles/internal/data"
)

type LeaderboardEntry struct {
	Rank              int    `json:"rank"`
	UID               string `json:"uid"`
	DisplayName       string `json:"displayName"`
	PhotoURL          string `json:"photoURL,omitempty"`
	TotalStudySeconds int64  `json:"totalStudySeconds"`
}

// Leaderboard ranks users by total study time. Users with equal totals
// share a rank.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	out := make([]LeaderboardEntry, len(users))
	for i, u := range users {
		rank := i + 1
		if i > 0 && u.TotalStudySeconds == users[i-1].TotalStudySeconds {
			rank = out[i-1].Rank
		}
		out[i] = LeaderboardEntry{
			Rank:              rank,
			UID:               u.UID,
			DisplayName:       u.DisplayName,
			PhotoURL:          u.PhotoURL,
			TotalStudySeconds: u.TotalStudySeconds,
		}
	}
	return out, nil
}

// Search matches display names case-insensitively. The viewer and users
// blocked in either direction are left out.
func (s *Service) Search(ctx context.Context, viewer, query string, limit int) ([]data.User, error) {
	q := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if q == "" {
		return []data.User{}, nil
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := []data.User{}
	for _, u := range users {
		if u.UID == viewer || s.Blocked(viewer, u.UID) {
			continue
		}
		name := u.NameLower
		if name == "" {
			name = strings.ToLower(u.DisplayName)
		}
		if !strings.Contains(name, q) {
			continue
		}
		out = append(out, u)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
