// Package data provides the user directory, the study-session log and the
// record store behind chat and social state, backed by MongoDB or kept in
// memory.
package data

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

// User maps to the users collection.
type User struct {
	UID               string    `bson:"_id" json:"uid"`
	DisplayName       string    `bson:"display_name" json:"displayName"`
	NameLower         string    `bson:"display_name_lower" json:"-"`
	PhotoURL          string    `bson:"photo_url,omitempty" json:"photoURL,omitempty"`
	Bio               string    `bson:"bio,omitempty" json:"bio,omitempty"`
	TotalStudySeconds int64     `bson:"total_study_seconds" json:"totalStudySeconds"`
	CreatedAt         time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updatedAt"`
}

// StudySession maps to the study_sessions collection.
type StudySession struct {
	ID              string    `bson:"_id" json:"id"`
	UID             string    `bson:"uid" json:"uid"`
	RoomCode        string    `bson:"room_code,omitempty" json:"roomCode,omitempty"`
	Mode            string    `bson:"mode" json:"mode"`
	Phase           string    `bson:"phase" json:"phase"`
	StartedAt       time.Time `bson:"started_at" json:"startedAt"`
	EndedAt         time.Time `bson:"ended_at" json:"endedAt"`
	DurationSeconds int64     `bson:"duration_seconds" json:"durationSeconds"`
	Completed       bool      `bson:"completed" json:"completed"`
}

type UserStore interface {
	// UpsertUser creates the user or updates its profile fields. The study
	// total is never overwritten.
	UpsertUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, uid string) (User, error)
	// ListUsers returns every user, highest study total first.
	ListUsers(ctx context.Context) ([]User, error)
	AddStudySeconds(ctx context.Context, uid string, seconds int64) error
}

type SessionStore interface {
	AddSession(ctx context.Context, s StudySession) error
	// ListSessions returns uid's sessions, newest first. limit <= 0 means all.
	ListSessions(ctx context.Context, uid string, limit int) ([]StudySession, error)
}

func normalizeUser(u User, now time.Time) User {
	u.DisplayName = strings.Join(strings.Fields(u.DisplayName), " ")
	u.NameLower = strings.ToLower(u.DisplayName)
	u.UpdatedAt = now
	return u
}
