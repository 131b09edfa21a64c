package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// StudyLog records finished study sessions and keeps each user's running
// total in step.
type StudyLog struct {
	Users    UserStore
	Sessions SessionStore
}

// RecordSession stores s and adds its duration to the user's total. A user
// missing from the directory still gets the session logged.
func (l StudyLog) RecordSession(ctx context.Context, s StudySession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := l.Sessions.AddSession(ctx, s); err != nil {
		return err
	}
	err := l.Users.AddStudySeconds(ctx, s.UID, s.DurationSeconds)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update study total: %w", err)
	}
	return nil
}
