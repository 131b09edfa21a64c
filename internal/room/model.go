// Package room runs group study rooms: a participant list, a shared timer
// controlled by one host, room chat and per-participant study accounting.
package room

import (
	"errors"
	"fmt"
)

type Mode string

const (
	ModeStopwatch Mode = "stopwatch"
	ModeShort     Mode = "25/5"
	ModeLong      Mode = "50/10"
	ModeCustom    Mode = "custom"
)

type Phase string

const (
	PhaseFocus Phase = "focus"
	PhaseBreak Phase = "break"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotHost         = errors.New("only the host can do that")
	ErrNotParticipant  = errors.New("not a participant of this room")
	ErrVersionConflict = errors.New("timer changed since it was read")
	ErrCooldown        = errors.New("phase switched too recently")
	ErrNotDue          = errors.New("phase has time remaining")
	ErrInvalidMode     = errors.New("invalid timer mode")
	ErrEmptyMessage    = errors.New("message is empty")
)

// PhaseConfig holds pomodoro lengths in minutes.
type PhaseConfig struct {
	Focus int `json:"focus"`
	Break int `json:"break"`
}

const (
	maxFocusMinutes = 180
	maxBreakMinutes = 60
)

// ConfigFor returns the phase lengths used by mode. custom is only read for
// ModeCustom.
func ConfigFor(mode Mode, custom PhaseConfig) (PhaseConfig, error) {
	switch mode {
	case ModeStopwatch:
		return PhaseConfig{}, nil
	case ModeShort:
		return PhaseConfig{Focus: 25, Break: 5}, nil
	case ModeLong:
		return PhaseConfig{Focus: 50, Break: 10}, nil
	case ModeCustom:
		if custom.Focus < 1 || custom.Focus > maxFocusMinutes || custom.Break < 1 || custom.Break > maxBreakMinutes {
			return PhaseConfig{}, fmt.Errorf("%w: focus 1-%d, break 1-%d minutes", ErrInvalidMode, maxFocusMinutes, maxBreakMinutes)
		}
		return custom, nil
	}
	return PhaseConfig{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
}

// Timer is the shared timer state. StartTime is unix ms of the last start;
// Elapsed is ms accumulated before it.
type Timer struct {
	IsRunning bool        `json:"isRunning"`
	StartTime int64       `json:"startTime"`
	Elapsed   int64       `json:"elapsed"`
	Mode      Mode        `json:"mode"`
	Phase     Phase       `json:"phase"`
	Config    PhaseConfig `json:"config"`
}

type Participant struct {
	Key      string `json:"key"`
	UID      string `json:"uid"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
}

type ChatLine struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Room is the state shared by everyone in a room. Version increases on
// every timer or host change.
type Room struct {
	Code         string                 `json:"code"`
	Name         string                 `json:"name,omitempty"`
	HostKey      string                 `json:"hostKey"`
	Timer        Timer                  `json:"timer"`
	Participants map[string]Participant `json:"participants"`
	Messages     []ChatLine             `json:"messages"`
	Version      int64                  `json:"version"`
	CreatedAt    int64                  `json:"createdAt"`
}

func (r *Room) clone() Room {
	cp := *r
	cp.Participants = make(map[string]Participant, len(r.Participants))
	for k, p := range r.Participants {
		cp.Participants[k] = p
	}
	cp.Messages = append([]ChatLine(nil), r.Messages...)
	return cp
}

// View is a room as seen by one participant at one instant.
type View struct {
	Room           Room   `json:"room"`
	Key            string `json:"key,omitempty"`
	IsHost         bool   `json:"isHost"`
	DisplaySeconds int64  `json:"displaySeconds"`
	Status         string `json:"status"`
}
