package room

import (
	"context"
	"time"

	"github.com/wishp/circles/internal/data"
	"github.com/wishp/circles/internal/events"
	"go.uber.org/zap"
)

// Recorder stores finished study sessions.
type Recorder interface {
	RecordSession(ctx context.Context, s data.StudySession) error
}

// accumulator sums the running time one participant has sat through since
// the last flush.
type accumulator struct {
	uid       string
	ms        int64
	from      int64 // start of the current running stretch, 0 while paused
	startedAt int64
}

func (a *accumulator) accrue(now int64) {
	if a.from > 0 && now > a.from {
		a.ms += now - a.from
		a.from = now
	}
}

// pause closes the running stretch but keeps the total, so a paused and
// resumed phase is still one session.
func (a *accumulator) pause(now int64) {
	a.accrue(now)
	a.from = 0
}

func (a *accumulator) start(now int64) {
	a.from = now
	if a.startedAt == 0 {
		a.startedAt = now
	}
}

// flush closes the current stretch and returns a session worth recording.
// Accounting restarts at now if the timer keeps running. Flushes happen on
// phase change, reset, mode change, leave and room close; never on pause.
func (m *Manager) flush(r *Room, a *accumulator, now int64, running bool) (data.StudySession, bool) {
	a.accrue(now)
	ms, startedAt := a.ms, a.startedAt
	a.ms, a.from, a.startedAt = 0, 0, 0
	if running {
		a.start(now)
	}

	secs := ms / 1000
	if r.Timer.Phase == PhaseBreak || secs < int64(m.cfg.MinSession/time.Second) {
		return data.StudySession{}, false
	}
	s := data.StudySession{
		UID:             a.uid,
		RoomCode:        r.Code,
		Mode:            string(r.Timer.Mode),
		Phase:           string(r.Timer.Phase),
		StartedAt:       time.UnixMilli(startedAt).UTC(),
		EndedAt:         time.UnixMilli(now).UTC(),
		DurationSeconds: secs,
	}
	if r.Timer.Mode != ModeStopwatch {
		target := float64(r.Timer.Config.Focus * 60)
		s.Completed = float64(secs) > m.cfg.CompletionRatio*target
	}
	return s, true
}

// flushAll flushes every participant of r. Caller holds m.mu.
func (m *Manager) flushAll(r *Room, now int64, running bool) []data.StudySession {
	var out []data.StudySession
	for _, a := range m.accs[r.Code] {
		if s, ok := m.flush(r, a, now, running); ok {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) pauseAll(code string, now int64) {
	for _, a := range m.accs[code] {
		a.pause(now)
	}
}

func (m *Manager) startAll(code string, now int64) {
	for _, a := range m.accs[code] {
		a.start(now)
	}
}

func (m *Manager) record(ctx context.Context, sessions []data.StudySession) {
	for _, s := range sessions {
		if m.rec != nil {
			if err := m.rec.RecordSession(ctx, s); err != nil {
				m.log.Error("record study session", zap.String("room", s.RoomCode), zap.String("uid", s.UID), zap.Error(err))
				continue
			}
		}
		m.emit(ctx, events.Event{
			Type:  events.SessionRecorded,
			Actor: s.UID,
			Ref:   s.RoomCode,
			Data:  map[string]any{"seconds": s.DurationSeconds, "mode": s.Mode, "completed": s.Completed},
		})
	}
}
