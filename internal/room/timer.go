package room

import (
	"fmt"
	"time"
)

// elapsedMs is the time the timer has run in its current phase.
func elapsedMs(t Timer, now time.Time) int64 {
	e := t.Elapsed
	if t.IsRunning {
		if d := now.UnixMilli() - t.StartTime; d > 0 {
			e += d
		}
	}
	return e
}

// targetSeconds is the length of the current phase; zero for stopwatch.
func targetSeconds(t Timer) int64 {
	if t.Mode == ModeStopwatch {
		return 0
	}
	if t.Phase == PhaseBreak {
		return int64(t.Config.Break) * 60
	}
	return int64(t.Config.Focus) * 60
}

// DisplaySeconds is what every client shows: seconds elapsed for a
// stopwatch, seconds remaining for a countdown.
func DisplaySeconds(t Timer, now time.Time) int64 {
	secs := elapsedMs(t, now) / 1000
	if t.Mode == ModeStopwatch {
		return secs
	}
	if rem := targetSeconds(t) - secs; rem > 0 {
		return rem
	}
	return 0
}

// due reports whether a running countdown has reached zero.
func due(t Timer, now time.Time) bool {
	return t.IsRunning && t.Mode != ModeStopwatch && DisplaySeconds(t, now) == 0
}

func nextPhase(p Phase) Phase {
	if p == PhaseFocus {
		return PhaseBreak
	}
	return PhaseFocus
}

// Clock formats seconds as mm:ss, or h:mm:ss past an hour.
func Clock(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// status is the read-only line shown to participants who are not host.
func status(r *Room, now time.Time) string {
	label := "Focus"
	if r.Timer.Phase == PhaseBreak {
		label = "Break"
	}
	if r.Timer.Mode == ModeStopwatch {
		label = "Stopwatch"
	}
	state := "paused"
	if r.Timer.IsRunning {
		state = "running"
	}
	host := "no host"
	if p, ok := r.Participants[r.HostKey]; ok {
		host = "host " + p.Name
	}
	return fmt.Sprintf("%s %s (%s, %s)", label, Clock(DisplaySeconds(r.Timer, now)), state, host)
}
