package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Tick advances every running countdown that has reached zero, on behalf
// of its host.
func (m *Manager) Tick(ctx context.Context) {
	type candidate struct {
		code, host string
		version    int64
	}
	now := m.now()
	m.mu.Lock()
	var pending []candidate
	for code, r := range m.rooms {
		if due(r.Timer, now) {
			pending = append(pending, candidate{code, r.HostKey, r.Version})
		}
	}
	m.mu.Unlock()

	for _, c := range pending {
		_, err := m.AdvancePhase(ctx, c.code, c.host, c.version)
		switch {
		case err == nil,
			errors.Is(err, ErrCooldown),
			errors.Is(err, ErrVersionConflict),
			errors.Is(err, ErrNotDue),
			errors.Is(err, ErrRoomNotFound):
		default:
			m.log.Warn("auto phase switch", zap.String("room", c.code), zap.Error(err))
		}
	}
}

// Run ticks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	tick := m.cfg.Tick
	if tick <= 0 {
		tick = time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick(ctx)
		}
	}
}
