package data

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type purge struct {
	owner string
	kinds []string
}

// Journal writes an in-memory state behind to a StateStore. Marked records
// are re-read through read when they are written, so the store ends up with
// the latest value no matter how marks from concurrent updates interleave.
// read reports false for a record that no longer exists, which deletes it.
//
// All methods are safe on a nil *Journal and do nothing.
type Journal struct {
	store StateStore
	read  func(Ref) (any, bool)
	log   *zap.Logger
	retry time.Duration

	mu     sync.Mutex
	dirty  map[Ref]struct{}
	purges []purge

	writeMu   sync.Mutex
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewJournal starts the writer goroutine. Close stops it.
func NewJournal(store StateStore, read func(Ref) (any, bool), log *zap.Logger) *Journal {
	j := newJournal(store, read, log)
	go j.run()
	return j
}

func newJournal(store StateStore, read func(Ref) (any, bool), log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{
		store: store,
		read:  read,
		log:   log,
		retry: 2 * time.Second,
		dirty: map[Ref]struct{}{},
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Mark queues records for writing.
func (j *Journal) Mark(refs ...Ref) {
	if j == nil || len(refs) == 0 {
		return
	}
	j.mu.Lock()
	for _, r := range refs {
		j.dirty[r] = struct{}{}
	}
	j.mu.Unlock()
	j.signal()
}

// Purge queues removal of every record of kinds under owner. Purges run
// before the marked records of the same batch.
func (j *Journal) Purge(owner string, kinds ...string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.purges = append(j.purges, purge{owner: owner, kinds: kinds})
	j.mu.Unlock()
	j.signal()
}

func (j *Journal) signal() {
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *Journal) run() {
	defer close(j.done)
	ticker := time.NewTicker(j.retry)
	defer ticker.Stop()
	for {
		select {
		case <-j.wake:
		case <-ticker.C:
		case <-j.stop:
			return
		}
		_ = j.Flush(context.Background())
	}
}

// Flush writes everything marked so far. Records that fail stay queued and
// are retried on the next flush; the first error is returned.
func (j *Journal) Flush(ctx context.Context) error {
	if j == nil {
		return nil
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	j.mu.Lock()
	dirty, purges := j.dirty, j.purges
	j.dirty, j.purges = map[Ref]struct{}{}, nil
	j.mu.Unlock()
	if len(dirty) == 0 && len(purges) == 0 {
		return nil
	}

	var (
		first  error
		failed []Ref
		stuck  []purge
	)
	note := func(err error) {
		if first == nil {
			first = err
		}
	}
	for _, p := range purges {
		if err := j.store.Purge(ctx, p.owner, p.kinds...); err != nil {
			j.log.Warn("purge records", zap.String("owner", p.owner), zap.Error(err))
			note(err)
			stuck = append(stuck, p)
		}
	}
	for r := range dirty {
		var err error
		if v, ok := j.read(r); ok {
			err = j.store.Put(ctx, r, v)
		} else {
			err = j.store.Delete(ctx, r)
		}
		if err != nil {
			j.log.Warn("write record", zap.String("kind", r.Kind), zap.String("owner", r.Owner), zap.String("key", r.Key), zap.Error(err))
			note(err)
			failed = append(failed, r)
		}
	}

	if len(failed) > 0 || len(stuck) > 0 {
		j.mu.Lock()
		for _, r := range failed {
			j.dirty[r] = struct{}{}
		}
		j.purges = append(stuck, j.purges...)
		j.mu.Unlock()
	}
	return first
}

// Close stops the writer and flushes what is left.
func (j *Journal) Close(ctx context.Context) error {
	if j == nil {
		return nil
	}
	j.closeOnce.Do(func() { close(j.stop) })
	<-j.done
	return j.Flush(ctx)
}
