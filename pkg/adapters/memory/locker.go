package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/espalier/pkg/ports"
)

// Locker implements ports.DistributedLocker within a single process.
// The TTL bounds how long a forgotten lock blocks other callers.
type Locker struct {
	mu    sync.Mutex
	held  map[string]*lease
	token uint64
}

type lease struct {
	token   uint64
	expires time.Time
	freed   chan struct{}
}

// NewLocker creates an in-process locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]*lease)}
}

// Lock blocks until key is free, its holder's TTL ran out, or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	for {
		l.mu.Lock()
		cur, busy := l.held[key]
		if busy && !cur.expires.IsZero() && time.Now().After(cur.expires) {
			close(cur.freed)
			delete(l.held, key)
			busy = false
		}
		if !busy {
			l.token++
			mine := &lease{token: l.token, freed: make(chan struct{})}
			if ttl > 0 {
				mine.expires = time.Now().Add(ttl)
			}
			l.held[key] = mine
			l.mu.Unlock()
			return l.unlocker(key, mine.token), nil
		}
		freed, expires := cur.freed, cur.expires
		l.mu.Unlock()

		if err := wait(ctx, freed, expires); err != nil {
			return nil, err
		}
	}
}

func wait(ctx context.Context, freed <-chan struct{}, expires time.Time) error {
	var expired <-chan time.Time
	if !expires.IsZero() {
		timer := time.NewTimer(time.Until(expires))
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-freed:
	case <-expired:
	}
	return nil
}

func (l *Locker) unlocker(key string, token uint64) ports.UnlockFunc {
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// A lease that expired and was taken over belongs to someone else.
		if cur, ok := l.held[key]; ok && cur.token == token {
			close(cur.freed)
			delete(l.held, key)
		}
		return nil
	}
}
