package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed replica can hold a run ID.
const DefaultLockTTL = 30 * time.Second

// ErrRunExists is returned when a run ID already has a recorded outcome.
var ErrRunExists = errors.New("run already exists")

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Ledger records run outcomes and makes sure each run ID is executed once.
// Local access is serialized with reference-counted locks, so unused locks
// are garbage collected; a DistributedLocker extends this across replicas.
type Ledger struct {
	store ports.OutcomeStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(l *Ledger) {
		l.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		l.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Ledger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New creates a ledger backed by store.
func New(store ports.OutcomeStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(runID) after unlocking.
func (l *Ledger) acquire(runID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[runID]
	if !exists {
		entry = &lockEntry{}
		l.locks[runID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (l *Ledger) release(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[runID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, runID)
	}
}

// Execute reserves runID, calls fn, and records the outcome fn returns.
//
// A run ID that already has an outcome (finished or still running) is
// refused with ErrRunExists. The lock is held only while reserving and
// recording, never while fn runs. The final outcome is recorded even when
// ctx was canceled.
func (l *Ledger) Execute(ctx context.Context, runID string, fn func(context.Context) (*domain.Outcome, error)) (*domain.Outcome, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	err := l.WithLock(ctx, runID, func(ctx context.Context) error {
		_, err := l.store.Load(ctx, runID)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrRunExists, runID)
		}
		if !errors.Is(err, domain.ErrRunNotFound) {
			return fmt.Errorf("failed to check run existence: %w", err)
		}
		reserved := &domain.Outcome{
			RunID:     runID,
			Status:    domain.StatusRunning,
			StartedAt: time.Now().UTC(),
		}
		if err := l.store.Save(ctx, reserved); err != nil {
			return fmt.Errorf("failed to reserve run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome, runErr := fn(ctx)
	if outcome == nil {
		return nil, runErr
	}
	outcome.RunID = runID

	saveCtx := context.WithoutCancel(ctx)
	if err := l.WithLock(saveCtx, runID, func(ctx context.Context) error {
		return l.store.Save(ctx, outcome)
	}); err != nil {
		l.logger.Error("Failed to record run outcome", "run_id", runID, "err", err)
		return outcome, errors.Join(runErr, fmt.Errorf("failed to record outcome: %w", err))
	}
	return outcome, runErr
}

// Load retrieves a recorded outcome.
func (l *Ledger) Load(ctx context.Context, runID string) (*domain.Outcome, error) {
	var outcome *domain.Outcome
	err := l.WithLock(ctx, runID, func(ctx context.Context) error {
		var err error
		outcome, err = l.store.Load(ctx, runID)
		return err
	})
	return outcome, err
}

// Delete forgets a run, so its ID may be executed again.
func (l *Ledger) Delete(ctx context.Context, runID string) error {
	return l.WithLock(ctx, runID, func(ctx context.Context) error {
		return l.store.Delete(ctx, runID)
	})
}

// List delegates to the store.
func (l *Ledger) List(ctx context.Context) ([]string, error) {
	return l.store.List(ctx)
}

// Store returns the underlying outcome store.
func (l *Ledger) Store() ports.OutcomeStore {
	return l.store
}

// WithLock executes a function while holding the lock for the run ID.
func (l *Ledger) WithLock(ctx context.Context, runID string, fn func(context.Context) error) error {
	entry := l.acquire(runID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		l.release(runID)
	}()

	if l.locker != nil {
		unlock, err := l.locker.Lock(ctx, runID, l.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				l.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"run_id", runID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
