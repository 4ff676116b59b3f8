// Package lockfile provides cross-process mutual exclusion over files shared
// by the live loop, the backtester and the downloader. Locks are reentrant
// within one Coordinator (the logical owner) and carry their acquisition time
// on disk so that abandoned locks left behind by crashed holders can be
// detected and reclaimed.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/obs"
)

var (
	ErrLockTimeout = errors.New("lockfile: acquisition timed out")
	ErrNotHeld     = errors.New("lockfile: releasing a lock that is not held")
)

// StalePolicy selects the remediation when a lock's recorded acquisition time
// exceeds the staleness threshold.
type StalePolicy int

const (
	// StaleBreak removes the abandoned lock file and retries immediately.
	StaleBreak StalePolicy = iota
	// StaleWait keeps backing off until the holder releases or the timeout hits.
	StaleWait
)

const (
	defaultTimeout        = 10 * time.Second
	defaultStaleThreshold = 180 * time.Second
	backoffInitial        = 100 * time.Millisecond
	backoffMax            = 2 * time.Second
)

// Config controls acquisition behavior.
type Config struct {
	// Timeout bounds a single Acquire call. Zero means the 10s default.
	Timeout time.Duration
	// StaleThreshold is the age after which a held lock counts as abandoned.
	// Zero means the 180s default.
	StaleThreshold time.Duration
	// StalePolicy picks what to do with an abandoned lock.
	StalePolicy StalePolicy
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaultStaleThreshold
	}
	return c
}

// Coordinator acquires and releases file-backed locks. One Coordinator is one
// logical owner: nested Acquire calls for a resource it already holds only
// increment a counter and never touch the lock file again.
type Coordinator struct {
	cfg   Config
	token string

	mu   sync.Mutex
	held map[string]*lockRecord
}

type lockRecord struct {
	depth int
}

// Lock is a scoped handle for one acquisition. Every Lock must be released
// exactly once; use WithLock when possible to guarantee that.
type Lock struct {
	c        *Coordinator
	resource string
	released bool
}

// NewCoordinator creates a coordinator with its own owner token.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		cfg:   cfg.withDefaults(),
		token: uuid.NewString(),
		held:  make(map[string]*lockRecord),
	}
}

// Acquire obtains the lock for resource, blocking with exponential backoff
// (0.1s doubling, capped at 2s) until the configured timeout. A resource
// already held by this coordinator is granted immediately.
func (c *Coordinator) Acquire(ctx context.Context, resource string) (*Lock, error) {
	c.mu.Lock()
	if rec, ok := c.held[resource]; ok {
		rec.depth++
		c.mu.Unlock()
		return &Lock{c: c, resource: resource}, nil
	}
	c.mu.Unlock()

	deadline := time.Now().Add(c.cfg.Timeout)
	wait := backoffInitial
	for {
		ok, err := c.tryLockFile(resource)
		if err != nil {
			return nil, errors.Wrap(err, "try lock file")
		}
		if ok {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			obs.LockTimeouts.Inc()
			return nil, ErrLockTimeout
		}
		// Clamp the last sleep so the full budget is spent and the lock
		// gets one final try at the deadline.
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > backoffMax {
			wait = backoffMax
		}
	}

	c.mu.Lock()
	if rec, ok := c.held[resource]; ok {
		// Another goroutine of this owner won the file in the meantime.
		rec.depth++
		c.mu.Unlock()
		_ = os.Remove(lockPath(resource))
		return &Lock{c: c, resource: resource}, nil
	}
	c.held[resource] = &lockRecord{depth: 1}
	c.mu.Unlock()
	return &Lock{c: c, resource: resource}, nil
}

// WithLock runs fn while holding the resource lock, releasing it on every
// exit path including panics.
func (c *Coordinator) WithLock(ctx context.Context, resource string, fn func() error) error {
	lock, err := c.Acquire(ctx, resource)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// Release undoes one Acquire. Only the final release at net-zero depth drops
// the on-disk lock. Releasing twice is a no-op.
func (l *Lock) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	l.c.release(l.resource)
}

func (c *Coordinator) release(resource string) {
	c.mu.Lock()
	rec, ok := c.held[resource]
	if !ok {
		c.mu.Unlock()
		logs.Warnf("[lock] %v: %s", ErrNotHeld, resource)
		return
	}
	rec.depth--
	if rec.depth > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.held, resource)
	c.mu.Unlock()
	if err := os.Remove(lockPath(resource)); err != nil && !os.IsNotExist(err) {
		logs.Warnf("[lock] drop lock file for %s, err: %+v", resource, err)
	}
}

// Depth reports the current reentrancy depth for a resource. Zero means not held.
func (c *Coordinator) Depth(resource string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.held[resource]; ok {
		return rec.depth
	}
	return 0
}

// tryLockFile attempts a single non-blocking acquisition of the on-disk lock.
// The lock file is created exclusively and records acquisition time, pid and
// owner token for staleness checks and post-mortem debugging.
func (c *Coordinator) tryLockFile(resource string) (bool, error) {
	path := lockPath(resource)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, werr := fmt.Fprintf(f, "%d %d %s\n", time.Now().UnixMilli(), os.Getpid(), c.token)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(path)
			if werr != nil {
				return false, werr
			}
			return false, cerr
		}
		return true, nil
	}
	if !os.IsExist(err) {
		return false, err
	}

	acquiredAt, readErr := readLockTime(path)
	if readErr != nil {
		// Holder may be mid-write or already gone; treat as contended.
		return false, nil
	}
	if time.Since(acquiredAt) <= c.cfg.StaleThreshold {
		return false, nil
	}
	if c.cfg.StalePolicy == StaleWait {
		return false, nil
	}
	// Abandoned by a crashed holder: break it and let the caller retry.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	obs.StaleLockBreaks.Inc()
	logs.Warnf("[lock] broke stale lock %s (held since %s)", path, acquiredAt.UTC().Format(time.RFC3339))
	return false, nil
}

func readLockTime(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return time.Time{}, errors.New("empty lock file")
	}
	ms, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func lockPath(resource string) string {
	return resource + ".lock"
}
