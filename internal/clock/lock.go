package clock

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/orcherrors"
)

// staleLockAge is the default staleness window for the opt-in stale-file
// lock strategy (spec.md §4.A: "a fallback strategy that treats a lock
// older than 10 minutes as stale is permitted as an opt-in, not the
// default").
const staleLockAge = 10 * time.Minute

// TickLock is an exclusive, OS-enforced lock held across one reconciler
// tick. A crashed reconciler must release it without a stale-file race,
// so the default strategy is an OS advisory flock (syscall.Flock), not a
// TTL check.
type TickLock interface {
	// Acquire attempts a non-blocking lock. It returns
	// orcherrors.LockContention if another instance holds the lock.
	Acquire() error
	Release()
}

// osLock wraps syscall.Flock, adapted directly from the teacher's
// internal/health/flock.go AcquireFlock/ReleaseFlock.
type osLock struct {
	path string
	file *os.File
}

// NewOSLock returns a TickLock backed by an OS advisory file lock at path.
func NewOSLock(path string) TickLock {
	return &osLock{path: path}
}

func (l *osLock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return orcherrors.Wrapf(orcherrors.LockContention, "lock: open %s: %w", l.path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return orcherrors.Wrapf(orcherrors.LockContention, "another kanbanctl instance is running (lock: %s)", l.path)
	}

	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	l.file = f
	return nil
}

func (l *osLock) Release() {
	if l.file == nil {
		return
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	name := l.file.Name()
	l.file.Close()
	os.Remove(name)
	l.file = nil
}

// staleFileLock is the opt-in fallback strategy: a lock file older than
// staleLockAge is treated as abandoned and stolen. Never the default —
// enabling it trades the crash-safety of flock for tolerance of
// filesystems (e.g. some network mounts) where advisory locks don't work.
type staleFileLock struct {
	path string
	age  time.Duration
}

// NewStaleFileLock returns the opt-in TTL-based lock fallback.
func NewStaleFileLock(path string, age time.Duration) TickLock {
	if age <= 0 {
		age = staleLockAge
	}
	return &staleFileLock{path: path, age: age}
}

func (l *staleFileLock) Acquire() error {
	info, err := os.Stat(l.path)
	if err == nil && time.Since(info.ModTime()) < l.age {
		return orcherrors.Wrapf(orcherrors.LockContention, "lock file %s held and not stale", l.path)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return orcherrors.Wrapf(orcherrors.LockContention, "lock: create %s: %w", l.path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return nil
}

func (l *staleFileLock) Release() {
	os.Remove(l.path)
}
