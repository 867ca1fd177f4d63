// Package storage coordinates access to shared cache storage.
//
// A Locker arbitrates readers and writers of a single cache entry, keyed by
// the entry's digest. Implementations range from a process-local mutex
// registry to Redis- and SQLite-backed lockers that coordinate independent
// processes sharing one storage root.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Key addresses a single cache entry in a locker.
type Key = string

// Locker reserves read and write operations on cache entries.
//
// Reservations are advisory: Start* returns false when the reservation is
// currently impossible (a writer holds the entry, or a reader blocks a
// writer) and the caller is expected to retry, typically via WaitFor.
type Locker interface {
	// StartReading tries to reserve a read operation.
	StartReading(ctx context.Context, key Key) (bool, error)

	// StopReading releases a read operation.
	StopReading(ctx context.Context, key Key) error

	// StartWriting tries to reserve an exclusive write operation.
	StartWriting(ctx context.Context, key Key) (bool, error)

	// StopWriting releases a write operation.
	StopWriting(ctx context.Context, key Key) error
}

// SizeTracker is implemented by lockers that account for the volume of the
// storage they guard.
type SizeTracker interface {
	Size(ctx context.Context) (int64, error)
	SetSize(ctx context.Context, size int64) error
	AddSize(ctx context.Context, delta int64) error
}

// NopLocker performs no locking. Suitable for single-goroutine use or
// storages that are never shared.
type NopLocker struct{}

func (NopLocker) StartReading(context.Context, Key) (bool, error) { return true, nil }
func (NopLocker) StopReading(context.Context, Key) error          { return nil }
func (NopLocker) StartWriting(context.Context, Key) (bool, error) { return true, nil }
func (NopLocker) StopWriting(context.Context, Key) error          { return nil }

// MutexLocker arbitrates goroutines within a single process.
//
// Per key it allows either any number of readers or exactly one writer.
type MutexLocker struct {
	mu      sync.Mutex
	reading map[Key]int
	writing map[Key]bool
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{
		reading: make(map[Key]int),
		writing: make(map[Key]bool),
	}
}

func (l *MutexLocker) StartReading(_ context.Context, key Key) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writing[key] {
		return false, nil
	}
	l.reading[key]++
	return true, nil
}

func (l *MutexLocker) StopReading(_ context.Context, key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.reading[key]
	if n < 1 {
		return fmt.Errorf("storage: release of unheld read lock for %q", key)
	}
	if n == 1 {
		delete(l.reading, key)
	} else {
		l.reading[key] = n - 1
	}
	return nil
}

func (l *MutexLocker) StartWriting(_ context.Context, key Key) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writing[key] || l.reading[key] > 0 {
		return false, nil
	}
	l.writing[key] = true
	return true, nil
}

func (l *MutexLocker) StopWriting(_ context.Context, key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.writing[key] {
		return fmt.Errorf("storage: release of unheld write lock for %q", key)
	}
	delete(l.writing, key)
	return nil
}

// WaitFor polls cond until it reserves successfully.
//
// After maxIterations failed attempts it gives up with an error: an operation
// holding a reservation this long usually means a crashed peer left the lock
// behind.
func WaitFor(ctx context.Context, cond func(ctx context.Context, key Key) (bool, error), key Key, interval time.Duration, maxIterations int) error {
	for i := 0; ; i++ {
		ok, err := cond(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if i >= maxIterations {
			return fmt.Errorf("storage: possible deadlock for key %q after %d attempts", key, i)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
