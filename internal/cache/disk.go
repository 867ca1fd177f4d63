package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"connectome/internal/engine"
	"connectome/internal/storage"
)

const (
	dataFileName = "value"

	// Lock acquisition polls until the watchdog gives up.
	lockPollInterval  = 50 * time.Millisecond
	lockMaxIterations = 600
)

// Disk is a Storage backed by a directory tree shared between processes.
//
// Each entry lives in its own directory derived from the digest via the
// root's layout config. Readers and writers of the same entry are serialized
// through the Locker; the entry file itself is committed with a rename so a
// crash never leaves a partial value behind.
type Disk struct {
	root       string
	cfg        storage.Config
	locker     storage.Locker
	serializer Serializer
}

// NewDisk opens (initializing if needed) a disk store at root.
func NewDisk(root string, locker storage.Locker, serializer Serializer) (*Disk, error) {
	cfg, err := storage.Init(root, storage.Config{})
	if err != nil {
		return nil, err
	}
	if locker == nil {
		locker = storage.NopLocker{}
	}
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	return &Disk{root: root, cfg: cfg, locker: locker, serializer: serializer}, nil
}

func (d *Disk) entryPath(digest engine.Digest) (string, error) {
	return d.cfg.PathFor(d.root, digest.String())
}

func (d *Disk) lockReading(ctx context.Context, key storage.Key) error {
	return storage.WaitFor(ctx, d.locker.StartReading, key, lockPollInterval, lockMaxIterations)
}

func (d *Disk) lockWriting(ctx context.Context, key storage.Key) error {
	return storage.WaitFor(ctx, d.locker.StartWriting, key, lockPollInterval, lockMaxIterations)
}

func (d *Disk) Contains(digest engine.Digest) (bool, error) {
	ctx := context.Background()
	dir, err := d.entryPath(digest)
	if err != nil {
		return false, err
	}

	key := storage.Key(digest)
	if err := d.lockReading(ctx, key); err != nil {
		return false, err
	}
	defer func() { _ = d.locker.StopReading(ctx, key) }()

	_, err = os.Stat(filepath.Join(dir, dataFileName))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("cache: probing entry %s: %w", digest, err)
}

func (d *Disk) Get(digest engine.Digest) (engine.Value, error) {
	ctx := context.Background()
	dir, err := d.entryPath(digest)
	if err != nil {
		return nil, err
	}

	key := storage.Key(digest)
	if err := d.lockReading(ctx, key); err != nil {
		return nil, err
	}
	defer func() { _ = d.locker.StopReading(ctx, key) }()

	data, err := os.ReadFile(filepath.Join(dir, dataFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: reading entry %s: %w", digest, err)
	}
	return d.serializer.Unmarshal(data)
}

func (d *Disk) Set(digest engine.Digest, v engine.Value) error {
	ctx := context.Background()
	dir, err := d.entryPath(digest)
	if err != nil {
		return err
	}

	key := storage.Key(digest)
	if err := d.lockWriting(ctx, key); err != nil {
		return err
	}
	defer func() { _ = d.locker.StopWriting(ctx, key) }()

	target := filepath.Join(dir, dataFileName)
	if _, err := os.Stat(target); err == nil {
		// A racing writer already committed this entry.
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cache: probing entry %s: %w", digest, err)
	}

	data, err := d.serializer.Marshal(v)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: creating entry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, dataFileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("cache: staging entry %s: %w", digest, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("cache: writing entry %s: %w", digest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: writing entry %s: %w", digest, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("cache: committing entry %s: %w", digest, err)
	}

	if tracker, ok := d.locker.(storage.SizeTracker); ok {
		if err := tracker.AddSize(ctx, int64(len(data))); err != nil {
			return fmt.Errorf("cache: recording entry size: %w", err)
		}
	}
	return nil
}

// Size reports the tracked byte volume of the store, if the locker keeps one.
func (d *Disk) Size(ctx context.Context) (int64, error) {
	tracker, ok := d.locker.(storage.SizeTracker)
	if !ok {
		return 0, errors.New("cache: locker does not track sizes")
	}
	return tracker.Size(ctx)
}
