// Package filemarker keeps admission markers as files on a shared
// filesystem. Every operation is a single create, link, read or unlink,
// so concurrent processes need no coordination beyond the filesystem.
package filemarker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ingest-service/internal/bucketing"
	"ingest-service/internal/ratelimit"

	"github.com/google/uuid"
)

const (
	attemptsDir   = "rate_limits"
	blocksDir     = "rate_blocks"
	attemptSuffix = ".req"
	blockSuffix   = ".block"
)

type Store struct {
	root    string
	buckets *bucketing.Manager
}

var _ ratelimit.MarkerStore = (*Store)(nil)

// NewStore prepares the marker directories under root.
func NewStore(root string, buckets *bucketing.Manager) (*Store, error) {
	for _, dir := range []string{filepath.Join(root, attemptsDir), filepath.Join(root, blocksDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create marker dir %s: %w", dir, err)
		}
	}
	return &Store{root: root, buckets: buckets}, nil
}

func (s *Store) keyDir(key string) string {
	return filepath.Join(s.root, attemptsDir, s.buckets.BucketName(key), key)
}

func (s *Store) blockPath(key string) string {
	return filepath.Join(s.root, blocksDir, key+blockSuffix)
}

func (s *Store) BlockedUntil(_ context.Context, key string) (time.Time, bool, error) {
	data, err := os.ReadFile(s.blockPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		// Unreadable content counts as expired so the marker gets replaced.
		return time.Time{}, true, nil
	}
	return time.Unix(0, nanos), true, nil
}

// CreateBlock writes the marker to a private temp file and hard-links it
// into place. The link fails if the marker already exists, and readers
// never observe a partially written file.
func (s *Store) CreateBlock(_ context.Context, key string, until time.Time, _ time.Duration) (bool, error) {
	dir := filepath.Join(s.root, blocksDir)
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(until.UnixNano(), 10)), 0o644); err != nil {
		return false, fmt.Errorf("write block marker: %w", err)
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, s.blockPath(key)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("link block marker: %w", err)
	}
	return true, nil
}

func (s *Store) DeleteBlock(_ context.Context, key string) error {
	return removeIfExists(s.blockPath(key))
}

func (s *Store) ListAttempts(_ context.Context, key string) ([]ratelimit.Attempt, error) {
	entries, err := os.ReadDir(s.keyDir(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attempts := make([]ratelimit.Attempt, 0, len(entries))
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), attemptSuffix)
		if !ok || e.IsDir() {
			continue
		}
		at, ok := ratelimit.ParseAttemptName(name)
		if !ok {
			info, err := e.Info()
			if err != nil {
				continue
			}
			at = info.ModTime()
		}
		attempts = append(attempts, ratelimit.Attempt{Name: name, At: at})
	}
	return attempts, nil
}

func (s *Store) AddAttempt(_ context.Context, key string, a ratelimit.Attempt, _ time.Duration) error {
	dir := s.keyDir(key)
	path := filepath.Join(dir, a.Name+attemptSuffix)

	// A concurrent sweep may remove the empty key directory between
	// MkdirAll and the create, so retry once.
	var err error
	for i := 0; i < 2; i++ {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		var f *os.File
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f.Close()
		}
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	return fmt.Errorf("create attempt marker: %w", err)
}

func (s *Store) DeleteAttempts(_ context.Context, key string, names []string) error {
	dir := s.keyDir(key)
	var errs []error
	for _, name := range names {
		if err := removeIfExists(filepath.Join(dir, name+attemptSuffix)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) ClearAttempts(ctx context.Context, key string) error {
	attempts, err := s.ListAttempts(ctx, key)
	if err != nil {
		return err
	}
	names := make([]string, len(attempts))
	for i, a := range attempts {
		names[i] = a.Name
	}
	return s.DeleteAttempts(ctx, key, names)
}

// Sweep walks every key directory, removing attempt markers older than
// cutoff, key directories left empty, and block markers that have expired.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	bucketDirs, err := os.ReadDir(filepath.Join(s.root, attemptsDir))
	if err != nil {
		return 0, err
	}

	for _, b := range bucketDirs {
		if !b.IsDir() {
			continue
		}
		bucketPath := filepath.Join(s.root, attemptsDir, b.Name())
		keyDirs, err := os.ReadDir(bucketPath)
		if err != nil {
			continue
		}
		for _, k := range keyDirs {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if !k.IsDir() {
				continue
			}
			attempts, err := s.ListAttempts(ctx, k.Name())
			if err != nil {
				continue
			}
			kept := len(attempts)
			for _, a := range attempts {
				if !a.At.Before(cutoff) {
					continue
				}
				if err := removeIfExists(filepath.Join(bucketPath, k.Name(), a.Name+attemptSuffix)); err == nil {
					removed++
					kept--
				}
			}
			if kept == 0 {
				_ = os.Remove(filepath.Join(bucketPath, k.Name()))
			}
		}
	}

	blocks, err := os.ReadDir(filepath.Join(s.root, blocksDir))
	if err != nil {
		return removed, err
	}
	for _, e := range blocks {
		key, ok := strings.CutSuffix(e.Name(), blockSuffix)
		if !ok {
			continue
		}
		until, found, err := s.BlockedUntil(ctx, key)
		if err == nil && found && until.Before(cutoff) {
			_ = removeIfExists(s.blockPath(key))
		}
	}
	return removed, nil
}

// Ping verifies both marker directories accept new files.
func (s *Store) Ping(_ context.Context) error {
	for _, dir := range []string{attemptsDir, blocksDir} {
		f, err := os.CreateTemp(filepath.Join(s.root, dir), ".ping-*")
		if err != nil {
			return fmt.Errorf("%s not writable: %w", dir, err)
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
