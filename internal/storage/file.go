package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"notespace/internal/debounce"
	"notespace/internal/domain"
)

const reloadQuiet = 150 * time.Millisecond

// FileStore implements LocalStore on a single JSON file, written atomically.
type FileStore struct {
	path string
	seed Seed
	log  zerolog.Logger

	mu          sync.Mutex
	lastWritten []byte
}

func NewFileStore(path string, seed Seed, log zerolog.Logger) *FileStore {
	if seed == nil {
		seed = defaultSeed
	}
	return &FileStore{path: path, seed: seed, log: log.With().Str("component", "filestore").Logger()}
}

func (s *FileStore) Load(ctx context.Context) (domain.AppData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		data := s.seed()
		return data, s.write(data)
	}
	if err != nil {
		return domain.AppData{}, fmt.Errorf("read app data: %w", err)
	}
	data, upgraded, err := decodeAppData(raw)
	if err != nil {
		return domain.AppData{}, err
	}
	if upgraded {
		s.log.Info().Str("path", s.path).Msg("upgraded single-workspace cache")
		if err := s.write(data); err != nil {
			return domain.AppData{}, err
		}
	} else {
		s.lastWritten = raw
	}
	return data, nil
}

func (s *FileStore) Save(ctx context.Context, data domain.AppData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(data)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) write(data domain.AppData) error {
	raw, err := encodeAppData(data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("write app data: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace app data: %w", err)
	}
	s.lastWritten = raw
	return nil
}

// Watch calls onChange whenever the file is replaced by someone other than
// this store, e.g. a restore from backup or a sync tool. Bursts of events
// collapse into one reload. Watch blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, onChange func(domain.AppData)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// fsnotify watches dirs for file events
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	target, _ := filepath.Abs(s.path)

	sched := debounce.New()
	defer sched.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if abs, _ := filepath.Abs(event.Name); abs != target {
				continue
			}
			sched.Schedule(target, reloadQuiet, func() { s.reload(onChange) })
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (s *FileStore) reload(onChange func(domain.AppData)) {
	s.mu.Lock()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("reload app data")
		return
	}
	if bytes.Equal(raw, s.lastWritten) {
		s.mu.Unlock()
		return
	}
	data, _, err := decodeAppData(raw)
	if err == nil {
		s.lastWritten = raw
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Msg("reload app data")
		return
	}
	s.log.Info().Str("path", s.path).Msg("app data replaced externally")
	onChange(data)
}
