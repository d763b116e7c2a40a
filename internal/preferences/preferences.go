// Package preferences holds the app's regular settings: the floating knock
// text and the selected sound. They live in the app directory and are lost
// on reinstall, unlike entitlement data.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	// FileName is the preferences file inside the app directory.
	FileName = "preferences.json"

	// DefaultKnockText is shown when no knock text has been set.
	DefaultKnockText = "功德+1"
)

const reloadDebounce = 100 * time.Millisecond

type values struct {
	KnockText          *string `json:"knockText,omitempty"`
	SelectedSoundIndex *int    `json:"selectedSoundIndex,omitempty"`
}

// Store reads and writes preferences. Values are cached in memory; Watch keeps
// the cache in sync with changes made by other processes.
type Store struct {
	path       string
	soundCount int

	mu     sync.RWMutex
	values values
}

// Open loads the preferences in dir. soundCount bounds the selectable sound index.
func Open(dir string, soundCount int) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("preferences directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create app directory: %w", err)
	}

	s := &Store{
		path:       filepath.Join(dir, FileName),
		soundCount: soundCount,
	}
	if err := s.Reload(); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Ignoring unreadable preferences")
	}
	return s, nil
}

// Path returns the preferences file location.
func (s *Store) Path() string {
	return s.path
}

// KnockText returns the floating text shown on each knock.
func (s *Store) KnockText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values.KnockText == nil {
		return DefaultKnockText
	}
	return *s.values.KnockText
}

// SetKnockText stores text. Empty text removes the setting, restoring the default.
func (s *Store) SetKnockText(text string) error {
	return s.update(func(v *values) {
		if text == "" {
			v.KnockText = nil
			return
		}
		v.KnockText = &text
	})
}

// SoundIndex returns the selected sound, 0 when unset or out of range.
func (s *Store) SoundIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values.SelectedSoundIndex == nil {
		return 0
	}
	if i := *s.values.SelectedSoundIndex; s.inRange(i) {
		return i
	}
	return 0
}

// SetSoundIndex selects a sound. Out-of-range indexes are ignored and
// reported as false.
func (s *Store) SetSoundIndex(i int) (bool, error) {
	if !s.inRange(i) {
		log.Debug().Int("index", i).Int("sound_count", s.soundCount).Msg("Ignoring out-of-range sound index")
		return false, nil
	}
	return true, s.update(func(v *values) {
		v.SelectedSoundIndex = &i
	})
}

// Reset removes every preference, as an uninstall would.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove preferences: %w", err)
	}
	s.values = values{}
	return nil
}

// Reload re-reads the preferences file. A missing file yields the defaults.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.values = values{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read preferences: %w", err)
	}

	var v values
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to parse preferences: %w", err)
	}

	s.mu.Lock()
	s.values = v
	s.mu.Unlock()
	return nil
}

// Watch reloads the cache whenever the preferences file changes, until ctx
// is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create preferences watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Debug().Str("path", s.path).Msg("Watching preferences for changes")

	return s.handleEvents(ctx, watcher.Events, watcher.Errors)
}

func (s *Store) handleEvents(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != FileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				// Wait for the write to settle.
				debounce = time.After(reloadDebounce)
			}

		case <-debounce:
			debounce = nil
			if err := s.Reload(); err != nil {
				log.Warn().Err(err).Msg("Failed to reload preferences")
				continue
			}
			log.Info().Msg("Preferences reloaded")

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Preferences watcher error")
		}
	}
}

func (s *Store) inRange(i int) bool {
	return i >= 0 && i < s.soundCount
}

func (s *Store) update(mutate func(*values)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.values
	mutate(&next)

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace preferences: %w", err)
	}

	s.values = next
	return nil
}
