package preferences

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

const testSoundCount = 6

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, testSoundCount)
	require.NoError(t, err)
	return s
}

func TestDefaults(t *testing.T) {
	s := openStore(t, t.TempDir())

	require.Equal(t, DefaultKnockText, s.KnockText())
	require.Equal(t, 0, s.SoundIndex())
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open("  ", testSoundCount)
	require.Error(t, err)
}

func TestKnockTextPersistsAndEmptyRestoresDefault(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	require.NoError(t, s.SetKnockText("平安+1"))
	require.Equal(t, "平安+1", s.KnockText())
	require.Equal(t, "平安+1", openStore(t, dir).KnockText())

	require.NoError(t, s.SetKnockText(""))
	require.Equal(t, DefaultKnockText, s.KnockText())
	require.Equal(t, DefaultKnockText, openStore(t, dir).KnockText())
}

func TestSetSoundIndex(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	ok, err := s.SetSoundIndex(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, s.SoundIndex())

	for _, bad := range []int{-1, testSoundCount, 99} {
		ok, err := s.SetSoundIndex(bad)
		require.NoError(t, err)
		require.False(t, ok, "index %d should be ignored", bad)
		require.Equal(t, 3, s.SoundIndex())
	}

	require.Equal(t, 3, openStore(t, dir).SoundIndex())
}

func TestStoredOutOfRangeIndexReadsAsZero(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{"selectedSoundIndex": 12}`), 0o600))

	require.Equal(t, 0, openStore(t, dir).SoundIndex())
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o600))

	s := openStore(t, dir)
	require.Equal(t, DefaultKnockText, s.KnockText())
	require.Error(t, s.Reload())

	require.NoError(t, s.SetKnockText("ok"))
	require.NoError(t, s.Reload())
	require.Equal(t, "ok", s.KnockText())
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	require.NoError(t, s.SetKnockText("custom"))
	_, err := s.SetSoundIndex(2)
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	require.Equal(t, DefaultKnockText, s.KnockText())
	require.Equal(t, 0, s.SoundIndex())
	_, err = os.Stat(s.Path())
	require.True(t, os.IsNotExist(err))

	require.NoError(t, s.Reset(), "reset without a file is a no-op")
}

func TestHandleEventsReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	other := openStore(t, dir)

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.handleEvents(ctx, events, errs) }()

	require.NoError(t, other.SetKnockText("from elsewhere"))
	events <- fsnotify.Event{Name: filepath.Join(dir, "unrelated.json"), Op: fsnotify.Write}
	events <- fsnotify.Event{Name: other.Path(), Op: fsnotify.Write}

	require.Eventually(t, func() bool {
		return s.KnockText() == "from elsewhere"
	}, 2*time.Second, 20*time.Millisecond)

	errs <- os.ErrInvalid

	cancel()
	require.NoError(t, <-done)
}

func TestWatchPicksUpExternalChanges(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Watch(ctx) }()

	other := openStore(t, dir)
	require.Eventually(t, func() bool {
		// Rewrite until the watcher has been registered and reacted.
		_, _ = other.SetSoundIndex(5)
		return s.SoundIndex() == 5
	}, 3*time.Second, 150*time.Millisecond)
}
