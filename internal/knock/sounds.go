package knock

import (
	"fmt"
	"os"
	"path/filepath"
)

// SoundExt is the extension of bundled sound clips.
const SoundExt = ".m4a"

// SoundSubdir is the alternate asset directory searched for clips.
const SoundSubdir = "sound"

var soundFiles = []string{
	"01片段1",
	"02片段2",
	"03片段3",
	"04片段4",
	"05片段5",
	"06片段6",
}

// SoundCount is the number of selectable sounds.
func SoundCount() int {
	return len(soundFiles)
}

// SoundName returns the display name of sound i ("01", "02", ...).
func SoundName(i int) string {
	return fmt.Sprintf("%02d", i+1)
}

// SoundFile returns the clip base name for sound i.
func SoundFile(i int) (string, bool) {
	if i < 0 || i >= len(soundFiles) {
		return "", false
	}
	return soundFiles[i], true
}

// ResolveSound finds the clip for sound i under root, trying root itself and
// then its sound subdirectory.
func ResolveSound(root string, i int) (string, error) {
	name, ok := SoundFile(i)
	if !ok {
		return "", fmt.Errorf("sound index %d out of range", i)
	}

	candidates := []string{
		filepath.Join(root, name+SoundExt),
		filepath.Join(root, SoundSubdir, name+SoundExt),
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("could not find sound file %s%s", name, SoundExt)
}
