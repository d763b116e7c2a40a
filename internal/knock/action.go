// Package knock performs the app's primary action: a haptic tap, the selected
// sound and the floating text.
package knock

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Haptics plays an impact.
type Haptics interface {
	Impact()
}

// SoundPlayer plays an audio clip.
type SoundPlayer interface {
	Play(path string) error
}

// Overlay shows text that floats away over the fish.
type Overlay interface {
	Show(text string)
}

// Settings supplies the user's choices.
type Settings interface {
	KnockText() string
	SoundIndex() int
}

// Result describes what a knock did.
type Result struct {
	Sound string // resolved clip path, empty if none played
	Text  string // floating text, empty if none shown
}

// Action wires the feedback collaborators together.
type Action struct {
	Haptics   Haptics
	Player    SoundPlayer
	Overlay   Overlay
	Settings  Settings
	AssetsDir string
}

// Perform runs one knock. Missing collaborators and missing clips are skipped.
func (a *Action) Perform() Result {
	var res Result

	if a.Haptics != nil {
		a.Haptics.Impact()
	}

	index, text := 0, ""
	if a.Settings != nil {
		index, text = a.Settings.SoundIndex(), a.Settings.KnockText()
	}

	if a.Player != nil {
		path, err := ResolveSound(a.AssetsDir, index)
		if err != nil {
			log.Warn().Err(err).Str("assets_dir", a.AssetsDir).Msg("Skipping knock sound")
		} else if err := a.Player.Play(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Could not play knock sound")
		} else {
			res.Sound = path
		}
	}

	if text != "" && a.Overlay != nil {
		a.Overlay.Show(text)
		res.Text = text
	}

	return res
}

// Terminal renders feedback as lines on a writer.
type Terminal struct {
	W io.Writer
}

// Impact implements Haptics.
func (t Terminal) Impact() {
	fmt.Fprintln(t.W, "*tok*")
}

// Play implements SoundPlayer.
func (t Terminal) Play(path string) error {
	name := strings.TrimSuffix(filepath.Base(path), SoundExt)
	_, err := fmt.Fprintf(t.W, "♪ %s\n", name)
	return err
}

// Show implements Overlay.
func (t Terminal) Show(text string) {
	fmt.Fprintf(t.W, "  %s\n", text)
}
