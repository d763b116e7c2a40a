package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/gunmm/woodenfish/internal/knock"
)

const runHelp = `Commands:
  <enter>, tap     tap the wooden fish
  status           show trial and purchase status
  purchase         buy the lifetime unlock
  restore          restore a previous purchase
  text [value]     show or set the knock text
  sound [number]   show or select the sound
  help             show this help
  quit             exit`

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session",
		Long: `Start an interactive session. Each line is a command; an empty line taps.
Settings changed by another process are picked up while running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return a.runInteractive(cmd.Context(), cmd.InOrStdin())
			})
		},
	}
}

func (a *app) runInteractive(parent context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(a.controller.Run(gctx))
	})

	g.Go(func() error {
		if err := a.prefs.Watch(gctx); err != nil {
			log.Warn().Err(err).Msg("Settings changes from other processes will not be picked up")
		}
		return nil
	})

	// The reader is not part of the group: a blocked read must not hold up shutdown.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		defer cancel()
		interactive := isTerminalReader(in)
		fmt.Fprintln(a.out, "Tap the wooden fish. Type 'help' for commands.")
		for {
			if interactive {
				fmt.Fprint(a.out, "> ")
			}
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := a.handleLine(line); quit {
					return nil
				}
			}
		}
	})

	return g.Wait()
}

// handleLine runs one interactive command and reports whether to quit.
func (a *app) handleLine(line string) bool {
	fields := strings.Fields(line)
	command := ""
	if len(fields) > 0 {
		command = strings.ToLower(fields[0])
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), firstField(fields)))

	switch command {
	case "", "tap", "t":
		decision := a.gate.Tap(func(ok bool) {
			if ok {
				fmt.Fprintln(a.out, "Unlocked. Thank you!")
			} else {
				fmt.Fprintln(a.out, "Purchase not completed.")
			}
		})
		if !decision.Allowed {
			fmt.Fprintln(a.out, "Your free trial has ended.")
		}
	case "status", "s":
		printStatus(a.out, a.tracker.Status(a.now()))
	case "purchase", "buy":
		a.controller.RequestPurchase(func(ok bool) {
			if ok {
				fmt.Fprintln(a.out, "Unlocked. Thank you!")
			} else {
				fmt.Fprintln(a.out, "Purchase not completed.")
			}
		})
	case "restore":
		a.controller.RestorePurchases(func(ok bool) {
			if ok {
				fmt.Fprintln(a.out, "Purchase restored.")
			} else {
				fmt.Fprintln(a.out, "Nothing restored.")
			}
		})
	case "text":
		if rest != "" {
			if err := a.prefs.SetKnockText(rest); err != nil {
				fmt.Fprintf(a.out, "Could not save text: %v\n", err)
			}
		}
		fmt.Fprintf(a.out, "Knock text: %s\n", a.prefs.KnockText())
	case "sound":
		if len(fields) > 1 {
			if err := selectSound(a, fields[1]); err != nil {
				fmt.Fprintln(a.out, err)
			}
		}
		fmt.Fprintf(a.out, "Sound: %s\n", knock.SoundName(a.prefs.SoundIndex()))
	case "help", "h", "?":
		fmt.Fprintln(a.out, runHelp)
	case "quit", "q", "exit":
		return true
	default:
		fmt.Fprintf(a.out, "Unknown command %q. Type 'help' for commands.\n", command)
	}
	return false
}

func firstField(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isTerminalReader(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
