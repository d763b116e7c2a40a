package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gunmm/woodenfish/internal/knock"
	"github.com/gunmm/woodenfish/pkg/entitlement"
)

// withApp wires the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *options, fn func(a *app) error) error {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newTapCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tap",
		Short: "Tap the wooden fish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				decision, ok, err := a.tap(cmd.Context())
				if decision.Allowed {
					return nil
				}
				fmt.Fprintln(a.out, "Your free trial has ended.")
				a.printPurchaseResult(ok, err)
				return ignoreStillPending(err)
			})
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show trial and purchase status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				status := a.tracker.Status(a.now())
				if asJSON {
					enc := json.NewEncoder(a.out)
					enc.SetIndent("", "  ")
					return enc.Encode(status)
				}
				printStatus(a.out, status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func newPurchaseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "purchase",
		Short: "Buy the lifetime unlock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ok, err := a.purchase(cmd.Context())
				a.printPurchaseResult(ok, err)
				return ignoreStillPending(err)
			})
		},
	}
}

func newRestoreCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore a previous purchase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ok, err := a.restore(cmd.Context())
				a.printRestoreResult(ok, err)
				return ignoreStillPending(err)
			})
		},
	}
}

func newReinstallCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reinstall",
		Short: "Simulate deleting and reinstalling the app",
		Long: `Removes the app directory (preferences and other regular data).
Keychain data in the data directory is kept, as it would be on a device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if err := a.prefs.Reset(); err != nil {
					return err
				}
				if err := os.RemoveAll(a.cfg.AppDir); err != nil {
					return fmt.Errorf("failed to remove app directory: %w", err)
				}
				fmt.Fprintf(a.out, "Removed app data in %s\n", a.cfg.AppDir)
				fmt.Fprintf(a.out, "Kept keychain data in %s\n", a.cfg.DataDir)
				return nil
			})
		},
	}
}

func newSettingsCmd(opts *options) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
	}

	var clear bool
	textCmd := &cobra.Command{
		Use:   "text [value]",
		Short: "Show or set the floating knock text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				switch {
				case clear:
					if err := a.prefs.SetKnockText(""); err != nil {
						return err
					}
				case len(args) == 1:
					if err := a.prefs.SetKnockText(args[0]); err != nil {
						return err
					}
				}
				fmt.Fprintf(a.out, "Knock text: %s\n", a.prefs.KnockText())
				return nil
			})
		},
	}
	textCmd.Flags().BoolVar(&clear, "clear", false, "restore the default text")

	soundCmd := &cobra.Command{
		Use:   "sound [number]",
		Short: "Show or select the knock sound (01-06)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if len(args) == 1 {
					if err := selectSound(a, args[0]); err != nil {
						return err
					}
				}
				fmt.Fprintf(a.out, "Sound: %s\n", knock.SoundName(a.prefs.SoundIndex()))
				return nil
			})
		},
	}

	soundsCmd := &cobra.Command{
		Use:   "sounds",
		Short: "List the available sounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				selected := a.prefs.SoundIndex()
				for i := 0; i < knock.SoundCount(); i++ {
					marker := " "
					if i == selected {
						marker = "*"
					}
					fmt.Fprintf(a.out, "%s %s\n", marker, knock.SoundName(i))
				}
				return nil
			})
		},
	}

	settingsCmd.AddCommand(textCmd, soundCmd, soundsCmd)
	return settingsCmd
}

// selectSound takes the display number ("01".."06").
func selectSound(a *app, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid sound %q: %w", arg, err)
	}
	ok, err := a.prefs.SetSoundIndex(n - 1)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(a.out, "No sound %s; keeping the current one.\n", arg)
	}
	return nil
}

func printStatus(w io.Writer, status entitlement.Status) {
	behavior := status.Behavior()
	fmt.Fprintf(w, "State: %s\n", status.State)
	fmt.Fprintf(w, "Purchased: %t\n", status.Purchased)
	fmt.Fprintf(w, "Trial expires: %s\n", status.TrialExpiresAt.UTC().Format(time.RFC3339))
	if status.State == entitlement.StateTrial {
		fmt.Fprintf(w, "Trial remaining: %s\n", status.TrialRemaining.Round(time.Minute))
	}
	fmt.Fprintln(w, behavior.Description)
}

func ignoreStillPending(err error) error {
	if errors.Is(err, errStillPending) {
		return nil
	}
	return err
}
