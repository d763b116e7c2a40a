package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const defaultWait = 10 * time.Second

// options holds the global flags.
type options struct {
	now              string
	paymentsDisabled bool
	lookupFail       bool
	outcome          string
	restoreFail      bool
	wait             time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "woodenfish",
		Short: "WoodenFish - tap the wooden fish, gain merit",
		Long: `WoodenFish plays a knock, a haptic tap and floating text on every tap.
Use is free during a 7-day trial and unlocked forever by a one-time purchase.
Purchases go through a local sandbox store.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.now, "now", "", "override the current time (RFC3339)")
	flags.BoolVar(&opts.paymentsDisabled, "payments-disabled", false, "sandbox: device cannot make payments")
	flags.BoolVar(&opts.lookupFail, "lookup-fail", false, "sandbox: product lookup fails")
	flags.StringVar(&opts.outcome, "outcome", "purchased", "sandbox: payment outcome (purchased, failed, cancelled, deferred)")
	flags.BoolVar(&opts.restoreFail, "restore-fail", false, "sandbox: restore fails")
	flags.DurationVar(&opts.wait, "wait", defaultWait, "how long to wait for the store before giving up")

	rootCmd.AddCommand(
		newTapCmd(opts),
		newStatusCmd(opts),
		newPurchaseCmd(opts),
		newRestoreCmd(opts),
		newRunCmd(opts),
		newSettingsCmd(opts),
		newReinstallCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "WoodenFish %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
