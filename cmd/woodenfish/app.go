package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gunmm/woodenfish/internal/config"
	"github.com/gunmm/woodenfish/internal/gate"
	"github.com/gunmm/woodenfish/internal/knock"
	"github.com/gunmm/woodenfish/internal/logging"
	"github.com/gunmm/woodenfish/internal/preferences"
	"github.com/gunmm/woodenfish/internal/sandbox"
	"github.com/gunmm/woodenfish/pkg/entitlement"
	"github.com/gunmm/woodenfish/pkg/keychain"
	"github.com/gunmm/woodenfish/pkg/purchase"
)

// storeDirName is where the sandbox keeps its account ledger inside the data dir.
const storeDirName = "store"

const (
	productTitle = "WoodenFish Lifetime"
	productPrice = "$0.99"
)

var errStillPending = errors.New("store request still pending")

// app is one process worth of wired components.
type app struct {
	cfg  *config.Config
	opts *options
	out  io.Writer
	now  func() time.Time

	store      keychain.Backend
	tracker    *entitlement.Tracker
	prefs      *preferences.Store
	platform   *sandbox.Platform
	controller *purchase.Controller
	gate       *gate.Gate
}

func newApp(cmd *cobra.Command, opts *options) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "woodenfish",
		FilePath:  cfg.LogFile,
	})

	now, err := parseClock(opts.now)
	if err != nil {
		return nil, err
	}
	outcome, err := sandbox.ParseOutcome(opts.outcome)
	if err != nil {
		return nil, err
	}

	store, err := keychain.Open(cfg.KeychainBackend, cfg.DataDir, cfg.KeychainService)
	if err != nil {
		return nil, fmt.Errorf("failed to open keychain: %w", err)
	}

	prefs, err := preferences.Open(cfg.AppDir, knock.SoundCount())
	if err != nil {
		store.Close()
		return nil, err
	}

	ledger, err := sandbox.OpenLedger(filepath.Join(cfg.DataDir, storeDirName))
	if err != nil {
		store.Close()
		return nil, err
	}

	out := &syncWriter{w: cmd.OutOrStdout()}
	tracker := entitlement.NewTracker(store, entitlement.Options{
		TrialDuration: cfg.TrialDuration,
		Now:           now,
	})
	platform := sandbox.New(ledger, sandbox.Options{
		Catalog:          []purchase.Product{{ID: cfg.ProductID, Title: productTitle, Price: productPrice}},
		PaymentsDisabled: opts.paymentsDisabled,
		LookupFails:      opts.lookupFail,
		Outcome:          outcome,
		RestoreFails:     opts.restoreFail,
		Now:              now,
	})
	controller := purchase.NewController(platform, tracker, alertPrinter(out), purchase.Options{
		ProductID: cfg.ProductID,
		Now:       now,
	})

	terminal := knock.Terminal{W: out}
	action := &knock.Action{
		Haptics:   terminal,
		Player:    terminal,
		Overlay:   terminal,
		Settings:  prefs,
		AssetsDir: cfg.AssetsDir,
	}

	log.Debug().
		Str("data_dir", cfg.DataDir).
		Str("app_dir", cfg.AppDir).
		Str("backend", cfg.KeychainBackend).
		Str("product_id", cfg.ProductID).
		Msg("WoodenFish initialized")

	return &app{
		cfg:        cfg,
		opts:       opts,
		out:        out,
		now:        now,
		store:      store,
		tracker:    tracker,
		prefs:      prefs,
		platform:   platform,
		controller: controller,
		gate:       gate.New(tracker, controller, action, now),
	}, nil
}

func (a *app) Close() {
	a.controller.Close()
	a.platform.Close()
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close keychain")
	}
	logging.Shutdown()
}

// await runs the controller loop until start's completion fires or the wait
// expires.
func (a *app) await(ctx context.Context, start func(done func(bool))) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(a.controller.Run(gctx))
	})

	result := make(chan bool, 1)
	start(func(ok bool) {
		select {
		case result <- ok:
		default:
		}
	})

	var (
		ok  bool
		err error
	)
	select {
	case ok = <-result:
	case <-time.After(a.opts.wait):
		err = errStillPending
	case <-ctx.Done():
		err = ctx.Err()
	}

	cancel()
	if waitErr := g.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	return ok, err
}

func (a *app) purchase(ctx context.Context) (bool, error) {
	return a.await(ctx, func(done func(bool)) { a.controller.RequestPurchase(done) })
}

func (a *app) restore(ctx context.Context) (bool, error) {
	return a.await(ctx, func(done func(bool)) { a.controller.RestorePurchases(done) })
}

// tap runs the gate. A denied tap waits for the purchase it started.
func (a *app) tap(ctx context.Context) (gate.Decision, bool, error) {
	var decision gate.Decision
	ok, err := a.await(ctx, func(done func(bool)) {
		decision = a.gate.Tap(done)
		if decision.Allowed {
			done(true)
		}
	})
	return decision, ok, err
}

func (a *app) printPurchaseResult(ok bool, err error) {
	switch {
	case errors.Is(err, errStillPending):
		fmt.Fprintln(a.out, "Purchase is still pending with the store; try again later.")
	case ok:
		fmt.Fprintln(a.out, "Unlocked. Thank you!")
	default:
		fmt.Fprintln(a.out, "Purchase not completed.")
	}
}

func (a *app) printRestoreResult(ok bool, err error) {
	switch {
	case errors.Is(err, errStillPending):
		fmt.Fprintln(a.out, "Restore is still pending with the store; try again later.")
	case ok:
		fmt.Fprintln(a.out, "Purchase restored.")
	default:
		fmt.Fprintln(a.out, "Nothing restored.")
	}
}

func alertPrinter(w io.Writer) purchase.Presenter {
	return purchase.PresenterFunc(func(alert purchase.Alert) {
		fmt.Fprintf(w, "[%s] %s\n", alert.Title, alert.Message)
	})
}

func parseClock(value string) (func() time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now, nil
	}
	fixed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --now %q: %w", value, err)
	}
	return func() time.Time { return fixed }, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// syncWriter serializes output from the controller goroutine and the caller.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
