// Package purchase drives the one-product purchase and restore flow against
// an external payment platform and records the resulting entitlement.
//
// The Controller is a single-goroutine state machine. Platform callbacks and
// caller requests are funnelled into one queue consumed by Run, which is the
// only code that touches the pending session. At most one completion is
// pending: a new request replaces the previous one, whose caller is never
// called back.
package purchase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	perrors "github.com/gunmm/woodenfish/internal/errors"
	"github.com/gunmm/woodenfish/internal/logging"
)

// DefaultProductID is the lifetime unlock product.
const DefaultProductID = "com.gunmm.WoodenFish.lifelong"

const defaultQueueSize = 64

// Entitlements is the subset of the entitlement tracker the controller needs.
type Entitlements interface {
	IsPurchased() bool
	SetPurchased(bool)
}

// Options configures a Controller.
type Options struct {
	ProductID string
	QueueSize int
	Now       func() time.Time
}

// Controller runs purchase and restore sessions.
type Controller struct {
	platform     Platform
	entitlements Entitlements
	presenter    Presenter
	productID    string
	now          func() time.Time

	queue chan message

	// Owned by Run.
	session   *Session
	lastState SessionState
	finished  map[string]struct{}
}

type message any

type startSession struct {
	session *Session
}

type platformEvent struct {
	event Event
}

type snapshotRequest struct {
	reply chan Snapshot
}

// NewController creates a controller and registers it as the platform observer.
func NewController(platform Platform, entitlements Entitlements, presenter Presenter, opts Options) *Controller {
	if presenter == nil {
		presenter = discardPresenter{}
	}
	productID := strings.TrimSpace(opts.ProductID)
	if productID == "" {
		productID = DefaultProductID
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		platform:     platform,
		entitlements: entitlements,
		presenter:    presenter,
		productID:    productID,
		now:          opts.Now,
		queue:        make(chan message, opts.QueueSize),
		lastState:    StateIdle,
		finished:     make(map[string]struct{}),
	}
	platform.SetObserver(c)
	return c
}

// ProductID returns the product the controller sells.
func (c *Controller) ProductID() string {
	return c.productID
}

// Close detaches the controller from the platform.
func (c *Controller) Close() {
	c.platform.SetObserver(nil)
}

// Notify implements Observer. It may be called from any goroutine.
func (c *Controller) Notify(ev Event) {
	if ev == nil {
		return
	}
	c.queue <- platformEvent{event: ev}
}

// RequestPurchase starts buying the product. onComplete receives true once the
// entitlement is recorded, false on any failure. If the product is already
// owned, or the device cannot pay, onComplete runs before RequestPurchase
// returns; otherwise it runs on the Run goroutine.
func (c *Controller) RequestPurchase(onComplete Completion) {
	onComplete = orNoop(onComplete)

	if c.entitlements.IsPurchased() {
		onComplete(true)
		return
	}

	if !c.platform.CanMakePayments() {
		err := perrors.PaymentsDisabled(c.productID)
		log.Warn().Err(err).Str("product_id", c.productID).Msg("Purchase blocked: payments disabled")
		c.presenter.Present(Alert{Title: titlePaymentUnavailable, Message: messagePaymentsDisabled, Err: err})
		onComplete(false)
		return
	}

	c.queue <- startSession{session: c.newSession(KindPurchase, onComplete)}
}

// RestorePurchases asks the platform to replay past purchases. onComplete
// receives true if the entitlement is recorded when the replay finishes.
func (c *Controller) RestorePurchases(onComplete Completion) {
	c.queue <- startSession{session: c.newSession(KindRestore, orNoop(onComplete))}
}

// Snapshot returns the current session view. It requires Run to be active.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case c.queue <- snapshotRequest{reply: reply}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Run processes requests and platform events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.queue:
			c.handle(msg)
		}
	}
}

func (c *Controller) handle(msg message) {
	switch m := msg.(type) {
	case startSession:
		c.start(m.session)
	case platformEvent:
		c.dispatch(m.event)
	case snapshotRequest:
		m.reply <- c.snapshot()
	}
}

func (c *Controller) newSession(kind SessionKind, onComplete Completion) *Session {
	ctx, id := logging.WithSessionID(context.Background(), "")
	logger := logging.FromContext(ctx).With().
		Str("kind", string(kind)).
		Str("product_id", c.productID).
		Logger()
	return &Session{
		ID:         id,
		Kind:       kind,
		ProductID:  c.productID,
		State:      StateIdle,
		StartedAt:  c.now(),
		onComplete: onComplete,
		log:        logger,
	}
}

func (c *Controller) start(s *Session) {
	if prev := c.session; prev != nil {
		prev.log.Warn().
			Str("replaced_by", s.ID).
			Str("state", string(prev.State)).
			Msg("Pending purchase session replaced; its caller will not be notified")
	}
	c.session = s

	switch s.Kind {
	case KindPurchase:
		s.transition(StateProductLookupPending)
		s.log.Info().Msg("Requesting product information")
		c.platform.RequestProducts([]string{c.productID})
	case KindRestore:
		s.transition(StateRestorePending)
		s.log.Info().Msg("Restoring completed transactions")
		c.platform.RestoreCompletedTransactions()
	}
}

func (c *Controller) dispatch(ev Event) {
	switch e := ev.(type) {
	case ProductsReceived:
		c.onProductsReceived(e)
	case ProductRequestFailed:
		c.onProductRequestFailed(e)
	case TransactionsUpdated:
		for _, tx := range e.Transactions {
			c.onTransaction(tx)
		}
	case RestoreFinished:
		c.onRestoreFinished()
	case RestoreFailed:
		c.onRestoreFailed(e)
	default:
		log.Warn().Msgf("Ignoring unknown platform event %T", ev)
	}
}

func (c *Controller) onProductsReceived(e ProductsReceived) {
	s := c.session
	if s == nil || s.State != StateProductLookupPending {
		log.Debug().Msg("Ignoring product response without a pending lookup")
		return
	}
	if len(e.Products) == 0 {
		err := perrors.LookupFailed(c.productID, nil)
		s.log.Warn().Err(err).Strs("invalid_ids", e.InvalidIDs).Msg("Product lookup returned no products")
		c.presenter.Present(Alert{Title: titlePurchaseFailed, Message: messageProductMissing, Err: err})
		c.finish(s, StateFailed, false)
		return
	}

	product := e.Products[0]
	s.transition(StatePaymentPending)
	s.log.Info().Str("price", product.Price).Msg("Submitting payment")
	c.platform.AddPayment(product)
}

func (c *Controller) onProductRequestFailed(e ProductRequestFailed) {
	s := c.session
	if s == nil || s.State != StateProductLookupPending {
		log.Debug().Err(e.Err).Msg("Ignoring product failure without a pending lookup")
		return
	}
	err := perrors.LookupFailed(c.productID, e.Err)
	s.log.Warn().Err(err).Msg("Product lookup failed")
	c.presenter.Present(Alert{Title: titlePurchaseFailed, Message: platformMessage(e.Err), Err: err})
	c.finish(s, StateFailed, false)
}

func (c *Controller) onTransaction(tx Transaction) {
	logger := log.With().
		Str("transaction_id", tx.ID).
		Str("transaction_state", string(tx.State)).
		Str("product_id", tx.ProductID).
		Logger()

	switch tx.State {
	case TxPurchasing, TxDeferred:
		logger.Debug().Msg("Transaction in flight")
		return
	case TxPurchased, TxFailed, TxRestored:
	default:
		logger.Warn().Msg("Ignoring transaction in unknown state")
		return
	}

	if tx.ID != "" {
		if _, seen := c.finished[tx.ID]; seen {
			logger.Debug().Msg("Ignoring duplicate transaction callback")
			return
		}
	}

	switch tx.State {
	case TxPurchased:
		if tx.ProductID != c.productID {
			logger.Warn().Str("expected_product_id", c.productID).Msg("Purchased transaction for unexpected product")
			c.resolvePending(false, false)
			break
		}
		c.entitlements.SetPurchased(true)
		logger.Info().Msg("Purchase completed")
		c.resolvePending(true, false)

	case TxFailed:
		cancelled := IsCancellation(tx.Err) || errors.Is(tx.Err, perrors.ErrPaymentCancelled)
		err := perrors.TransactionFailed(tx.ProductID, tx.Err, cancelled)
		if cancelled {
			logger.Info().Msg("Payment cancelled by user")
		} else {
			logger.Warn().Err(err).Msg("Payment failed")
			c.presenter.Present(Alert{Title: titlePurchaseFailed, Message: platformMessage(tx.Err), Err: err})
		}
		c.resolvePending(false, cancelled)

	case TxRestored:
		if tx.Original == nil || tx.Original.ProductID != c.productID {
			logger.Debug().Msg("Restored transaction for another product")
			break
		}
		c.entitlements.SetPurchased(true)
		logger.Info().Str("original_transaction_id", tx.Original.ID).Msg("Purchase restored")
	}

	if tx.ID != "" {
		c.finished[tx.ID] = struct{}{}
	}
	c.platform.FinishTransaction(tx)
}

func (c *Controller) onRestoreFinished() {
	s := c.session
	if c.entitlements.IsPurchased() {
		log.Info().Msg("Restore finished with entitlement")
		if s != nil {
			c.finish(s, outcomeState(s.Kind, true, false), true)
		}
		return
	}

	err := perrors.RestoreNotFound(c.productID)
	log.Info().Err(err).Msg("Restore finished without a purchase")
	c.presenter.Present(Alert{Title: titleRestore, Message: messageNothingToRestore, Err: err})
	if s == nil {
		return
	}
	if s.Kind == KindPurchase {
		c.releaseCaller(s)
		return
	}
	c.finish(s, StateRestoreNotFound, false)
}

func (c *Controller) onRestoreFailed(e RestoreFailed) {
	err := perrors.RestoreFailed(c.productID, e.Err)
	log.Warn().Err(err).Msg("Restore failed")
	c.presenter.Present(Alert{Title: titleRestoreFailed, Message: platformMessage(e.Err), Err: err})
	s := c.session
	if s == nil {
		return
	}
	if s.Kind == KindPurchase {
		c.releaseCaller(s)
		return
	}
	c.finish(s, StateRestoreError, false)
}

// releaseCaller answers a purchase session's caller with false when a restore
// outcome arrives first. The lookup and payment keep going; a later purchased
// transaction still records the entitlement.
func (c *Controller) releaseCaller(s *Session) {
	if s.resolve(false) {
		s.log.Info().
			Str("state", string(s.State)).
			Msg("Restore outcome answered the purchase caller; purchase continues")
	}
}

// resolvePending resolves whatever session is pending with the outcome of a
// purchased or failed transaction.
func (c *Controller) resolvePending(ok, cancelled bool) {
	if s := c.session; s != nil {
		c.finish(s, outcomeState(s.Kind, ok, cancelled), ok)
	}
}

// finish moves s to its terminal state, delivers the outcome and frees the slot.
func (c *Controller) finish(s *Session, state SessionState, ok bool) {
	s.transition(state)
	if s.resolve(ok) {
		s.log.Info().
			Bool("ok", ok).
			Str("state", string(s.State)).
			Dur("elapsed", c.now().Sub(s.StartedAt)).
			Msg("Purchase session resolved")
	}
	c.lastState = s.State
	if c.session == s {
		c.session = nil
	}
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{State: StateIdle, LastState: c.lastState, ProductID: c.productID}
	if s := c.session; s != nil {
		snap.SessionID = s.ID
		snap.Kind = s.Kind
		snap.State = s.State
	}
	return snap
}

func platformMessage(err error) string {
	if err == nil {
		return messageUnknownError
	}
	return err.Error()
}

func orNoop(fn Completion) Completion {
	if fn == nil {
		return func(bool) {}
	}
	return fn
}
