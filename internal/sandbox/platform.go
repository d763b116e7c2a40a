// Package sandbox simulates the store payment platform for the CLI and tests.
//
// Requests return immediately and their outcomes are delivered to the
// registered observer on a separate goroutine, in the order they were
// produced. Completed purchases are kept in a Ledger so a restore can replay
// them after the app's own storage is wiped.
package sandbox

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/gunmm/woodenfish/pkg/purchase"
)

// Outcome is the scripted result of the next payment.
type Outcome string

const (
	OutcomePurchased Outcome = "purchased"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeDeferred  Outcome = "deferred"
)

// ParseOutcome validates an outcome name. An empty name means purchased.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OutcomePurchased, nil
	case OutcomePurchased, OutcomeFailed, OutcomeCancelled, OutcomeDeferred:
		return o, nil
	default:
		return "", fmt.Errorf("unknown payment outcome %q (want purchased, failed, cancelled or deferred)", s)
	}
}

// Platform errors produced by the sandbox.
var (
	ErrDeclined    = &purchase.PlatformError{Code: purchase.CodePaymentNotAllowed, Message: "Payment declined."}
	ErrCancelled   = &purchase.PlatformError{Code: purchase.CodePaymentCancelled, Message: "Payment cancelled."}
	ErrUnreachable = &purchase.PlatformError{Code: purchase.CodeNetwork, Message: "Cannot connect to the store."}
)

// Options scripts the simulated platform.
type Options struct {
	// Catalog lists the products the store knows about.
	Catalog          []purchase.Product
	PaymentsDisabled bool
	LookupFails      bool
	Outcome          Outcome
	RestoreFails     bool
	Now              func() time.Time
}

const deliveryBuffer = 64

// Platform implements purchase.Platform.
type Platform struct {
	opts   Options
	ledger *Ledger

	mu       sync.Mutex
	observer purchase.Observer
	// pending holds delivered transactions that were not finished yet.
	pending map[string]purchase.Transaction

	sendMu     sync.RWMutex
	closed     bool
	deliveries chan purchase.Event
	done       chan struct{}
}

// New starts a sandbox platform backed by ledger. A nil ledger is in-memory.
func New(ledger *Ledger, opts Options) *Platform {
	if ledger == nil {
		ledger = &Ledger{}
	}
	if opts.Outcome == "" {
		opts.Outcome = OutcomePurchased
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Platform{
		opts:       opts,
		ledger:     ledger,
		pending:    make(map[string]purchase.Transaction),
		deliveries: make(chan purchase.Event, deliveryBuffer),
		done:       make(chan struct{}),
	}
	go p.deliverLoop()
	return p
}

// Close stops event delivery after the queued events have been handed over.
func (p *Platform) Close() {
	p.sendMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.deliveries)
	}
	p.sendMu.Unlock()
	<-p.done
}

// Ledger returns the account ledger.
func (p *Platform) Ledger() *Ledger {
	return p.ledger
}

// CanMakePayments implements purchase.Platform.
func (p *Platform) CanMakePayments() bool {
	return !p.opts.PaymentsDisabled
}

// SetObserver implements purchase.Platform. Attaching an observer redelivers
// every transaction that was never finished.
func (p *Platform) SetObserver(o purchase.Observer) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()

	if o == nil {
		return
	}

	var replay []purchase.Transaction
	for _, e := range p.ledger.Unfinished() {
		replay = append(replay, purchase.Transaction{
			ID:        e.TransactionID,
			ProductID: e.ProductID,
			State:     purchase.TxPurchased,
		})
	}
	if len(replay) > 0 {
		log.Info().Int("count", len(replay)).Msg("Redelivering unfinished sandbox transactions")
		p.emit(purchase.TransactionsUpdated{Transactions: replay})
	}
}

// RequestProducts implements purchase.Platform.
func (p *Platform) RequestProducts(productIDs []string) {
	if p.opts.LookupFails {
		p.emit(purchase.ProductRequestFailed{Err: ErrUnreachable})
		return
	}

	var resp purchase.ProductsReceived
	for _, id := range productIDs {
		if product, ok := p.product(id); ok {
			resp.Products = append(resp.Products, product)
		} else {
			resp.InvalidIDs = append(resp.InvalidIDs, id)
		}
	}
	p.emit(resp)
}

// AddPayment implements purchase.Platform.
func (p *Platform) AddPayment(product purchase.Product) {
	tx := purchase.Transaction{
		ID:        ulid.Make().String(),
		ProductID: product.ID,
		State:     purchase.TxPurchasing,
	}
	p.emit(purchase.TransactionsUpdated{Transactions: []purchase.Transaction{tx}})

	switch p.opts.Outcome {
	case OutcomeDeferred:
		tx.State = purchase.TxDeferred
		p.emit(purchase.TransactionsUpdated{Transactions: []purchase.Transaction{tx}})
		return
	case OutcomeFailed:
		tx.State = purchase.TxFailed
		tx.Err = ErrDeclined
	case OutcomeCancelled:
		tx.State = purchase.TxFailed
		tx.Err = ErrCancelled
	default:
		entry, err := p.ledger.Record(product.ID, p.opts.Now())
		if err != nil {
			log.Error().Err(err).Str("product_id", product.ID).Msg("Sandbox could not record purchase")
			tx.State = purchase.TxFailed
			tx.Err = &purchase.PlatformError{Code: purchase.CodeUnknown, Message: "The store could not complete the purchase."}
			break
		}
		tx.ID = entry.TransactionID
		tx.State = purchase.TxPurchased
	}

	p.track(tx)
	p.emit(purchase.TransactionsUpdated{Transactions: []purchase.Transaction{tx}})
}

// FinishTransaction implements purchase.Platform.
func (p *Platform) FinishTransaction(tx purchase.Transaction) {
	p.mu.Lock()
	delete(p.pending, tx.ID)
	p.mu.Unlock()

	if tx.State != purchase.TxPurchased {
		return
	}
	if _, err := p.ledger.MarkFinished(tx.ID); err != nil {
		log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Sandbox could not mark transaction finished")
	}
}

// RestoreCompletedTransactions implements purchase.Platform.
func (p *Platform) RestoreCompletedTransactions() {
	if p.opts.RestoreFails {
		p.emit(purchase.RestoreFailed{Err: ErrUnreachable})
		return
	}

	var restored []purchase.Transaction
	for _, e := range p.ledger.Entries() {
		original := &purchase.Transaction{
			ID:        e.TransactionID,
			ProductID: e.ProductID,
			State:     purchase.TxPurchased,
		}
		tx := purchase.Transaction{
			ID:        ulid.Make().String(),
			ProductID: e.ProductID,
			State:     purchase.TxRestored,
			Original:  original,
		}
		p.track(tx)
		restored = append(restored, tx)
	}

	if len(restored) > 0 {
		p.emit(purchase.TransactionsUpdated{Transactions: restored})
	}
	p.emit(purchase.RestoreFinished{})
}

// Pending returns the IDs of delivered transactions that were not finished.
func (p *Platform) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	return ids
}

func (p *Platform) product(id string) (purchase.Product, bool) {
	for _, product := range p.opts.Catalog {
		if product.ID == id {
			return product, true
		}
	}
	return purchase.Product{}, false
}

func (p *Platform) track(tx purchase.Transaction) {
	p.mu.Lock()
	p.pending[tx.ID] = tx
	p.mu.Unlock()
}

func (p *Platform) emit(ev purchase.Event) {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		log.Debug().Msgf("Sandbox closed, dropping %T", ev)
		return
	}
	p.deliveries <- ev
}

func (p *Platform) deliverLoop() {
	defer close(p.done)
	for ev := range p.deliveries {
		p.mu.Lock()
		o := p.observer
		p.mu.Unlock()

		if o == nil {
			log.Debug().Msgf("No observer attached, dropping %T", ev)
			continue
		}
		o.Notify(ev)
	}
}
