package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gunmm/woodenfish/pkg/purchase"
)

const productID = "com.example.unlock"

var catalog = []purchase.Product{{ID: productID, Title: "Lifetime", Price: "$2.99"}}

type recorder struct {
	events chan purchase.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan purchase.Event, 32)}
}

func (r *recorder) Notify(ev purchase.Event) {
	r.events <- ev
}

func (r *recorder) next(t *testing.T) purchase.Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sandbox event")
		return nil
	}
}

func (r *recorder) nextTransaction(t *testing.T) purchase.Transaction {
	t.Helper()
	ev := r.next(t)
	update, ok := ev.(purchase.TransactionsUpdated)
	require.True(t, ok, "expected TransactionsUpdated, got %T", ev)
	require.Len(t, update.Transactions, 1)
	return update.Transactions[0]
}

func newPlatform(t *testing.T, ledger *Ledger, opts Options) (*Platform, *recorder) {
	t.Helper()
	if opts.Catalog == nil {
		opts.Catalog = catalog
	}
	p := New(ledger, opts)
	t.Cleanup(p.Close)
	rec := newRecorder()
	p.SetObserver(rec)
	return p, rec
}

func TestParseOutcome(t *testing.T) {
	for in, want := range map[string]Outcome{
		"":            OutcomePurchased,
		"purchased":   OutcomePurchased,
		" Cancelled ": OutcomeCancelled,
		"FAILED":      OutcomeFailed,
		"deferred":    OutcomeDeferred,
	} {
		got, err := ParseOutcome(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseOutcome("refunded")
	require.Error(t, err)
}

func TestRequestProducts(t *testing.T) {
	p, rec := newPlatform(t, nil, Options{})

	p.RequestProducts([]string{productID, "com.example.unknown"})
	ev := rec.next(t)
	resp, ok := ev.(purchase.ProductsReceived)
	require.True(t, ok)
	require.Equal(t, catalog, resp.Products)
	require.Equal(t, []string{"com.example.unknown"}, resp.InvalidIDs)
}

func TestRequestProductsFailure(t *testing.T) {
	p, rec := newPlatform(t, nil, Options{LookupFails: true})

	p.RequestProducts([]string{productID})
	ev := rec.next(t)
	failed, ok := ev.(purchase.ProductRequestFailed)
	require.True(t, ok)
	require.Equal(t, ErrUnreachable, failed.Err)
}

func TestCanMakePayments(t *testing.T) {
	p, _ := newPlatform(t, nil, Options{})
	require.True(t, p.CanMakePayments())

	disabled, _ := newPlatform(t, nil, Options{PaymentsDisabled: true})
	require.False(t, disabled.CanMakePayments())
}

func TestAddPaymentOutcomes(t *testing.T) {
	tests := []struct {
		outcome   Outcome
		wantState purchase.TransactionState
		wantErr   error
	}{
		{OutcomePurchased, purchase.TxPurchased, nil},
		{OutcomeFailed, purchase.TxFailed, ErrDeclined},
		{OutcomeCancelled, purchase.TxFailed, ErrCancelled},
		{OutcomeDeferred, purchase.TxDeferred, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			p, rec := newPlatform(t, nil, Options{Outcome: tt.outcome})

			p.AddPayment(catalog[0])

			first := rec.nextTransaction(t)
			require.Equal(t, purchase.TxPurchasing, first.State)

			final := rec.nextTransaction(t)
			require.Equal(t, tt.wantState, final.State)
			require.Equal(t, productID, final.ProductID)
			if tt.wantErr != nil {
				require.Equal(t, tt.wantErr, final.Err)
			} else {
				require.NoError(t, final.Err)
			}

			entries := p.Ledger().Entries()
			if tt.outcome == OutcomePurchased {
				require.Len(t, entries, 1)
				require.Equal(t, final.ID, entries[0].TransactionID)
			} else {
				require.Empty(t, entries)
			}
		})
	}
}

func TestCancelledPaymentIsCancellation(t *testing.T) {
	require.True(t, purchase.IsCancellation(ErrCancelled))
	require.False(t, purchase.IsCancellation(ErrDeclined))
}

func TestFinishTransaction(t *testing.T) {
	p, rec := newPlatform(t, nil, Options{})

	p.AddPayment(catalog[0])
	rec.nextTransaction(t)
	tx := rec.nextTransaction(t)

	require.Equal(t, []string{tx.ID}, p.Pending())
	require.Len(t, p.Ledger().Unfinished(), 1)

	p.FinishTransaction(tx)
	require.Empty(t, p.Pending())
	require.Empty(t, p.Ledger().Unfinished())
}

func TestUnfinishedTransactionsRedeliveredOnAttach(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenLedger(dir)
	require.NoError(t, err)
	entry, err := ledger.Record(productID, time.Now())
	require.NoError(t, err)

	reopened, err := OpenLedger(dir)
	require.NoError(t, err)
	_, rec := newPlatform(t, reopened, Options{})

	tx := rec.nextTransaction(t)
	require.Equal(t, entry.TransactionID, tx.ID)
	require.Equal(t, purchase.TxPurchased, tx.State)
}

func TestRestoreReplaysLedger(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenLedger(dir)
	require.NoError(t, err)
	entry, err := ledger.Record(productID, time.Now())
	require.NoError(t, err)
	_, err = ledger.MarkFinished(entry.TransactionID)
	require.NoError(t, err)

	p, rec := newPlatform(t, ledger, Options{})
	p.RestoreCompletedTransactions()

	tx := rec.nextTransaction(t)
	require.Equal(t, purchase.TxRestored, tx.State)
	require.NotEqual(t, entry.TransactionID, tx.ID)
	require.NotNil(t, tx.Original)
	require.Equal(t, entry.TransactionID, tx.Original.ID)
	require.Equal(t, productID, tx.Original.ProductID)

	_, ok := rec.next(t).(purchase.RestoreFinished)
	require.True(t, ok)
}

func TestRestoreWithEmptyLedger(t *testing.T) {
	p, rec := newPlatform(t, nil, Options{})
	p.RestoreCompletedTransactions()

	_, ok := rec.next(t).(purchase.RestoreFinished)
	require.True(t, ok)
}

func TestRestoreFailure(t *testing.T) {
	p, rec := newPlatform(t, nil, Options{RestoreFails: true})
	p.RestoreCompletedTransactions()

	failed, ok := rec.next(t).(purchase.RestoreFailed)
	require.True(t, ok)
	require.Equal(t, ErrUnreachable, failed.Err)
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	p := New(nil, Options{Catalog: catalog})
	rec := newRecorder()
	p.SetObserver(rec)
	p.Close()
	p.Close()

	p.RequestProducts([]string{productID})
	select {
	case ev := <-rec.events:
		t.Fatalf("unexpected event after close: %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLedgerPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenLedger(dir)
	require.NoError(t, err)

	first, err := ledger.Record(productID, time.Unix(1736900000, 0))
	require.NoError(t, err)
	_, err = ledger.Record("com.example.other", time.Unix(1736900100, 0))
	require.NoError(t, err)

	found, err := ledger.MarkFinished(first.TransactionID)
	require.NoError(t, err)
	require.True(t, found)
	found, err = ledger.MarkFinished(first.TransactionID)
	require.NoError(t, err)
	require.False(t, found, "already finished")

	reopened, err := OpenLedger(dir)
	require.NoError(t, err)
	entries := reopened.Entries()
	require.Len(t, entries, 2)
	require.True(t, entries[0].Finished)
	require.False(t, entries[1].Finished)
	require.True(t, entries[0].PurchasedAt.Equal(time.Unix(1736900000, 0)))

	info, err := os.Stat(filepath.Join(dir, LedgerFileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLedgerSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	content := "not json\n\n{\"transaction_id\":\"A\",\"product_id\":\"" + productID + "\",\"finished\":true}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, LedgerFileName), []byte(content), 0o600))

	ledger, err := OpenLedger(dir)
	require.NoError(t, err)
	entries := ledger.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "A", entries[0].TransactionID)
}

func TestInMemoryLedger(t *testing.T) {
	ledger, err := OpenLedger("")
	require.NoError(t, err)
	require.Empty(t, ledger.Path())

	_, err = ledger.Record(productID, time.Now())
	require.NoError(t, err)
	require.Len(t, ledger.Unfinished(), 1)
}
