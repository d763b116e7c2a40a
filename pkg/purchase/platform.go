package purchase

import "errors"

// Product is a purchasable item as returned by the payment platform.
type Product struct {
	ID    string
	Title string
	Price string // localized display price
}

// TransactionState mirrors the payment platform's transaction lifecycle.
type TransactionState string

const (
	TxPurchasing TransactionState = "purchasing"
	TxPurchased  TransactionState = "purchased"
	TxFailed     TransactionState = "failed"
	TxRestored   TransactionState = "restored"
	TxDeferred   TransactionState = "deferred"
)

// Transaction is a payment transaction reported by the platform.
type Transaction struct {
	ID        string
	ProductID string
	State     TransactionState
	// Err is set for failed transactions.
	Err error
	// Original is the transaction being restored, set for restored transactions.
	Original *Transaction
}

// ErrorCode classifies platform payment errors.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "unknown"
	CodePaymentCancelled    ErrorCode = "payment_cancelled"
	CodePaymentInvalid      ErrorCode = "payment_invalid"
	CodePaymentNotAllowed   ErrorCode = "payment_not_allowed"
	CodeProductNotAvailable ErrorCode = "product_not_available"
	CodeNetwork             ErrorCode = "network"
)

// PlatformError is an error reported by the payment platform.
type PlatformError struct {
	Code    ErrorCode
	Message string // user-presentable description
}

func (e *PlatformError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// IsCancellation reports whether err is a platform user-cancellation.
func IsCancellation(err error) bool {
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Code == CodePaymentCancelled
	}
	return false
}

// Observer receives asynchronous platform events.
type Observer interface {
	Notify(Event)
}

// Platform is the external payment platform. Request methods return
// immediately; outcomes are delivered to the registered Observer.
type Platform interface {
	// CanMakePayments reports whether purchases are enabled on this device.
	CanMakePayments() bool
	// RequestProducts looks up products; answers with ProductsReceived or ProductRequestFailed.
	RequestProducts(productIDs []string)
	// AddPayment submits a payment; progress arrives as TransactionsUpdated.
	AddPayment(product Product)
	// FinishTransaction acknowledges a transaction so the platform stops redelivering it.
	FinishTransaction(tx Transaction)
	// RestoreCompletedTransactions replays past purchases as restored
	// transactions, then signals RestoreFinished or RestoreFailed.
	RestoreCompletedTransactions()
	// SetObserver registers the event observer; nil detaches.
	SetObserver(Observer)
}

// Event is a platform notification.
type Event interface {
	event()
}

// ProductsReceived answers a product request.
type ProductsReceived struct {
	Products   []Product
	InvalidIDs []string
}

// ProductRequestFailed reports that a product request could not complete.
type ProductRequestFailed struct {
	Err error
}

// TransactionsUpdated carries a batch of transaction state changes.
type TransactionsUpdated struct {
	Transactions []Transaction
}

// RestoreFinished signals that every restorable transaction has been delivered.
type RestoreFinished struct{}

// RestoreFailed signals that restoring could not complete.
type RestoreFailed struct {
	Err error
}

func (ProductsReceived) event()     {}
func (ProductRequestFailed) event() {}
func (TransactionsUpdated) event()  {}
func (RestoreFinished) event()      {}
func (RestoreFailed) event()        {}
