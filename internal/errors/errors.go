package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrStorageUnavailable  = errors.New("secure storage unavailable")
	ErrPaymentsDisabled    = errors.New("device cannot make payments")
	ErrProductNotFound     = errors.New("product not found")
	ErrPaymentCancelled    = errors.New("payment cancelled")
	ErrProductMismatch     = errors.New("transaction product mismatch")
	ErrNoRestorablePayment = errors.New("no restorable purchase found")
)

// ErrorType represents the category of an entitlement failure
type ErrorType string

const (
	ErrorTypeStorageUnavailable   ErrorType = "storage_unavailable"
	ErrorTypePlatformUnavailable  ErrorType = "platform_unavailable"
	ErrorTypeProductLookupFailed  ErrorType = "product_lookup_failed"
	ErrorTypeTransactionFailed    ErrorType = "transaction_failed"
	ErrorTypeTransactionCancelled ErrorType = "transaction_cancelled"
	ErrorTypeRestoreNotFound      ErrorType = "restore_not_found"
	ErrorTypeRestoreFailed        ErrorType = "restore_failed"
)

// PurchaseError is a structured error for purchase and restore operations
type PurchaseError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "request_products", "restore")
	ProductID string
	Err       error // Underlying platform error
	Timestamp time.Time
	Retryable bool
}

func (e *PurchaseError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.ProductID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PurchaseError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *PurchaseError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrStorageUnavailable:
		return e.Type == ErrorTypeStorageUnavailable
	case ErrPaymentsDisabled:
		return e.Type == ErrorTypePlatformUnavailable
	case ErrPaymentCancelled:
		return e.Type == ErrorTypeTransactionCancelled
	case ErrNoRestorablePayment:
		return e.Type == ErrorTypeRestoreNotFound
	}

	return errors.Is(e.Err, target)
}

// New creates a new PurchaseError
func New(errorType ErrorType, op, productID string, err error) *PurchaseError {
	return &PurchaseError{
		Type:      errorType,
		Op:        op,
		ProductID: productID,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

// isRetryable reports whether the user can sensibly try again by re-tapping.
func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeProductLookupFailed, ErrorTypeTransactionFailed, ErrorTypeRestoreFailed, ErrorTypeRestoreNotFound:
		return true
	default: // platform unavailable, cancelled, storage
		return false
	}
}

// Helper functions

// PaymentsDisabled reports that the device refuses in-app purchases.
func PaymentsDisabled(productID string) error {
	return New(ErrorTypePlatformUnavailable, "request_purchase", productID, ErrPaymentsDisabled)
}

// LookupFailed wraps a product request failure.
func LookupFailed(productID string, err error) error {
	if err == nil {
		err = ErrProductNotFound
	}
	return New(ErrorTypeProductLookupFailed, "request_products", productID, err)
}

// TransactionFailed wraps a failed payment transaction. Cancellation is
// classified separately so callers can stay silent about it.
func TransactionFailed(productID string, err error, cancelled bool) error {
	if cancelled {
		if err == nil {
			err = ErrPaymentCancelled
		}
		return New(ErrorTypeTransactionCancelled, "payment", productID, err)
	}
	if err == nil {
		err = errors.New("unknown error")
	}
	return New(ErrorTypeTransactionFailed, "payment", productID, err)
}

// RestoreNotFound reports a restore that completed without a matching purchase.
func RestoreNotFound(productID string) error {
	return New(ErrorTypeRestoreNotFound, "restore", productID, ErrNoRestorablePayment)
}

// RestoreFailed wraps a restore batch failure.
func RestoreFailed(productID string, err error) error {
	return New(ErrorTypeRestoreFailed, "restore", productID, err)
}

// StorageUnavailable wraps a secure storage failure. These never reach the UI.
func StorageUnavailable(op string, err error) error {
	return New(ErrorTypeStorageUnavailable, op, "", err)
}

// TypeOf returns the error type carried by err, or "" if none.
func TypeOf(err error) ErrorType {
	var purchaseErr *PurchaseError
	if errors.As(err, &purchaseErr) {
		return purchaseErr.Type
	}
	return ""
}

// IsCancelled checks if an error is a user cancellation
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrPaymentCancelled)
}

// IsRetryableError checks if the user may retry the operation
func IsRetryableError(err error) bool {
	var purchaseErr *PurchaseError
	if errors.As(err, &purchaseErr) {
		return purchaseErr.Retryable
	}
	return false
}

// IsUserVisible reports whether err should be shown to the user.
// Cancellations and storage failures stay silent.
func IsUserVisible(err error) bool {
	if err == nil {
		return false
	}
	switch TypeOf(err) {
	case ErrorTypeTransactionCancelled, ErrorTypeStorageUnavailable:
		return false
	default:
		return true
	}
}
