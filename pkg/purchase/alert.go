package purchase

// Alert is a blocking, user-facing message.
type Alert struct {
	Title   string
	Message string
	// Err is the classified failure behind the alert.
	Err error
}

// Presenter shows alerts. The controller calls Present from its own
// goroutine; implementations hop to their UI context themselves.
type Presenter interface {
	Present(Alert)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Alert)

// Present implements Presenter.
func (f PresenterFunc) Present(a Alert) {
	f(a)
}

// Alert titles and messages.
const (
	titlePaymentUnavailable = "Payment Unavailable"
	titlePurchaseFailed     = "Purchase Failed"
	titleRestore            = "Restore Purchases"
	titleRestoreFailed      = "Restore Failed"

	messagePaymentsDisabled = "Your device does not support in-app purchases."
	messageProductMissing   = "Unable to fetch product information."
	messageNothingToRestore = "No restorable purchase was found."
	messageUnknownError     = "Unknown error."
)

type discardPresenter struct{}

func (discardPresenter) Present(Alert) {}
