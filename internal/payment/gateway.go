// Package payment talks to the hosted payment gateway: it creates checkout
// payment intents and looks up the authoritative status of a payment.
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Status is the normalised state of a gateway payment.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
	// StatusOther covers refunds, chargebacks and disputes, which never move an
	// order by themselves.
	StatusOther Status = "other"
)

// ErrPaymentNotFound is returned when the gateway has no payment with the given id.
var ErrPaymentNotFound = errors.New("payment not found at gateway")

// IntentItem is one line of a payment intent.
type IntentItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// BackURLs are where the gateway sends the buyer after paying.
type BackURLs struct {
	Success string
	Failure string
	Pending string
}

// IntentRequest describes the checkout the buyer is about to pay.
type IntentRequest struct {
	Items             []IntentItem
	BackURLs          BackURLs
	ExternalReference string
	NotificationURL   string
	Currency          string
}

// Intent is the gateway's answer to an IntentRequest.
type Intent struct {
	ID          string
	RedirectURL string
}

// PaymentInfo is the gateway's source of truth for one payment.
type PaymentInfo struct {
	ID                string
	Status            Status
	RawStatus         string
	ExternalReference string
}

// Gateway is the consumed interface of the payment processor.
type Gateway interface {
	// CreatePaymentIntent registers a checkout and returns the redirect for the buyer.
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)

	// GetPaymentStatus fetches the current status of a payment by its gateway id.
	GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentInfo, error)
}

// normaliseStatus folds the processor's detailed statuses into Status.
func normaliseStatus(raw string) Status {
	switch raw {
	case "approved":
		return StatusApproved
	case "rejected":
		return StatusRejected
	case "cancelled":
		return StatusCancelled
	case "pending", "in_process", "authorized":
		return StatusPending
	default:
		return StatusOther
	}
}
