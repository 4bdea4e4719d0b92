package gateway

import (
	"context"
	"time"
)

// Provider event types the dispatcher routes on. The provider's vocabulary
// evolves independently; anything else is acknowledged without action.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Address is a shipping or billing address.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// ChildConfig is the child configuration attached to a checkout.
type ChildConfig struct {
	FirstName       string
	BirthDate       time.Time
	ProtectionLevel string
}

// CheckoutInput carries everything needed to open a hosted checkout session.
type CheckoutInput struct {
	UserID    string
	UserEmail string
	Phone     string
	Child     ChildConfig
	Address   Address
}

// CheckoutSession is a hosted checkout session created on the gateway.
type CheckoutSession struct {
	ID         string
	CustomerID string
	URL        string
}

// Subscription is the gateway's view of a recurring subscription.
type Subscription struct {
	ID               string
	CustomerID       string
	OrderID          string
	Status           string
	Paused           bool
	TrialEnd         time.Time
	CurrentPeriodEnd time.Time
}

// ActiveUnpaused reports whether the subscription is billing normally,
// which is the condition that confirms activation.
func (s *Subscription) ActiveUnpaused() bool {
	return s.Status == "active" && !s.Paused
}

// CompletedCheckout is the payload of a checkout-completed event.
type CompletedCheckout struct {
	SessionID       string
	CustomerID      string
	PaymentID       string
	UserID          string
	ShippingAddress *Address
	Phone           string
}

// Event is a verified provider event.
type Event struct {
	ID   string
	Type string

	// Exactly one of these is populated, matching Type.
	Checkout     *CompletedCheckout
	Subscription *Subscription
	// InvoiceSubscriptionID is set for invoice events tied to a subscription.
	InvoiceSubscriptionID string
}

// PaymentGateway is the external payment/subscription provider. Calls are
// blocking I/O boundaries; errors propagate to the caller.
type PaymentGateway interface {
	// CreateCheckoutSession creates (or reuses) a gateway customer for the
	// user and opens a hosted checkout session for one device.
	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*CheckoutSession, error)

	// CreateDormantSubscription creates a subscription that will not bill
	// for up to a year, tagged with the order id for later correlation. The
	// recurring price is resolved from the catalog, reusing an existing
	// matching price rather than creating duplicates.
	CreateDormantSubscription(ctx context.Context, customerID, orderID string) (*Subscription, error)

	// EndTrialNow ends the subscription's trial immediately, starting the
	// billing cycle.
	EndTrialNow(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetSubscription fetches the authoritative subscription state.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// BillingPortalURL returns a self-service billing portal redirect URL.
	BillingPortalURL(ctx context.Context, customerID string) (string, error)

	// VerifyEvent checks the payload signature and decodes the event.
	// Verification failure means the payload must not be interpreted.
	VerifyEvent(payload []byte, signatureHeader string) (*Event, error)
}
