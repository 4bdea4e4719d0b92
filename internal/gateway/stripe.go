package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smarteen-shop/config"
	"smarteen-shop/internal/util"

	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/price"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// StripeGateway implements PaymentGateway against Stripe.
type StripeGateway struct {
	webhookSecret    string
	productID        string
	siteURL          string
	currency         string
	devicePrice      int64
	subscriptionFee  int64
	allowedCountries []string
	logger           *zap.Logger
}

// NewStripeGateway configures the Stripe client and returns the gateway.
func NewStripeGateway(cfg *config.Config) *StripeGateway {
	stripe.Key = cfg.Stripe.SecretKey

	return &StripeGateway{
		webhookSecret:    cfg.Stripe.WebhookSecret,
		productID:        cfg.Stripe.SubscriptionProductID,
		siteURL:          cfg.Server.SiteURL,
		currency:         cfg.Business.Currency,
		devicePrice:      cfg.Business.DevicePriceCents,
		subscriptionFee:  cfg.Business.SubscriptionPriceCents,
		allowedCountries: cfg.Business.AllowedCountries,
		logger:           util.GetLogger(),
	}
}

// CreateCheckoutSession reuses the customer matching the user's email when
// one exists, refreshing its contact details, and opens a one-device
// checkout session with free shipping and phone/address collection.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	cust, err := g.findOrCreateCustomer(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer: %w", err)
	}

	params := &stripe.CheckoutSessionParams{
		Params:   stripe.Params{Context: ctx},
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(cust.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(g.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String("SmarTeen Phone"),
						Description: stripe.String("Secure smartphone for kids aged 8-14"),
					},
					UnitAmount: stripe.Int64(g.devicePrice),
				},
				Quantity: stripe.Int64(1),
			},
		},
		ShippingOptions: []*stripe.CheckoutSessionShippingOptionParams{
			{
				ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
					Type: stripe.String("fixed_amount"),
					FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
						Amount:   stripe.Int64(0),
						Currency: stripe.String(g.currency),
					},
					DisplayName: stripe.String("Free shipping"),
				},
			},
		},
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(g.allowedCountries),
		},
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
		SuccessURL: stripe.String(g.siteURL + "/order/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(g.siteURL + "/checkout"),
	}
	params.AddMetadata("userId", in.UserID)
	params.AddMetadata("childFirstName", in.Child.FirstName)
	params.AddMetadata("childBirthDate", in.Child.BirthDate.Format(time.RFC3339))
	params.AddMetadata("protectionLevel", in.Child.ProtectionLevel)

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutSession{ID: sess.ID, CustomerID: cust.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) findOrCreateCustomer(ctx context.Context, in CheckoutInput) (*stripe.Customer, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(in.UserEmail)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := customer.List(listParams)
	if iter.Next() {
		existing := iter.Customer()
		if in.Phone != "" || in.Address.Street != "" {
			updateParams := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
			if in.Phone != "" {
				updateParams.Phone = stripe.String(in.Phone)
			}
			if in.Address.Street != "" {
				updateParams.Address = addressParams(in.Address)
			}
			if updated, err := customer.Update(existing.ID, updateParams); err == nil {
				return updated, nil
			} else {
				g.logger.Warn("Failed to refresh customer contact details",
					zap.String("customer_id", existing.ID), zap.Error(err))
			}
		}
		return existing, nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	createParams := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(in.UserEmail),
	}
	if in.Phone != "" {
		createParams.Phone = stripe.String(in.Phone)
	}
	if in.Address.Street != "" {
		createParams.Address = addressParams(in.Address)
	}
	createParams.AddMetadata("userId", in.UserID)

	return customer.New(createParams)
}

func addressParams(a Address) *stripe.AddressParams {
	return &stripe.AddressParams{
		Line1:      stripe.String(a.Street),
		City:       stripe.String(a.City),
		PostalCode: stripe.String(a.PostalCode),
		Country:    stripe.String(a.Country),
	}
}

// CreateDormantSubscription creates the recurring subscription with a trial
// period one year out so it cannot bill before delivery-triggered
// activation. The monthly price is looked up on the catalog first; a new
// price object is only created when no active recurring price of the same
// amount exists.
func (g *StripeGateway) CreateDormantSubscription(ctx context.Context, customerID, orderID string) (*Subscription, error) {
	priceID, err := g.resolveRecurringPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscription price: %w", err)
	}

	params := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		TrialEnd: stripe.Int64(time.Now().AddDate(1, 0, 0).Unix()),
	}
	params.AddMetadata("orderId", orderID)
	params.AddMetadata("activationType", "delivery_triggered")

	sub, err := subscription.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return fromStripeSubscription(sub), nil
}

func (g *StripeGateway) resolveRecurringPrice(ctx context.Context) (string, error) {
	listParams := &stripe.PriceListParams{
		Product: stripe.String(g.productID),
		Type:    stripe.String("recurring"),
		Active:  stripe.Bool(true),
	}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := price.List(listParams)
	if iter.Next() {
		p := iter.Price()
		if p.UnitAmount == g.subscriptionFee && p.Recurring != nil &&
			p.Recurring.Interval == stripe.PriceRecurringIntervalMonth {
			return p.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", err
	}

	created, err := price.New(&stripe.PriceParams{
		Params:     stripe.Params{Context: ctx},
		Currency:   stripe.String(g.currency),
		UnitAmount: stripe.Int64(g.subscriptionFee),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		},
		Product: stripe.String(g.productID),
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// EndTrialNow ends the trial immediately so the next billing cycle starts
// now. Stripe treats ending an already-ended trial as a no-op, which keeps
// activation retries safe.
func (g *StripeGateway) EndTrialNow(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := subscription.Update(subscriptionID, &stripe.SubscriptionParams{
		Params:      stripe.Params{Context: ctx},
		TrialEndNow: stripe.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to end trial: %w", err)
	}
	return fromStripeSubscription(sub), nil
}

// GetSubscription fetches the authoritative subscription state.
func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := subscription.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, err
	}
	return fromStripeSubscription(sub), nil
}

// BillingPortalURL creates a self-service billing portal session.
func (g *StripeGateway) BillingPortalURL(ctx context.Context, customerID string) (string, error) {
	sess, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(g.siteURL + "/account/subscription"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// VerifyEvent checks the signature against the raw payload and decodes the
// event into its domain shape. No content is interpreted before the
// signature verifies.
func (g *StripeGateway) VerifyEvent(payload []byte, signatureHeader string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	event := &Event{
		ID:   stripeEvent.ID,
		Type: string(stripeEvent.Type),
	}

	switch event.Type {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		event.Checkout = fromStripeCheckoutSession(&sess)

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		event.Subscription = fromStripeSubscription(&sub)

	case EventInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		if invoice.Subscription != nil {
			event.InvoiceSubscriptionID = invoice.Subscription.ID
		}
	}

	return event, nil
}

func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
		Paused: sub.PauseCollection != nil,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Metadata != nil {
		out.OrderID = sub.Metadata["orderId"]
	}
	if sub.TrialEnd > 0 {
		out.TrialEnd = time.Unix(sub.TrialEnd, 0)
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0)
	}
	return out
}

func fromStripeCheckoutSession(sess *stripe.CheckoutSession) *CompletedCheckout {
	out := &CompletedCheckout{SessionID: sess.ID}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.PaymentIntent != nil {
		out.PaymentID = sess.PaymentIntent.ID
	}
	if sess.Metadata != nil {
		out.UserID = sess.Metadata["userId"]
	}
	if sess.ShippingDetails != nil && sess.ShippingDetails.Address != nil {
		addr := sess.ShippingDetails.Address
		out.ShippingAddress = &Address{
			Street:     addr.Line1,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		}
	}
	if sess.CustomerDetails != nil {
		out.Phone = sess.CustomerDetails.Phone
	}
	return out
}
