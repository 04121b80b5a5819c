package stripepay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/isw-interns2026/shardul-ecommerce/internal/payment"
)

const (
	eventSessionCompleted = "checkout.session.completed"
	eventSessionExpired   = "checkout.session.expired"

	// Stripe rejects expires_at outside [now+30m, now+24h].
	minSessionTTL = 30 * time.Minute
	maxSessionTTL = 24 * time.Hour
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
	// BackendURL overrides the API base URL; empty means api.stripe.com.
	BackendURL string
}

// Client implements payment.Provider on Stripe Checkout.
type Client struct {
	sessions session.Client
	cfg      Config
	now      func() time.Time
}

var _ payment.Provider = (*Client)(nil)

func New(cfg Config) *Client {
	backend := stripe.GetBackend(stripe.APIBackend)
	if cfg.BackendURL != "" {
		backend = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(cfg.BackendURL),
		})
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Client{
		sessions: session.Client{B: backend, Key: cfg.SecretKey},
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateCheckoutSession opens a hosted payment page. The transaction id
// is both the client reference and the idempotency key, so a retried
// call for the same transaction returns the same session.
func (c *Client) CreateCheckoutSession(ctx context.Context, s payment.Session) (payment.CreatedSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(s.TransactionID.String()),
		ExpiresAt:         stripe.Int64(c.expiresAt(s.ExpiresAt).Unix()),
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + s.TransactionID.String())
	params.AddMetadata("transaction_id", s.TransactionID.String())
	if s.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(s.CustomerEmail)
	}
	for _, l := range s.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(c.cfg.Currency),
				UnitAmount: stripe.Int64(l.UnitAmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(l.Name),
				},
			},
			Quantity: stripe.Int64(int64(l.Quantity)),
		})
	}

	cs, err := c.sessions.New(params)
	if err != nil {
		return payment.CreatedSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return payment.CreatedSession{ID: cs.ID, URL: cs.URL}, nil
}

func (c *Client) expiresAt(want time.Time) time.Time {
	now := c.now()
	// a little slack so the request is still in range when Stripe sees it
	lo, hi := now.Add(minSessionTTL+time.Minute), now.Add(maxSessionTTL-time.Minute)
	switch {
	case want.Before(lo):
		return lo
	case want.After(hi):
		return hi
	}
	return want
}

// ParseEvent verifies the Stripe-Signature header and classifies the
// event. Events from other API versions are accepted; only the session
// id is read from them.
func (c *Client) ParseEvent(payload []byte, signature string) (payment.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if signatureError(err) {
			return payment.Event{}, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
		}
		return payment.Event{}, fmt.Errorf("decode event: %w", err)
	}
	out := payment.Event{ID: ev.ID, Type: string(ev.Type), Kind: classify(string(ev.Type))}
	if out.Kind == payment.KindUnknown || ev.Data == nil {
		return out, nil
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
		return payment.Event{}, fmt.Errorf("decode checkout session: %w", err)
	}
	out.SessionRef = cs.ID
	return out, nil
}

func signatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld)
}

func classify(eventType string) payment.EventKind {
	switch eventType {
	case eventSessionCompleted:
		return payment.KindPaymentCompleted
	case eventSessionExpired:
		return payment.KindSessionExpired
	}
	return payment.KindUnknown
}
