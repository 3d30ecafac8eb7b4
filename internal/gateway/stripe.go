package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
)

// StripeGateway creates PaymentIntents and verifies payments by retrieving
// the intent server-side. Stripe has no client-side HMAC callback, so the
// "signature" is the intent's client secret, which only the paying client
// and the server know.
type StripeGateway struct {
	publishableKey string
	intents        *paymentintent.Client
}

// NewStripeGateway creates a Stripe gateway with a private backend that
// honours the configured timeout and never retries.
func NewStripeGateway(cfg Config) *StripeGateway {
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendConfig.URL = stripe.String(cfg.BaseURL)
	}

	return &StripeGateway{
		publishableKey: cfg.KeyID,
		intents: &paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Key: cfg.KeySecret,
		},
	}
}

func (g *StripeGateway) Name() string      { return ProviderStripe }
func (g *StripeGateway) PublicKey() string { return g.publishableKey }

// CreateIntent creates a PaymentIntent with automatic payment methods.
func (g *StripeGateway) CreateIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	if params.AmountMinor <= 0 {
		return nil, ErrAmountTooSmall
	}

	piParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(params.AmountMinor),
		Currency: stripe.String(strings.ToLower(params.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String("Order " + params.Receipt),
	}
	piParams.Context = ctx
	piParams.AddMetadata("receipt", params.Receipt)
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}
	// One intent per local order even if the client resubmits.
	piParams.SetIdempotencyKey("intent-" + params.Receipt)

	pi, err := g.intents.New(piParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &Intent{
		ID:           pi.ID,
		AmountMinor:  pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		CreatedAt:    time.Unix(pi.Created, 0),
	}, nil
}

// VerifySignature retrieves the PaymentIntent and requires that the
// supplied client secret matches, the intent succeeded, and its latest
// charge is the reported payment.
func (g *StripeGateway) VerifySignature(ctx context.Context, params VerifyParams) error {
	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx

	pi, err := g.intents.Get(params.GatewayOrderID, getParams)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return ErrSignatureMismatch
		}
		return wrapStripeError(err)
	}

	if subtle.ConstantTimeCompare([]byte(pi.ClientSecret), []byte(params.Signature)) != 1 {
		return ErrSignatureMismatch
	}
	if pi.LatestCharge != nil && pi.LatestCharge.ID != params.GatewayPaymentID {
		return ErrSignatureMismatch
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return ErrPaymentNotCaptured
	}
	// A succeeded intent always carries its charge.
	if pi.LatestCharge == nil || pi.LatestCharge.ID == "" {
		return ErrSignatureMismatch
	}
	return nil
}

func wrapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &Error{
			Provider:   ProviderStripe,
			Message:    stripeErr.Msg,
			Code:       string(stripeErr.Code),
			StatusCode: stripeErr.HTTPStatusCode,
			RequestID:  stripeErr.RequestID,
			Err:        err,
		}
	}
	return wrapTransportError(ProviderStripe, err)
}
