// Package gateway is the boundary to external payment providers. Each
// provider implements Gateway; the checkout and verification services only
// see this interface, so adding a provider does not touch them.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Provider names.
const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

// Gateway defines the capability the checkout core requires from a payment
// provider.
type Gateway interface {
	// Name is the tag stored on orders and ledger rows.
	Name() string

	// PublicKey is the client-side key the storefront needs to open the
	// provider's payment flow. Never a secret.
	PublicKey() string

	// CreateIntent creates a remote payment intent for the given amount.
	// It is called once per checkout and never retried.
	CreateIntent(ctx context.Context, params IntentParams) (*Intent, error)

	// VerifySignature proves a client-reported payment is authentic.
	// Returns ErrSignatureMismatch when it is not.
	VerifySignature(ctx context.Context, params VerifyParams) error
}

// IntentParams describes a payment intent to create.
type IntentParams struct {
	// AmountMinor is the amount in the currency's minor unit (paise, cents).
	AmountMinor int64
	Currency    string

	// Receipt is the local order ID.
	Receipt  string
	Metadata map[string]string
}

// Intent is the provider-side payment authorization.
type Intent struct {
	ID          string
	AmountMinor int64
	Currency    string
	Status      string

	// ClientSecret is returned by providers whose client SDK needs it.
	ClientSecret string
	CreatedAt    time.Time
}

// VerifyParams carries a client-reported payment callback.
type VerifyParams struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Config selects and configures the active provider.
type Config struct {
	Provider  string
	KeyID     string
	KeySecret string
	Currency  string
	Timeout   time.Duration

	// BaseURL overrides the provider API endpoint (tests, sandboxes).
	BaseURL string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderRazorpay, ProviderStripe:
	default:
		return fmt.Errorf("gateway: unknown provider %q", c.Provider)
	}
	if c.KeySecret == "" {
		return fmt.Errorf("gateway: %s secret is required", c.Provider)
	}
	if c.Provider == ProviderRazorpay && c.KeyID == "" {
		return fmt.Errorf("gateway: razorpay key id is required")
	}
	if c.Currency == "" {
		return fmt.Errorf("gateway: currency is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("gateway: timeout must be positive")
	}
	return nil
}

// New creates the gateway named by cfg.Provider.
func New(cfg Config) (Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderStripe:
		return NewStripeGateway(cfg), nil
	default:
		return NewRazorpayGateway(cfg), nil
	}
}

// ToMinorUnits converts a major-unit amount to minor units, rounding to the
// nearest unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
