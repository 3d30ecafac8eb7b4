package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const razorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayGateway creates Razorpay orders over the REST API and verifies
// checkout callbacks with the account's key secret.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// NewRazorpayGateway creates a Razorpay gateway. The HTTP client carries the
// configured timeout and performs no retries.
func NewRazorpayGateway(cfg Config) *RazorpayGateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = razorpayBaseURL
	}
	return &RazorpayGateway{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (g *RazorpayGateway) Name() string      { return ProviderRazorpay }
func (g *RazorpayGateway) PublicKey() string { return g.keyID }

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent creates a Razorpay order.
func (g *RazorpayGateway) CreateIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	if params.AmountMinor <= 0 {
		return nil, ErrAmountTooSmall
	}

	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   params.AmountMinor,
		Currency: params.Currency,
		Receipt:  params.Receipt,
		Notes:    params.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("razorpay: encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("razorpay: build request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, wrapTransportError(ProviderRazorpay, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, wrapTransportError(ProviderRazorpay, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr razorpayErrorBody
		_ = json.Unmarshal(payload, &apiErr)
		msg := apiErr.Error.Description
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{
			Provider:   ProviderRazorpay,
			Message:    msg,
			Code:       apiErr.Error.Code,
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Razorpay-Request-Id"),
		}
	}

	var order razorpayOrder
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, &Error{Provider: ProviderRazorpay, Message: "malformed order response", StatusCode: resp.StatusCode, Err: err}
	}
	if order.ID == "" {
		return nil, &Error{Provider: ProviderRazorpay, Message: "order response missing id", StatusCode: resp.StatusCode}
	}

	return &Intent{
		ID:          order.ID,
		AmountMinor: order.Amount,
		Currency:    order.Currency,
		Status:      order.Status,
		CreatedAt:   time.Unix(order.CreatedAt, 0),
	}, nil
}

// VerifySignature checks the callback signature, an HMAC-SHA256 hex digest
// of "<order_id>|<payment_id>" keyed by the key secret.
func (g *RazorpayGateway) VerifySignature(_ context.Context, params VerifyParams) error {
	expected := Sign(g.keySecret, params.GatewayOrderID, params.GatewayPaymentID)
	if !hmac.Equal([]byte(expected), []byte(params.Signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the callback signature for an order and payment reference.
func Sign(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

func wrapTransportError(provider string, err error) error {
	code := "api_connection_error"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = "timeout"
	}
	return &Error{
		Provider: provider,
		Message:  "request failed",
		Code:     code,
		Err:      err,
	}
}
