package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway is a mock payment gateway for testing.
// By default it creates intents successfully and verifies signatures with
// the same HMAC scheme as Razorpay using Secret.
type MockGateway struct {
	// Secret keys the default signature check.
	Secret string

	// CreateIntentFunc allows customizing intent creation behavior
	CreateIntentFunc func(ctx context.Context, params IntentParams) (*Intent, error)

	// VerifySignatureFunc allows customizing verification behavior
	VerifySignatureFunc func(ctx context.Context, params VerifyParams) error

	// Intents stores created intents by ID
	Intents map[string]*Intent

	// CallLog tracks method calls for test assertions
	CallLog []string

	mu sync.Mutex
}

// NewMockGateway creates a new mock gateway.
func NewMockGateway(secret string) *MockGateway {
	return &MockGateway{
		Secret:  secret,
		Intents: make(map[string]*Intent),
		CallLog: []string{},
	}
}

func (m *MockGateway) Name() string      { return "mock" }
func (m *MockGateway) PublicKey() string { return "mock_key" }

// CreateIntent creates a mock intent.
func (m *MockGateway) CreateIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateIntent(%d, %s, %s)", params.AmountMinor, params.Currency, params.Receipt))
	m.mu.Unlock()

	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, params)
	}

	intent := &Intent{
		ID:          "order_" + uuid.New().String()[:14],
		AmountMinor: params.AmountMinor,
		Currency:    params.Currency,
		Status:      "created",
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	m.Intents[intent.ID] = intent
	m.mu.Unlock()
	return intent, nil
}

// VerifySignature verifies a mock callback.
func (m *MockGateway) VerifySignature(ctx context.Context, params VerifyParams) error {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("VerifySignature(%s, %s)", params.GatewayOrderID, params.GatewayPaymentID))
	m.mu.Unlock()

	if m.VerifySignatureFunc != nil {
		return m.VerifySignatureFunc(ctx, params)
	}

	g := &RazorpayGateway{keySecret: m.Secret}
	return g.VerifySignature(ctx, params)
}

// Calls returns a copy of the call log.
func (m *MockGateway) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}
