// Package http exposes a payment Verifier as an HTTP 402 gate.
//
// The gate sits in front of a paid handler: requests without an
// accepted payment proof receive 402 Payment Required with a
// machine-readable description of the expected payment, and requests
// whose downstream work fails have their acceptance rolled back so the
// same proof can be retried. Adapters are provided for net/http, gin,
// and echo.
package http

import (
	"log/slog"

	"github.com/paygate-labs/paygate"
)

// PaymentHeader carries the claimed transaction reference on gated
// requests.
const PaymentHeader = "X-Payment-Transaction"

// PaymentRequirements describes the payment a gated resource expects.
// Rendered in every 402 response body.
type PaymentRequirements struct {
	PayTo     string `json:"payTo"`
	MinAmount string `json:"minAmount"`
	Asset     string `json:"asset"`
	Network   string `json:"network"`
}

// paymentRequiredBody is the 402 response payload.
type paymentRequiredBody struct {
	Error   string              `json:"error"`
	Reason  string              `json:"reason,omitempty"`
	Amount  string              `json:"amount,omitempty"`
	Accepts PaymentRequirements `json:"accepts"`
}

// Gate maps a Verifier onto the HTTP payment-required flow.
type Gate struct {
	verifier     *paygate.Verifier
	requirements PaymentRequirements
	logger       *slog.Logger
}

// NewGate creates a gate in front of verifier.
//
// The payment-requirements descriptor is derived from the verifier's
// policy and validated against its JSON schema here, so a descriptor
// that clients could not act on is rejected before the gate ever
// serves a request.
func NewGate(verifier *paygate.Verifier, opts ...GateOption) (*Gate, error) {
	cfg := &gateConfig{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	policy := verifier.Policy()
	requirements := PaymentRequirements{
		PayTo:     policy.Recipient,
		MinAmount: policy.MinAmount.String(),
		Asset:     policy.TokenContract,
		Network:   policy.Network,
	}
	if err := validateRequirements(requirements); err != nil {
		return nil, err
	}

	return &Gate{
		verifier:     verifier,
		requirements: requirements,
		logger:       cfg.logger,
	}, nil
}

// Requirements returns the descriptor rendered in 402 responses.
func (g *Gate) Requirements() PaymentRequirements {
	return g.requirements
}

// requiredBody builds the 402 payload for a missing or malformed proof.
func (g *Gate) requiredBody(message string) paymentRequiredBody {
	return paymentRequiredBody{
		Error:   message,
		Reason:  "payment_required",
		Accepts: g.requirements,
	}
}

// rejectedBody builds the 402 payload for a rejected verification,
// carrying the observed amount when the verifier reported one.
func (g *Gate) rejectedBody(result *paygate.VerificationResult) paymentRequiredBody {
	body := paymentRequiredBody{
		Error:   result.Message,
		Reason:  string(result.Reason),
		Accepts: g.requirements,
	}
	if result.Amount != nil {
		body.Amount = result.Amount.String()
	}
	return body
}

// gateConfig holds the configuration for a Gate.
type gateConfig struct {
	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*gateConfig)

// WithGateLogger sets the structured logger for gate decisions.
//
// Default: slog.Default()
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(c *gateConfig) {
		c.logger = logger
	}
}
