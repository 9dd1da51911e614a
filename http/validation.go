package http

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	"github.com/paygate-labs/paygate"
)

// Transaction reference pattern for the payment header: a 32-byte hash
// in 0x-prefixed hex, either case.
var headerRefRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidatePaymentHeader validates the payment header value and returns
// the canonical transaction reference.
//
// Returns an error with a descriptive message when the header is empty
// or does not have the shape of a transaction reference. Ledger-level
// validity is the verifier's job, not the header's.
func ValidatePaymentHeader(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("payment header is empty")
	}
	if !headerRefRegex.MatchString(header) {
		return "", fmt.Errorf("invalid payment header format: not a transaction reference")
	}
	return paygate.CanonicalRef(header), nil
}

// requirementsSchema is the shape clients rely on when acting on a 402
// response. The gate validates its own descriptor against it at
// construction.
const requirementsSchema = `{
	"type": "object",
	"required": ["payTo", "minAmount", "asset", "network"],
	"properties": {
		"payTo":     {"type": "string", "pattern": "^0x[0-9a-f]{40}$"},
		"minAmount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
		"asset":     {"type": "string", "pattern": "^0x[0-9a-f]{40}$"},
		"network":   {"type": "string", "minLength": 1}
	}
}`

// validateRequirements checks the descriptor against requirementsSchema.
func validateRequirements(requirements PaymentRequirements) error {
	doc, err := json.Marshal(requirements)
	if err != nil {
		return fmt.Errorf("marshal payment requirements: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(requirementsSchema)
	documentLoader := gojsonschema.NewBytesLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validate payment requirements: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid payment requirements: %v", result.Errors())
	}
	return nil
}
