package paygate

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Policy is the payment acceptance configuration: which token, to whom,
// and how much. Fixed for the process lifetime.
//
// Addresses are stored in canonical lower-case form. Construct with
// NewPolicy; a Policy built by hand skips validation, and serving
// requests under an invalid policy is unsafe.
type Policy struct {
	// Recipient is the address a qualifying transfer must pay.
	Recipient string

	// TokenContract is the stablecoin contract whose Transfer events are
	// accepted as payment proof.
	TokenContract string

	// MinAmount is the minimum required payment in human-scale units
	// (e.g. 0.10 for ten cents of a 6-decimal token).
	MinAmount decimal.Decimal

	// TokenDecimals converts the token's smallest unit to human scale.
	// Treated as static configuration, not re-queried per call.
	TokenDecimals int32

	// Network identifies the chain the token lives on, as a CAIP-2
	// identifier (e.g. "eip155:8453"). Informational: it is surfaced in
	// payment-required descriptors, not checked against the ledger.
	Network string
}

// NewPolicy validates and builds a Policy.
//
// Malformed configuration is an error, and callers must treat it as
// fatal at startup: accepting any payment under an invalid policy is
// unsafe.
func NewPolicy(recipient, tokenContract, minAmount string, tokenDecimals int32, network string) (*Policy, error) {
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("invalid recipient address: %q", recipient)
	}
	if !common.IsHexAddress(tokenContract) {
		return nil, fmt.Errorf("invalid token contract address: %q", tokenContract)
	}

	minimum, err := decimal.NewFromString(minAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum amount %q: %w", minAmount, err)
	}
	if minimum.IsNegative() {
		return nil, fmt.Errorf("minimum amount cannot be negative: %s", minAmount)
	}

	if tokenDecimals < 0 || tokenDecimals > 36 {
		return nil, fmt.Errorf("token decimals out of range: %d", tokenDecimals)
	}

	return &Policy{
		Recipient:     NormalizeAddress(recipient),
		TokenContract: NormalizeAddress(tokenContract),
		MinAmount:     minimum,
		TokenDecimals: tokenDecimals,
		Network:       network,
	}, nil
}

// AmountFromRaw converts a raw smallest-unit amount to human scale
// using the policy's token decimals. The conversion is exact: raw
// 150000 at 6 decimals yields exactly 0.15.
func (p *Policy) AmountFromRaw(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -p.TokenDecimals)
}
