package paygate

import (
	"context"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Receipt status values, matching EVM receipt status encoding.
const (
	ReceiptStatusFailed    uint64 = 0
	ReceiptStatusSucceeded uint64 = 1
)

// txRefRegex matches a canonical transaction reference: a 32-byte hash
// in 0x-prefixed lower-case hex.
var txRefRegex = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// CanonicalRef canonicalizes a transaction reference to its single
// lower-case form. Every comparison, storage write, and lookup goes
// through this; exactly one canonical form exists per logical
// transaction.
func CanonicalRef(ref string) string {
	return strings.ToLower(strings.TrimSpace(ref))
}

// IsTransactionReference reports whether ref (after canonicalization)
// has the shape of a transaction reference.
func IsTransactionReference(ref string) bool {
	return txRefRegex.MatchString(CanonicalRef(ref))
}

// NormalizeAddress canonicalizes an address to lower-case so that
// checksummed and lower-case spellings compare equal.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Receipt is the external ledger's confirmation record for a
// transaction reference. Immutable once fetched.
type Receipt struct {
	TxHash      string     `json:"transactionHash"`
	Status      uint64     `json:"status"`
	BlockNumber uint64     `json:"blockNumber"`
	Logs        []LogEntry `json:"logs"`
}

// LogEntry is one event emitted by a contract during the transaction.
// Addresses and topics are 0x-prefixed hex strings.
type LogEntry struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    []byte   `json:"data"`
}

// TransferEvent is a token transfer decoded from a LogEntry. Value is
// in the token's smallest unit. Derived, never persisted.
type TransferEvent struct {
	From  string
	To    string
	Value *big.Int
}

// LedgerClient is the read-only adapter to the external blockchain node.
type LedgerClient interface {
	// FetchReceipt returns the finalized receipt for ref, or (nil, nil)
	// when the transaction is unknown or not yet mined. A non-nil error
	// means the ledger could not be consulted (transport failure) and is
	// distinct from absence.
	FetchReceipt(ctx context.Context, ref string) (*Receipt, error)

	// DecodeTransferEvents decodes the token transfers in receipt that
	// were emitted by tokenContract, in log order. Entries that are not
	// decodable as transfers are skipped, never an error.
	DecodeTransferEvents(receipt *Receipt, tokenContract string) []TransferEvent
}

// VerificationResult is the outcome of one verification attempt.
//
// Amount is set when a qualifying transfer was observed, including the
// insufficient-amount rejection, where it is informational.
type VerificationResult struct {
	Valid   bool             `json:"valid"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
	Reason  ErrorKind        `json:"reason,omitempty"`
	Message string           `json:"message,omitempty"`
}
