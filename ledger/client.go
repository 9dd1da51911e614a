// Package ledger implements the read-only adapter to an external EVM
// node: fetching finalized transaction receipts and decoding the token
// transfers they contain. It holds no local state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/paygate-labs/paygate"
)

// receiptFetcher is the subset of ethclient.Client the ledger client
// uses. Narrowed for testability.
type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client fetches receipts from an EVM JSON-RPC endpoint and decodes
// ERC-20 Transfer events out of them.
type Client struct {
	rpc receiptFetcher
}

// NewClient creates a ledger client over an existing ethclient connection.
func NewClient(ec *ethclient.Client) *Client {
	return &Client{rpc: ec}
}

// Dial connects to an EVM JSON-RPC endpoint and returns a ledger client.
//
// Example:
//
//	client, err := ledger.Dial("https://sepolia.base.org")
func Dial(rawurl string) (*Client, error) {
	ec, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	return NewClient(ec), nil
}

// FetchReceipt returns the receipt for ref, or (nil, nil) when the
// transaction is unknown or not yet mined. Absence is a normal outcome,
// not an error; a non-nil error means a transport failure and the call
// should be retried.
func (c *Client) FetchReceipt(ctx context.Context, ref string) (*paygate.Receipt, error) {
	rcpt, err := c.rpc.TransactionReceipt(ctx, common.HexToHash(ref))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, paygate.NewPaymentError(paygate.KindVerificationError, "fetch receipt failed",
			map[string]interface{}{"ref": paygate.CanonicalRef(ref)}, err)
	}

	return convertReceipt(rcpt), nil
}

// convertReceipt maps a go-ethereum receipt into the engine's receipt
// model, canonicalizing addresses and topics to lower-case hex.
func convertReceipt(rcpt *types.Receipt) *paygate.Receipt {
	out := &paygate.Receipt{
		TxHash: strings.ToLower(rcpt.TxHash.Hex()),
		Status: rcpt.Status,
		Logs:   make([]paygate.LogEntry, 0, len(rcpt.Logs)),
	}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}

	for _, l := range rcpt.Logs {
		entry := paygate.LogEntry{
			Address: strings.ToLower(l.Address.Hex()),
			Topics:  make([]string, 0, len(l.Topics)),
			Data:    l.Data,
		}
		for _, topic := range l.Topics {
			entry.Topics = append(entry.Topics, strings.ToLower(topic.Hex()))
		}
		out.Logs = append(out.Logs, entry)
	}

	return out
}

// Ensure Client implements the engine's ledger contract
var _ paygate.LedgerClient = (*Client)(nil)
