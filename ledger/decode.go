package ledger

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/paygate-labs/paygate"
)

// ERC-20 Transfer event fragment, the only piece of the token ABI the
// engine needs.
const erc20TransferABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

var (
	transferABI   = mustParseABI(erc20TransferABI)
	transferTopic = strings.ToLower(crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex())
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// DecodeTransferEvents decodes the ERC-20 Transfer events in receipt
// that were emitted by tokenContract, in log order.
//
// Receipts routinely carry events from other contracts and event shapes
// this engine does not understand; any entry that fails the contract
// filter or does not decode as a Transfer is skipped silently, and the
// scan always continues across the remaining entries.
func (c *Client) DecodeTransferEvents(receipt *paygate.Receipt, tokenContract string) []paygate.TransferEvent {
	return DecodeTransferEvents(receipt, tokenContract)
}

// DecodeTransferEvents is the package-level form of
// Client.DecodeTransferEvents; decoding needs no RPC connection.
func DecodeTransferEvents(receipt *paygate.Receipt, tokenContract string) []paygate.TransferEvent {
	if receipt == nil {
		return nil
	}

	var events []paygate.TransferEvent
	for _, entry := range receipt.Logs {
		ev, ok := decodeTransfer(entry, tokenContract)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// decodeTransfer decodes one log entry, reporting ok=false for entries
// that are not a Transfer from the expected token contract.
func decodeTransfer(entry paygate.LogEntry, tokenContract string) (paygate.TransferEvent, bool) {
	if !strings.EqualFold(entry.Address, tokenContract) {
		return paygate.TransferEvent{}, false
	}

	// Transfer carries the event signature plus two indexed addresses.
	if len(entry.Topics) != 3 {
		return paygate.TransferEvent{}, false
	}
	if !strings.EqualFold(entry.Topics[0], transferTopic) {
		return paygate.TransferEvent{}, false
	}

	values, err := transferABI.Unpack("Transfer", entry.Data)
	if err != nil || len(values) != 1 {
		return paygate.TransferEvent{}, false
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return paygate.TransferEvent{}, false
	}

	return paygate.TransferEvent{
		From:  paygate.NormalizeAddress(common.HexToAddress(entry.Topics[1]).Hex()),
		To:    paygate.NormalizeAddress(common.HexToAddress(entry.Topics[2]).Hex()),
		Value: value,
	}, true
}
