package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrReverted           = errors.New("execution reverted")
	ErrUnsupportedURL     = errors.New("unsupported RPC URL scheme")
	ErrUnknownTransaction = errors.New("unknown transaction")
)

// Chain is everything the bid engine needs from an EVM node. All calls are
// made on behalf of a single signing account, returned by Sender.
type Chain interface {
	ChainID() *big.Int
	Sender() common.Address

	// BatchCall executes every message as an eth_call against the latest
	// block in a single round trip. Results are returned in order.
	BatchCall(ctx context.Context, msgs []ethereum.CallMsg) ([][]byte, error)
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	CreateAccessList(ctx context.Context, msg ethereum.CallMsg) (types.AccessList, error)

	// SendTransaction fills in nonce, gas and fees where msg leaves them
	// unset, signs, and broadcasts.
	SendTransaction(ctx context.Context, msg ethereum.CallMsg) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	Heads(ctx context.Context) (HeadSource, error)
}
