// Package contracts holds the ABI fragments of the auction contracts the bot
// talks to. Only the methods actually called are declared.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const ccaABIJSON = `[
  {"type":"function","name":"floorPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tickSpacing","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"MAX_BID_PRICE","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"endBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
  {"type":"function","name":"ticks","stateMutability":"view","inputs":[{"name":"price","type":"uint256"}],"outputs":[{"name":"next","type":"uint256"},{"name":"currencyDemandQ96","type":"uint256"}]},
  {"type":"function","name":"submitBid","stateMutability":"payable","inputs":[{"name":"maxPrice","type":"uint256"},{"name":"amount","type":"uint128"},{"name":"owner","type":"address"},{"name":"prevTickPrice","type":"uint256"},{"name":"hookData","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const validationHookABIJSON = `[
  {"type":"function","name":"CONTRIBUTOR_PERIOD_END_BLOCK","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"MAX_PURCHASE_LIMIT","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"totalPurchased","stateMutability":"view","inputs":[{"name":"sender","type":"address"}],"outputs":[{"name":"totalPurchased","type":"uint256"}]}
]`

const soulboundABIJSON = `[
  {"type":"function","name":"hasAnyToken","stateMutability":"view","inputs":[{"name":"_addr","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	CCA            = mustParse(ccaABIJSON)
	ValidationHook = mustParse(validationHookABIJSON)
	Soulbound      = mustParse(soulboundABIJSON)
)

func mustParse(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse ABI: %v", err))
	}
	return a
}

// Tick is one node of the auction's on-chain price list.
type Tick struct {
	Next              *big.Int
	CurrencyDemandQ96 *big.Int
}

// SubmitBidArgs are the arguments of the five-argument submitBid overload.
type SubmitBidArgs struct {
	MaxPrice      *big.Int
	Amount        *big.Int
	Owner         common.Address
	PrevTickPrice *big.Int
	HookData      []byte
}

// PackSubmitBid returns the calldata for submitBid.
func PackSubmitBid(args SubmitBidArgs) ([]byte, error) {
	hookData := args.HookData
	if hookData == nil {
		hookData = []byte{}
	}
	return CCA.Pack("submitBid", args.MaxPrice, args.Amount, args.Owner, args.PrevTickPrice, hookData)
}

// UnpackSubmitBid decodes submitBid calldata, selector included.
func UnpackSubmitBid(data []byte) (SubmitBidArgs, error) {
	method, vals, err := unpackInput(CCA, data)
	if err != nil {
		return SubmitBidArgs{}, err
	}
	if method != "submitBid" {
		return SubmitBidArgs{}, fmt.Errorf("unexpected method %s", method)
	}
	if len(vals) != 5 {
		return SubmitBidArgs{}, fmt.Errorf("submitBid: want 5 arguments, have %d", len(vals))
	}

	var args SubmitBidArgs
	var ok [5]bool
	args.MaxPrice, ok[0] = vals[0].(*big.Int)
	args.Amount, ok[1] = vals[1].(*big.Int)
	args.Owner, ok[2] = vals[2].(common.Address)
	args.PrevTickPrice, ok[3] = vals[3].(*big.Int)
	args.HookData, ok[4] = vals[4].([]byte)
	for i, good := range ok {
		if !good {
			return SubmitBidArgs{}, fmt.Errorf("submitBid: argument %d has type %T", i, vals[i])
		}
	}
	return args, nil
}

// PackTicks returns the calldata for ticks(price).
func PackTicks(price *big.Int) ([]byte, error) {
	return CCA.Pack("ticks", price)
}

// UnpackTicks decodes the return data of ticks(price).
func UnpackTicks(data []byte) (Tick, error) {
	vals, err := CCA.Unpack("ticks", data)
	if err != nil {
		return Tick{}, fmt.Errorf("unpack ticks: %w", err)
	}
	if len(vals) != 2 {
		return Tick{}, fmt.Errorf("unpack ticks: want 2 values, have %d", len(vals))
	}
	next, ok1 := vals[0].(*big.Int)
	demand, ok2 := vals[1].(*big.Int)
	if !ok1 || !ok2 {
		return Tick{}, fmt.Errorf("unpack ticks: unexpected types %T, %T", vals[0], vals[1])
	}
	return Tick{Next: next, CurrencyDemandQ96: demand}, nil
}

// UnpackUint256 decodes a single uint256 return value of method.
func UnpackUint256(a abi.ABI, method string, data []byte) (*big.Int, error) {
	vals, err := a.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("unpack %s: want 1 value, have %d", method, len(vals))
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return n, nil
}

// UnpackUint64 decodes a single uint64 return value of method.
func UnpackUint64(a abi.ABI, method string, data []byte) (uint64, error) {
	vals, err := a.Unpack(method, data)
	if err != nil {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("unpack %s: want 1 value, have %d", method, len(vals))
	}
	n, ok := vals[0].(uint64)
	if !ok {
		return 0, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return n, nil
}

// UnpackBool decodes a single bool return value of method.
func UnpackBool(a abi.ABI, method string, data []byte) (bool, error) {
	vals, err := a.Unpack(method, data)
	if err != nil {
		return false, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return false, fmt.Errorf("unpack %s: want 1 value, have %d", method, len(vals))
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return b, nil
}

// DecodeCall identifies the method and arguments encoded in calldata against
// any of the known contracts. The fake chain uses it to answer calls.
func DecodeCall(a abi.ABI, data []byte) (string, []any, error) {
	return unpackInput(a, data)
}

// PackReturn encodes return values for method, the inverse of Unpack.
func PackReturn(a abi.ABI, method string, vals ...any) ([]byte, error) {
	m, ok := a.Methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %s", method)
	}
	return m.Outputs.Pack(vals...)
}

func unpackInput(a abi.ABI, data []byte) (string, []any, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("calldata too short (%d bytes)", len(data))
	}
	m, err := a.MethodById(data[:4])
	if err != nil {
		return "", nil, fmt.Errorf("lookup method: %w", err)
	}
	vals, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, fmt.Errorf("unpack %s arguments: %w", m.Name, err)
	}
	return m.Name, vals, nil
}
