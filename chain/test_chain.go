package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"ccabid/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TestChain is an in-memory auction deployment. It answers the view calls of
// the CCA, validation hook and soulbound contracts, keeps the tick list, and
// applies submitted bids. Exported fields are configuration and must be set
// before first use.
type TestChain struct {
	ID     *big.Int
	From   common.Address
	CCA    common.Address
	Hook   common.Address
	Token  common.Address
	Height uint64

	ContributorPeriodEndBlock uint64
	EndBlock                  uint64
	FloorPrice                *big.Int
	TickSpacing               *big.Int
	MaxBidPrice               *big.Int
	MaxPurchaseLimit          *big.Int
	TotalPurchased            *big.Int
	HasAnyToken               bool

	// Ticks are existing price levels above the floor, as if placed by
	// other bidders.
	Ticks []*big.Int

	// Heights is replayed by Heads. A nil HeadsErr ends the stream with
	// io.EOF.
	Heights  []uint64
	HeadsErr error

	// Hooks to inject failures. CallErr sees every eth_call by method name,
	// including simulations of submitBid.
	CallErr     func(method string) error
	SendErr     func(args contracts.SubmitBidArgs) error
	RevertMined bool

	mu          sync.Mutex
	init        bool
	next        map[string]*big.Int
	nonce       uint64
	batches     int
	tickReads   int
	accessLists int
	sent        []contracts.SubmitBidArgs
	sentTxs     []*types.Transaction
}

var _ Chain = (*TestChain)(nil)

// TickSentinel terminates the tick list.
var TickSentinel = new(big.Int).Set(math.MaxBig256)

func (c *TestChain) setup() {
	if c.init {
		return
	}
	c.init = true

	c.next = map[string]*big.Int{c.FloorPrice.String(): TickSentinel}
	for _, t := range c.Ticks {
		c.insertTick(nil, t)
	}
}

// insertTick links price into the list after prev, or after its natural
// predecessor when prev is nil. Existing ticks are left alone.
func (c *TestChain) insertTick(prev, price *big.Int) {
	if _, ok := c.next[price.String()]; ok {
		return
	}
	if prev == nil {
		prev = c.FloorPrice
		for {
			n := c.next[prev.String()]
			if n.Cmp(price) >= 0 {
				break
			}
			prev = n
		}
	}
	c.next[price.String()] = c.next[prev.String()]
	c.next[prev.String()] = new(big.Int).Set(price)
}

func (c *TestChain) ChainID() *big.Int {
	if c.ID == nil {
		return big.NewInt(1337)
	}
	return new(big.Int).Set(c.ID)
}

func (c *TestChain) Sender() common.Address {
	return c.From
}

func (c *TestChain) BatchCall(ctx context.Context, msgs []ethereum.CallMsg) ([][]byte, error) {
	c.mu.Lock()
	c.batches++
	c.mu.Unlock()

	out := make([][]byte, len(msgs))
	for i, msg := range msgs {
		res, err := c.Call(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("batch call %d/%d: %w", i+1, len(msgs), err)
		}
		out[i] = res
	}
	return out, nil
}

func (c *TestChain) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setup()

	if msg.To == nil {
		return nil, fmt.Errorf("%w: call without recipient", ErrReverted)
	}

	switch *msg.To {
	case c.CCA:
		return c.callCCA(msg)
	case c.Hook:
		return c.callHook(msg)
	case c.Token:
		return c.callToken(msg)
	default:
		return nil, fmt.Errorf("%w: no contract at %s", ErrReverted, msg.To)
	}
}

func (c *TestChain) callCCA(msg ethereum.CallMsg) ([]byte, error) {
	a := contracts.CCA
	method, args, err := contracts.DecodeCall(a, msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReverted, err)
	}
	if c.CallErr != nil {
		if err := c.CallErr(method); err != nil {
			return nil, err
		}
	}

	switch method {
	case "floorPrice":
		return contracts.PackReturn(a, method, c.FloorPrice)
	case "tickSpacing":
		return contracts.PackReturn(a, method, c.TickSpacing)
	case "MAX_BID_PRICE":
		return contracts.PackReturn(a, method, c.MaxBidPrice)
	case "endBlock":
		return contracts.PackReturn(a, method, c.EndBlock)
	case "ticks":
		c.tickReads++
		price := args[0].(*big.Int)
		next, ok := c.next[price.String()]
		if !ok {
			next = new(big.Int)
		}
		return contracts.PackReturn(a, method, next, new(big.Int))
	case "submitBid":
		sb, err := contracts.UnpackSubmitBid(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReverted, err)
		}
		if err := c.checkBid(msg, sb); err != nil {
			return nil, err
		}
		return contracts.PackReturn(a, method, big.NewInt(int64(len(c.sent))))
	default:
		return nil, fmt.Errorf("%w: unhandled method %s", ErrReverted, method)
	}
}

func (c *TestChain) callHook(msg ethereum.CallMsg) ([]byte, error) {
	a := contracts.ValidationHook
	method, _, err := contracts.DecodeCall(a, msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReverted, err)
	}
	if c.CallErr != nil {
		if err := c.CallErr(method); err != nil {
			return nil, err
		}
	}

	switch method {
	case "CONTRIBUTOR_PERIOD_END_BLOCK":
		return contracts.PackReturn(a, method, new(big.Int).SetUint64(c.ContributorPeriodEndBlock))
	case "MAX_PURCHASE_LIMIT":
		return contracts.PackReturn(a, method, c.MaxPurchaseLimit)
	case "totalPurchased":
		return contracts.PackReturn(a, method, c.totalPurchased())
	default:
		return nil, fmt.Errorf("%w: unhandled method %s", ErrReverted, method)
	}
}

func (c *TestChain) callToken(msg ethereum.CallMsg) ([]byte, error) {
	a := contracts.Soulbound
	method, _, err := contracts.DecodeCall(a, msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReverted, err)
	}
	if c.CallErr != nil {
		if err := c.CallErr(method); err != nil {
			return nil, err
		}
	}
	return contracts.PackReturn(a, method, c.HasAnyToken)
}

func (c *TestChain) totalPurchased() *big.Int {
	if c.TotalPurchased == nil {
		c.TotalPurchased = new(big.Int)
	}
	return c.TotalPurchased
}

// checkBid applies the contract's ordering rules: prevTickPrice must be an
// initialized tick below maxPrice whose successor is at or above maxPrice.
func (c *TestChain) checkBid(msg ethereum.CallMsg, sb contracts.SubmitBidArgs) error {
	if msg.Value == nil || msg.Value.Cmp(sb.Amount) != 0 {
		return fmt.Errorf("%w: value %v does not match amount %v", ErrReverted, msg.Value, sb.Amount)
	}
	if sb.MaxPrice.Cmp(c.MaxBidPrice) > 0 {
		return fmt.Errorf("%w: price above max bid price", ErrReverted)
	}
	next, ok := c.next[sb.PrevTickPrice.String()]
	if !ok {
		return fmt.Errorf("%w: prev tick %v not initialized", ErrReverted, sb.PrevTickPrice)
	}
	if sb.PrevTickPrice.Cmp(sb.MaxPrice) >= 0 && sb.PrevTickPrice.Cmp(c.FloorPrice) != 0 {
		return fmt.Errorf("%w: prev tick %v not below price %v", ErrReverted, sb.PrevTickPrice, sb.MaxPrice)
	}
	if next.Cmp(sb.MaxPrice) < 0 {
		return fmt.Errorf("%w: prev tick %v is not the insertion point for %v", ErrReverted, sb.PrevTickPrice, sb.MaxPrice)
	}
	total := new(big.Int).Add(c.totalPurchased(), sb.Amount)
	if c.MaxPurchaseLimit != nil && total.Cmp(c.MaxPurchaseLimit) > 0 {
		return fmt.Errorf("%w: purchase limit exceeded", ErrReverted)
	}
	return nil
}

func (c *TestChain) CreateAccessList(ctx context.Context, msg ethereum.CallMsg) (types.AccessList, error) {
	if _, err := c.Call(ctx, msg); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessLists++

	return types.AccessList{{
		Address:     c.CCA,
		StorageKeys: []common.Hash{crypto.Keccak256Hash(c.FloorPrice.Bytes())},
	}}, nil
}

func (c *TestChain) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setup()

	if msg.To == nil || *msg.To != c.CCA {
		return nil, fmt.Errorf("%w: unexpected recipient %v", ErrReverted, msg.To)
	}

	sb, err := contracts.UnpackSubmitBid(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReverted, err)
	}

	if c.SendErr != nil {
		if err := c.SendErr(sb); err != nil {
			return nil, err
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:    c.ChainID(),
		Nonce:      c.nonce,
		GasTipCap:  orZero(msg.GasTipCap),
		GasFeeCap:  orZero(msg.GasFeeCap),
		Gas:        msg.Gas,
		To:         msg.To,
		Value:      orZero(msg.Value),
		Data:       msg.Data,
		AccessList: msg.AccessList,
	})
	c.nonce++
	c.sentTxs = append(c.sentTxs, tx)

	if c.RevertMined {
		return tx, nil
	}

	if err := c.checkBid(msg, sb); err != nil {
		return nil, err
	}

	c.insertTick(sb.PrevTickPrice, sb.MaxPrice)
	c.TotalPurchased = new(big.Int).Add(c.totalPurchased(), sb.Amount)
	c.sent = append(c.sent, sb)

	return tx, nil
}

func (c *TestChain) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.sentTxs {
		if t.Hash() == tx.Hash() {
			status := types.ReceiptStatusSuccessful
			if c.RevertMined {
				status = types.ReceiptStatusFailed
			}
			return &types.Receipt{
				Type:        types.DynamicFeeTxType,
				Status:      status,
				TxHash:      tx.Hash(),
				BlockNumber: new(big.Int).SetUint64(c.Height),
			}, nil
		}
	}

	return nil, ErrUnknownTransaction
}

func (c *TestChain) Heads(ctx context.Context) (HeadSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	heights := append([]uint64(nil), c.Heights...)
	return &StaticHeads{Heights: heights, Err: c.HeadsErr}, nil
}

//
//
//

// Submitted returns the bids applied so far, in order.
func (c *TestChain) Submitted() []contracts.SubmitBidArgs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]contracts.SubmitBidArgs(nil), c.sent...)
}

// SentTransactions returns every transaction accepted by SendTransaction.
func (c *TestChain) SentTransactions() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sentTxs...)
}

// TickList returns the tick list from the floor up, excluding the sentinel.
func (c *TestChain) TickList() []*big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setup()

	var list []*big.Int
	for p := c.FloorPrice; p.Cmp(TickSentinel) != 0; p = c.next[p.String()] {
		list = append(list, new(big.Int).Set(p))
	}
	return list
}

// Counters reports how many batch reads, tick reads and access list
// generations the chain has served.
func (c *TestChain) Counters() (batches, tickReads, accessLists int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches, c.tickReads, c.accessLists
}

// SetTickNext overwrites the successor of an existing tick. Used to simulate
// a corrupt list.
func (c *TestChain) SetTickNext(price, next *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setup()
	c.next[price.String()] = next
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}
