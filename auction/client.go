package auction

import (
	"context"
	"fmt"
	"math/big"

	"ccabid/chain"
	"ccabid/contracts"
	"ccabid/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Client reads auction state through a chain.Chain.
type Client struct {
	chain chain.Chain
	addrs Addresses
}

func NewClient(c chain.Chain, addrs Addresses) *Client {
	return &Client{
		chain: c,
		addrs: addrs,
	}
}

func (c *Client) Addresses() Addresses {
	return c.addrs
}

// LoadParams reads the auction configuration and the signer's standing in a
// single batched round trip.
func (c *Client) LoadParams(ctx context.Context, signer common.Address) (Params, error) {
	type read struct {
		abi    abi.ABI
		to     common.Address
		method string
		args   []any
	}

	reads := []read{
		{contracts.ValidationHook, c.addrs.Hook, "CONTRIBUTOR_PERIOD_END_BLOCK", nil},
		{contracts.ValidationHook, c.addrs.Hook, "MAX_PURCHASE_LIMIT", nil},
		{contracts.CCA, c.addrs.CCA, "floorPrice", nil},
		{contracts.CCA, c.addrs.CCA, "tickSpacing", nil},
		{contracts.CCA, c.addrs.CCA, "MAX_BID_PRICE", nil},
		{contracts.CCA, c.addrs.CCA, "endBlock", nil},
		{contracts.ValidationHook, c.addrs.Hook, "totalPurchased", []any{signer}},
		{contracts.Soulbound, c.addrs.Soulbound, "hasAnyToken", []any{signer}},
	}

	msgs := make([]ethereum.CallMsg, len(reads))
	for i, r := range reads {
		data, err := r.abi.Pack(r.method, r.args...)
		if err != nil {
			return Params{}, fmt.Errorf("pack %s: %w", r.method, err)
		}
		to := r.to
		msgs[i] = ethereum.CallMsg{From: signer, To: &to, Data: data}
	}

	results, err := c.chain.BatchCall(ctx, msgs)
	if err != nil {
		return Params{}, fmt.Errorf("load auction params: %w", err)
	}
	if len(results) != len(reads) {
		return Params{}, fmt.Errorf("load auction params: want %d results, have %d", len(reads), len(results))
	}

	var p Params
	{
		contributorEnd, err := contracts.UnpackUint256(contracts.ValidationHook, "CONTRIBUTOR_PERIOD_END_BLOCK", results[0])
		if err != nil {
			return Params{}, err
		}
		if !contributorEnd.IsUint64() {
			return Params{}, fmt.Errorf("%w: contributor period end block %v overflows uint64", ErrInvalidParams, contributorEnd)
		}
		p.ContributorPeriodEndBlock = contributorEnd.Uint64()
	}
	if p.MaxPurchaseLimit, err = contracts.UnpackUint256(contracts.ValidationHook, "MAX_PURCHASE_LIMIT", results[1]); err != nil {
		return Params{}, err
	}
	if p.FloorPrice, err = contracts.UnpackUint256(contracts.CCA, "floorPrice", results[2]); err != nil {
		return Params{}, err
	}
	if p.TickSpacing, err = contracts.UnpackUint256(contracts.CCA, "tickSpacing", results[3]); err != nil {
		return Params{}, err
	}
	if p.MaxBidPrice, err = contracts.UnpackUint256(contracts.CCA, "MAX_BID_PRICE", results[4]); err != nil {
		return Params{}, err
	}
	if p.EndBlock, err = contracts.UnpackUint64(contracts.CCA, "endBlock", results[5]); err != nil {
		return Params{}, err
	}
	if p.TotalPurchased, err = contracts.UnpackUint256(contracts.ValidationHook, "totalPurchased", results[6]); err != nil {
		return Params{}, err
	}
	if p.HasAnyToken, err = contracts.UnpackBool(contracts.Soulbound, "hasAnyToken", results[7]); err != nil {
		return Params{}, err
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}

	return p, nil
}

// ResolveInsertionPoint walks the on-chain tick list from the floor and
// returns the highest tick strictly below price, or the floor itself. Every
// hop is a separate call; results are never cached because other bidders
// change the list between blocks.
func (c *Client) ResolveInsertionPoint(ctx context.Context, params Params, price *big.Int) (_ *big.Int, err error) {
	if price.Cmp(params.FloorPrice) < 0 {
		return nil, fmt.Errorf("%w: price %v, floor %v", ErrBelowFloor, price, params.FloorPrice)
	}

	var hops int
	defer func() {
		if err == nil {
			metrics.TicksTraversed.Observe(float64(hops))
		}
	}()

	prev := new(big.Int).Set(params.FloorPrice)
	for {
		next, err := c.tickNext(ctx, prev)
		if err != nil {
			return nil, fmt.Errorf("read tick %v: %w", prev, err)
		}
		hops++

		if next.Cmp(price) >= 0 {
			return prev, nil
		}
		if next.Cmp(prev) <= 0 {
			return nil, fmt.Errorf("%w: tick %v points back to %v", ErrMalformedTickList, prev, next)
		}
		prev = next
	}
}

func (c *Client) tickNext(ctx context.Context, price *big.Int) (*big.Int, error) {
	data, err := contracts.PackTicks(price)
	if err != nil {
		return nil, err
	}
	to := c.addrs.CCA
	res, err := c.chain.Call(ctx, ethereum.CallMsg{From: c.chain.Sender(), To: &to, Data: data})
	if err != nil {
		return nil, err
	}
	tick, err := contracts.UnpackTicks(res)
	if err != nil {
		return nil, err
	}
	return tick.Next, nil
}

// PrepareSubmitBid resolves the current insertion point for b.
func (c *Client) PrepareSubmitBid(ctx context.Context, params Params, b BidParams) (SubmitBidParams, error) {
	prev, err := c.ResolveInsertionPoint(ctx, params, b.MaxPrice)
	if err != nil {
		return SubmitBidParams{}, err
	}
	return SubmitBidParams{
		MaxPrice:      b.MaxPrice,
		Amount:        b.Amount,
		Owner:         b.Owner,
		PrevTickPrice: prev,
	}, nil
}
