package auction

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidParams     = errors.New("invalid auction parameters")
	ErrBelowFloor        = errors.New("bid price below floor price")
	ErrMalformedTickList = errors.New("malformed tick list")
)

// Addresses of the contracts making up one auction deployment.
type Addresses struct {
	CCA       common.Address
	Hook      common.Address
	Soulbound common.Address
}

// Params is a snapshot of the auction's configuration and the signer's
// standing, read once at start-up. Values are shared, never mutated.
type Params struct {
	ContributorPeriodEndBlock uint64
	EndBlock                  uint64
	FloorPrice                *big.Int
	TickSpacing               *big.Int
	MaxBidPrice               *big.Int
	TotalPurchased            *big.Int
	MaxPurchaseLimit          *big.Int
	HasAnyToken               bool
}

// Validate checks the invariants every other component relies on.
func (p Params) Validate() error {
	switch {
	case p.FloorPrice == nil || p.TickSpacing == nil || p.MaxBidPrice == nil:
		return fmt.Errorf("%w: missing price", ErrInvalidParams)
	case p.TotalPurchased == nil || p.MaxPurchaseLimit == nil:
		return fmt.Errorf("%w: missing purchase limit", ErrInvalidParams)
	case p.TickSpacing.Sign() <= 0:
		return fmt.Errorf("%w: tick spacing %v must be positive", ErrInvalidParams, p.TickSpacing)
	case p.FloorPrice.Cmp(p.MaxBidPrice) > 0:
		return fmt.Errorf("%w: floor price %v above max bid price %v", ErrInvalidParams, p.FloorPrice, p.MaxBidPrice)
	case p.ContributorPeriodEndBlock > p.EndBlock:
		return fmt.Errorf("%w: contributor period ends at %d, after auction end %d", ErrInvalidParams, p.ContributorPeriodEndBlock, p.EndBlock)
	}
	return nil
}

// Window returns the block boundaries that gate the bid phases.
func (p Params) Window() Window {
	return Window{
		ContributorPeriodEndBlock: p.ContributorPeriodEndBlock,
		EndBlock:                  p.EndBlock,
	}
}

// Align snaps price to the auction's tick grid.
func (p Params) Align(price *big.Int) *big.Int {
	return AlignPrice(price, p.FloorPrice, p.TickSpacing, p.MaxBidPrice)
}

// Window is the pair of block numbers that bound bid submission. Bids may be
// submitted in [ContributorPeriodEndBlock, EndBlock).
type Window struct {
	ContributorPeriodEndBlock uint64
	EndBlock                  uint64
}

// BidParams is one configured bid.
type BidParams struct {
	MaxPrice *big.Int
	Amount   *big.Int
	Owner    common.Address
}

// SubmitBidParams are the arguments for one submitBid attempt. The insertion
// point is only valid for the chain state it was read from.
type SubmitBidParams struct {
	MaxPrice      *big.Int
	Amount        *big.Int
	Owner         common.Address
	PrevTickPrice *big.Int
}
