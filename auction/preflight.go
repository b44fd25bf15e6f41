package auction

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoBids           = errors.New("no bids configured")
	ErrZeroAmount       = errors.New("bid amount must be greater than zero")
	ErrAmountOverflow   = errors.New("bid amount does not fit in uint128")
	ErrAboveMaxBidPrice = errors.New("bid price exceeds auction max bid price")
	ErrNotTickAligned   = errors.New("bid price is not aligned to the tick grid")
	ErrPurchaseLimit    = errors.New("cumulative bid amount exceeds purchase limit")
	ErrIneligible       = errors.New("sender ineligible: missing required soulbound token")
)

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ValidationError attributes a preflight failure to one configured bid.
type ValidationError struct {
	Index int // 1-based
	Owner common.Address
	Err   error

	// Set for ErrPurchaseLimit.
	Total *big.Int
	Cap   *big.Int
}

func (e *ValidationError) Error() string {
	if errors.Is(e.Err, ErrPurchaseLimit) {
		return fmt.Sprintf("bid #%d (owner %s): %v (running total %v, cap %v)", e.Index, e.Owner, e.Err, e.Total, e.Cap)
	}
	return fmt.Sprintf("bid #%d (owner %s): %v", e.Index, e.Owner, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type preflightConfig struct {
	requireEligibility bool
}

// PreflightOption changes which checks Preflight runs.
type PreflightOption func(*preflightConfig)

// RequireEligibility makes Preflight reject a signer without a soulbound
// token. The check is off unless this option is given.
func RequireEligibility() PreflightOption {
	return func(c *preflightConfig) { c.requireEligibility = true }
}

// Preflight validates every bid against the auction parameters before any
// transaction is attempted. It stops at the first failing bid and returns a
// *ValidationError.
func Preflight(params Params, bids []BidParams, opts ...PreflightOption) error {
	var cfg preflightConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := params.Validate(); err != nil {
		return err
	}

	if len(bids) == 0 {
		return ErrNoBids
	}

	total := new(big.Int).Set(params.TotalPurchased)

	for i, b := range bids {
		fail := func(err error) error {
			return &ValidationError{Index: i + 1, Owner: b.Owner, Err: err}
		}

		switch {
		case b.Amount == nil || b.Amount.Sign() <= 0:
			return fail(ErrZeroAmount)
		case b.Amount.Cmp(maxUint128) > 0:
			return fail(ErrAmountOverflow)
		case b.MaxPrice == nil || b.MaxPrice.Cmp(params.MaxBidPrice) > 0:
			return fail(fmt.Errorf("%w (%v > %v)", ErrAboveMaxBidPrice, b.MaxPrice, params.MaxBidPrice))
		case !IsAligned(b.MaxPrice, params.FloorPrice, params.TickSpacing):
			return fail(fmt.Errorf("%w (price %v, floor %v, spacing %v)", ErrNotTickAligned, b.MaxPrice, params.FloorPrice, params.TickSpacing))
		}

		total.Add(total, b.Amount)
		if total.Cmp(params.MaxPurchaseLimit) > 0 {
			return &ValidationError{
				Index: i + 1,
				Owner: b.Owner,
				Err:   ErrPurchaseLimit,
				Total: new(big.Int).Set(total),
				Cap:   new(big.Int).Set(params.MaxPurchaseLimit),
			}
		}

		if cfg.requireEligibility && !params.HasAnyToken {
			return fail(ErrIneligible)
		}
	}

	return nil
}

// SnapToTick returns a copy of bids with every price aligned to the grid.
func SnapToTick(params Params, bids []BidParams) []BidParams {
	out := make([]BidParams, len(bids))
	for i, b := range bids {
		out[i] = b
		if b.MaxPrice != nil {
			out[i].MaxPrice = params.Align(b.MaxPrice)
		}
	}
	return out
}
