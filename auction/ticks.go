package auction

import (
	"math/big"
)

// AlignPrice rounds price to the nearest tick of the grid anchored at floor
// with the given spacing, breaking ties downward. The result is clamped to
// [floor, cap]. Inputs are not modified.
func AlignPrice(price, floor, spacing, cap *big.Int) *big.Int {
	if price.Cmp(cap) >= 0 {
		return new(big.Int).Set(cap)
	}
	if price.Cmp(floor) <= 0 {
		return new(big.Int).Set(floor)
	}

	rem := new(big.Int).Sub(price, floor)
	rem.Mod(rem, spacing)
	if rem.Sign() == 0 {
		return new(big.Int).Set(price)
	}

	var (
		down   = new(big.Int).Sub(price, rem)
		toUp   = new(big.Int).Sub(spacing, rem)
		result = down
	)
	if rem.Cmp(toUp) > 0 {
		result = new(big.Int).Add(down, spacing)
	}
	if result.Cmp(cap) > 0 {
		return new(big.Int).Set(cap)
	}
	return result
}

// IsAligned reports whether price sits on the floor-anchored tick grid.
func IsAligned(price, floor, spacing *big.Int) bool {
	offset := new(big.Int).Sub(price, floor)
	if offset.Sign() < 0 {
		return false
	}
	return offset.Mod(offset, spacing).Sign() == 0
}
