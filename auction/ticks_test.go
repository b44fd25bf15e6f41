package auction_test

import (
	"fmt"
	"math/big"
	"testing"

	"ccabid/auction"
)

func bigInt(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad integer %q", s)
	}
	return n
}

func TestAlignPrice(t *testing.T) {
	var (
		floor   = big.NewInt(1000)
		spacing = big.NewInt(100)
		cap     = big.NewInt(10000)
	)

	for _, tc := range []struct {
		price int64
		want  int64
	}{
		{1000, 1000},
		{1050, 1000}, // tie rounds down
		{1051, 1100},
		{1049, 1000},
		{1099, 1100},
		{1100, 1100},
		{9951, 10000},
		{10000, 10000},
		{10500, 10000},
		{500, 1000},
		{0, 1000},
	} {
		t.Run(fmt.Sprint(tc.price), func(t *testing.T) {
			have := auction.AlignPrice(big.NewInt(tc.price), floor, spacing, cap)
			if want := big.NewInt(tc.want); want.Cmp(have) != 0 {
				t.Fatalf("want %v, have %v", want, have)
			}
		})
	}
}

func TestAlignPriceOffsetFloor(t *testing.T) {
	// The grid is anchored at the floor, not at zero.
	var (
		floor   = big.NewInt(1030)
		spacing = big.NewInt(100)
		cap     = big.NewInt(5030)
	)

	for _, tc := range []struct {
		price int64
		want  int64
	}{
		{1070, 1030},
		{1081, 1130},
		{1080, 1030},
		{1100, 1130},
		{2030, 2030},
		{5000, 5030},
	} {
		have := auction.AlignPrice(big.NewInt(tc.price), floor, spacing, cap)
		if want := big.NewInt(tc.want); want.Cmp(have) != 0 {
			t.Errorf("%d: want %v, have %v", tc.price, want, have)
		}
		if !auction.IsAligned(have, floor, spacing) && have.Cmp(cap) != 0 {
			t.Errorf("%d: result %v is off the grid", tc.price, have)
		}
	}
}

func TestAlignPriceLargeValues(t *testing.T) {
	var (
		floor   = bigInt(t, "753956294022871543408300")
		spacing = bigInt(t, "7539562940228715434083")
		cap     = bigInt(t, "217900404829510685459725614601655060836")
	)

	t.Run("keeps aligned prices", func(t *testing.T) {
		for _, s := range []string{
			"19807042548578993971286201723",
			"784114545783786405144632",
			"1839653357415806565916252",
		} {
			price := bigInt(t, s)
			if have := auction.AlignPrice(price, floor, spacing, cap); price.Cmp(have) != 0 {
				t.Errorf("%s: want unchanged, have %v", s, have)
			}
		}
	})

	t.Run("snaps to nearest tick", func(t *testing.T) {
		ten := new(big.Int).Mul(spacing, big.NewInt(10))
		want := new(big.Int).Add(floor, ten)
		price := new(big.Int).Add(want, new(big.Int).Div(spacing, big.NewInt(3)))
		if have := auction.AlignPrice(price, floor, spacing, cap); want.Cmp(have) != 0 {
			t.Fatalf("want %v, have %v", want, have)
		}
	})

	t.Run("clamps above cap", func(t *testing.T) {
		price := new(big.Int).Add(cap, big.NewInt(1))
		if have := auction.AlignPrice(price, floor, spacing, cap); cap.Cmp(have) != 0 {
			t.Fatalf("want %v, have %v", cap, have)
		}
	})
}

func TestAlignPriceIdempotent(t *testing.T) {
	var (
		floor   = big.NewInt(1000)
		spacing = big.NewInt(37)
		cap     = big.NewInt(4000)
	)

	for p := int64(0); p <= 4200; p += 7 {
		price := big.NewInt(p)
		once := auction.AlignPrice(price, floor, spacing, cap)
		twice := auction.AlignPrice(once, floor, spacing, cap)
		if once.Cmp(twice) != 0 {
			t.Fatalf("%d: align(%v) = %v, not idempotent", p, once, twice)
		}
		if once.Cmp(floor) < 0 || once.Cmp(cap) > 0 {
			t.Fatalf("%d: %v outside [%v, %v]", p, once, floor, cap)
		}
		if price.Int64() != p {
			t.Fatalf("input modified: %v", price)
		}
	}
}

func TestAlignPriceReturnsFreshValues(t *testing.T) {
	var (
		floor   = big.NewInt(1000)
		spacing = big.NewInt(100)
		cap     = big.NewInt(2000)
	)

	have := auction.AlignPrice(big.NewInt(1), floor, spacing, cap)
	have.SetInt64(7)
	if want := int64(1000); floor.Int64() != want {
		t.Fatalf("floor mutated through result: %v", floor)
	}
}
