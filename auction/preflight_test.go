package auction_test

import (
	"errors"
	"math/big"
	"testing"

	"ccabid/auction"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	bob   = common.HexToAddress("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
)

func testParams() auction.Params {
	return auction.Params{
		ContributorPeriodEndBlock: 100,
		EndBlock:                  110,
		FloorPrice:                big.NewInt(1000),
		TickSpacing:               big.NewInt(100),
		MaxBidPrice:               big.NewInt(10000),
		TotalPurchased:            big.NewInt(0),
		MaxPurchaseLimit:          big.NewInt(1000),
		HasAnyToken:               false,
	}
}

func TestPreflight(t *testing.T) {
	uint128Max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	for _, tc := range []struct {
		name      string
		modify    func(*auction.Params)
		bids      []auction.BidParams
		opts      []auction.PreflightOption
		wantErr   error
		wantIndex int
	}{
		{
			name: "ok",
			bids: []auction.BidParams{
				{MaxPrice: big.NewInt(1000), Amount: big.NewInt(500), Owner: alice},
				{MaxPrice: big.NewInt(10000), Amount: big.NewInt(500), Owner: bob},
			},
		},
		{
			name:    "no bids",
			wantErr: auction.ErrNoBids,
		},
		{
			name:      "zero amount",
			bids:      []auction.BidParams{{MaxPrice: big.NewInt(1000), Amount: big.NewInt(0), Owner: alice}},
			wantErr:   auction.ErrZeroAmount,
			wantIndex: 1,
		},
		{
			name:   "amount overflow",
			modify: func(p *auction.Params) { p.MaxPurchaseLimit = new(big.Int).Lsh(uint128Max, 2) },
			bids: []auction.BidParams{
				{MaxPrice: big.NewInt(1000), Amount: big.NewInt(1), Owner: alice},
				{MaxPrice: big.NewInt(1000), Amount: new(big.Int).Add(uint128Max, big.NewInt(1)), Owner: alice},
			},
			wantErr:   auction.ErrAmountOverflow,
			wantIndex: 2,
		},
		{
			name:      "above max price",
			bids:      []auction.BidParams{{MaxPrice: big.NewInt(10100), Amount: big.NewInt(1), Owner: alice}},
			wantErr:   auction.ErrAboveMaxBidPrice,
			wantIndex: 1,
		},
		{
			name:      "not aligned",
			bids:      []auction.BidParams{{MaxPrice: big.NewInt(1050), Amount: big.NewInt(1), Owner: alice}},
			wantErr:   auction.ErrNotTickAligned,
			wantIndex: 1,
		},
		{
			name:      "below floor is off grid",
			bids:      []auction.BidParams{{MaxPrice: big.NewInt(900), Amount: big.NewInt(1), Owner: alice}},
			wantErr:   auction.ErrNotTickAligned,
			wantIndex: 1,
		},
		{
			name:   "limit includes prior purchases",
			modify: func(p *auction.Params) { p.TotalPurchased = big.NewInt(990) },
			bids: []auction.BidParams{
				{MaxPrice: big.NewInt(1000), Amount: big.NewInt(10), Owner: alice},
				{MaxPrice: big.NewInt(1000), Amount: big.NewInt(1), Owner: bob},
			},
			wantErr:   auction.ErrPurchaseLimit,
			wantIndex: 2,
		},
		{
			name:      "ineligible",
			bids:      []auction.BidParams{{MaxPrice: big.NewInt(1000), Amount: big.NewInt(1), Owner: alice}},
			opts:      []auction.PreflightOption{auction.RequireEligibility()},
			wantErr:   auction.ErrIneligible,
			wantIndex: 1,
		},
		{
			name:    "invalid params",
			modify:  func(p *auction.Params) { p.TickSpacing = big.NewInt(0) },
			bids:    []auction.BidParams{{MaxPrice: big.NewInt(1000), Amount: big.NewInt(1), Owner: alice}},
			wantErr: auction.ErrInvalidParams,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			params := testParams()
			if tc.modify != nil {
				tc.modify(&params)
			}

			err := auction.Preflight(params, tc.bids, tc.opts...)

			if want, have := tc.wantErr, err; !errors.Is(have, want) {
				t.Fatalf("want %v, have %v", want, have)
			}

			if tc.wantIndex == 0 {
				return
			}

			var verr *auction.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("want *ValidationError, have %T", err)
			}
			if want, have := tc.wantIndex, verr.Index; want != have {
				t.Fatalf("index: want %d, have %d", want, have)
			}
			if want, have := tc.bids[tc.wantIndex-1].Owner, verr.Owner; want != have {
				t.Fatalf("owner: want %s, have %s", want, have)
			}
		})
	}
}

func TestPreflightPurchaseLimitReportsTotal(t *testing.T) {
	params := testParams()
	params.TotalPurchased = big.NewInt(100)

	err := auction.Preflight(params, []auction.BidParams{
		{MaxPrice: big.NewInt(1000), Amount: big.NewInt(900), Owner: alice},
		{MaxPrice: big.NewInt(1100), Amount: big.NewInt(10), Owner: bob},
	})

	var verr *auction.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want *ValidationError, have %v", err)
	}
	if want, have := 2, verr.Index; want != have {
		t.Errorf("index: want %d, have %d", want, have)
	}
	if want, have := big.NewInt(1010), verr.Total; want.Cmp(have) != 0 {
		t.Errorf("total: want %v, have %v", want, have)
	}
	if want, have := big.NewInt(1000), verr.Cap; want.Cmp(have) != 0 {
		t.Errorf("cap: want %v, have %v", want, have)
	}
	if want, have := "bid #2", err.Error(); len(have) < len(want) || have[:len(want)] != want {
		t.Errorf("message: want prefix %q, have %q", want, have)
	}
}

func TestPreflightEligible(t *testing.T) {
	params := testParams()
	params.HasAnyToken = true

	bids := []auction.BidParams{{MaxPrice: big.NewInt(1000), Amount: big.NewInt(1), Owner: alice}}
	if err := auction.Preflight(params, bids, auction.RequireEligibility()); err != nil {
		t.Fatal(err)
	}
}

func TestSnapToTick(t *testing.T) {
	params := testParams()

	bids := []auction.BidParams{
		{MaxPrice: big.NewInt(1051), Amount: big.NewInt(1), Owner: alice},
		{MaxPrice: big.NewInt(20000), Amount: big.NewInt(1), Owner: bob},
	}

	snapped := auction.SnapToTick(params, bids)

	if want, have := big.NewInt(1100), snapped[0].MaxPrice; want.Cmp(have) != 0 {
		t.Errorf("bid 1: want %v, have %v", want, have)
	}
	if want, have := big.NewInt(10000), snapped[1].MaxPrice; want.Cmp(have) != 0 {
		t.Errorf("bid 2: want %v, have %v", want, have)
	}
	if want, have := big.NewInt(1051), bids[0].MaxPrice; want.Cmp(have) != 0 {
		t.Errorf("input modified: want %v, have %v", want, have)
	}
	if err := auction.Preflight(params, snapped); err != nil {
		t.Fatalf("snapped bids fail preflight: %v", err)
	}
}
