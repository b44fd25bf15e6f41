package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ccabid/api"
	"ccabid/auction"
	"ccabid/bid"
	"ccabid/engine"
	"ccabid/store"
	"ccabid/store/memstore"
	"ccabid/store/storetest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/log"
	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
)

type statusFunc func() engine.Status

func (f statusFunc) Status() engine.Status { return f() }

var auctionAddr = common.HexToAddress(storetest.AuctionAddress)

func TestGetStatus(t *testing.T) {
	var (
		hash   = common.HexToHash("0xabc")
		amount = new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17)) // 1.5 ETH
		status = engine.Status{
			Phase:  engine.PhaseAwaitEnd,
			Window: auction.Window{ContributorPeriodEndBlock: 100, EndBlock: 110},
			Height: 103,
			Summary: bid.Summary{
				Submitted: 1,
				Outcomes: []bid.Outcome{
					{Index: 1, Amount: amount, MaxPrice: big.NewInt(1100), State: bid.StateSubmitted, TxHash: &hash, Attempts: 1, MaxRetries: 3},
				},
			},
			UpdatedAt: time.Now().UTC(),
		}
		h   = api.NewHandler(statusFunc(func() engine.Status { return status }), auctionAddr, nil, log.NewNopLogger())
		rec = httptest.NewRecorder()
	)

	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v0/status", nil))

	if want, have := http.StatusOK, rec.Code; want != have {
		t.Fatalf("code: want %d, have %d (%s)", want, have, rec.Body.String())
	}

	var resp struct {
		Phase  string `json:"phase"`
		Height uint64 `json:"height"`
		Window struct {
			EndBlock uint64 `json:"end_block"`
		} `json:"window"`
		Submitted int `json:"submitted"`
		Bids      []struct {
			Index       int    `json:"index"`
			State       string `json:"state"`
			AmountEther string `json:"amount_eth"`
			TxHash      string `json:"tx_hash"`
		} `json:"bids"`
		Completion *struct{} `json:"completion"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}

	if want, have := "AwaitEnd", resp.Phase; want != have {
		t.Errorf("phase: want %q, have %q", want, have)
	}
	if want, have := uint64(103), resp.Height; want != have {
		t.Errorf("height: want %d, have %d", want, have)
	}
	if want, have := uint64(110), resp.Window.EndBlock; want != have {
		t.Errorf("end block: want %d, have %d", want, have)
	}
	if want, have := 1, len(resp.Bids); want != have {
		t.Fatalf("bids: want %d, have %d", want, have)
	}
	if want, have := "1.5", resp.Bids[0].AmountEther; want != have {
		t.Errorf("amount: want %q, have %q", want, have)
	}
	if want, have := hash.Hex(), resp.Bids[0].TxHash; want != have {
		t.Errorf("tx hash: want %q, have %q", want, have)
	}
	if resp.Completion != nil {
		t.Errorf("completion: want none, have one")
	}
}

func TestGetStatusWithCompletion(t *testing.T) {
	var (
		hash   = common.HexToHash("0xbeef")
		status = engine.Status{
			Phase:  engine.PhaseSubmit,
			Window: auction.Window{ContributorPeriodEndBlock: 100, EndBlock: 110},
			Height: 104,
			Summary: bid.Summary{
				Submitted: 1,
				Failed:    1,
				Pending:   1,
				Outcomes: []bid.Outcome{
					{Index: 1, Owner: common.HexToAddress("0x1111111111111111111111111111111111111111"), Amount: big.NewInt(1_500_000_000_000_000_000), MaxPrice: big.NewInt(1100), State: bid.StateSubmitted, TxHash: &hash, MaxRetries: 3},
					{Index: 2, Owner: common.HexToAddress("0x2222222222222222222222222222222222222222"), Amount: big.NewInt(250_000_000_000_000_000), MaxPrice: big.NewInt(1200), State: bid.StateFailed, Attempts: 3, MaxRetries: 3, Error: "execution reverted"},
					{Index: 3, Owner: common.HexToAddress("0x3333333333333333333333333333333333333333"), Amount: big.NewInt(1_000_000_000_000_000_000), MaxPrice: big.NewInt(1300), State: bid.StatePending, Attempts: 1, MaxRetries: 3, Error: "nonce too low"},
				},
			},
			Completion: &engine.Completion{
				Reason: engine.BlockStreamErrorWithPending,
				Height: 104,
				Err:    errors.New("subscription dropped"),
			},
			UpdatedAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		}
		h   = api.NewHandler(statusFunc(func() engine.Status { return status }), auctionAddr, nil, log.NewNopLogger())
		rec = httptest.NewRecorder()
	)

	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v0/status", nil))

	if want, have := http.StatusOK, rec.Code; want != have {
		t.Fatalf("code: want %d, have %d (%s)", want, have, rec.Body.String())
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, rec.Body.Bytes(), "", "  "); err != nil {
		t.Fatal(err)
	}

	goldie.New(t, goldie.WithFixtureDir("testdata")).Assert(t, t.Name(), indented.Bytes())
}

func TestRuns(t *testing.T) {
	var (
		ctx = context.Background()
		s   = memstore.NewStore()
		r1  = storetest.NewRun(t, s, storetest.AuctionAddress)
		r2  = &store.Run{ChainID: storetest.ChainID, AuctionAddress: storetest.AuctionAddress, Reason: "interrupted", CreatedAt: r1.CreatedAt.Add(time.Minute)}
		nop = statusFunc(func() engine.Status { return engine.Status{} })
		h   = api.NewHandler(nop, auctionAddr, []store.Store{s}, log.NewNopLogger())
	)

	if err := s.InsertRun(ctx, r2); err != nil {
		t.Fatal(err)
	}

	get := func(t *testing.T, path string, wantCode int, dst any) {
		t.Helper()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if want, have := wantCode, rec.Code; want != have {
			t.Fatalf("GET %s: want %d, have %d (%s)", path, want, have, rec.Body.String())
		}
		if dst != nil {
			if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
				t.Fatal(err)
			}
		}
	}

	t.Run("list default auction", func(t *testing.T) {
		var runs []*store.Run
		get(t, "/v0/runs", http.StatusOK, &runs)

		var ids []string
		for _, r := range runs {
			ids = append(ids, r.ID.String())
		}
		if diff := cmp.Diff([]string{r1.ID.String(), r2.ID.String()}, ids); diff != "" {
			t.Fatalf("ids (-want +have):\n%s", diff)
		}
	})

	t.Run("list with limit", func(t *testing.T) {
		var runs []*store.Run
		get(t, "/v0/runs?limit=1", http.StatusOK, &runs)
		if want, have := 1, len(runs); want != have {
			t.Fatalf("want %d, have %d", want, have)
		}
		if want, have := r2.ID, runs[0].ID; want != have {
			t.Fatalf("want %s, have %s", want, have)
		}
	})

	t.Run("list other auction", func(t *testing.T) {
		var runs []*store.Run
		get(t, "/v0/runs?auction="+storetest.GenAddress(t), http.StatusOK, &runs)
		if want, have := 0, len(runs); want != have {
			t.Fatalf("want %d, have %d", want, have)
		}
	})

	t.Run("list bad request", func(t *testing.T) {
		get(t, "/v0/runs?auction=nope&limit=-1", http.StatusBadRequest, nil)
	})

	t.Run("select", func(t *testing.T) {
		var run store.Run
		get(t, "/v0/runs/"+r1.ID.String(), http.StatusOK, &run)
		if want, have := r1.Outcomes, run.Outcomes; !cmp.Equal(want, have) {
			t.Fatalf("outcomes: %s", cmp.Diff(want, have))
		}
	})

	t.Run("select not found", func(t *testing.T) {
		get(t, "/v0/runs/6ba7b810-9dad-11d1-80b4-00c04fd430c8", http.StatusNotFound, nil)
	})

	t.Run("select bad ID", func(t *testing.T) {
		get(t, "/v0/runs/123", http.StatusBadRequest, nil)
	})

	t.Run("ping", func(t *testing.T) {
		get(t, "/-/ping", http.StatusOK, nil)
	})

	t.Run("panic", func(t *testing.T) {
		get(t, "/-/panic", 599, nil)
	})
}
