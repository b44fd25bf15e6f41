package bid_test

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"ccabid/auction"
	"ccabid/bid"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
)

var window = auction.Window{ContributorPeriodEndBlock: 100, EndBlock: 110}

func testBids(n int) []auction.BidParams {
	bids := make([]auction.BidParams, n)
	for i := range bids {
		bids[i] = auction.BidParams{
			MaxPrice: big.NewInt(int64(1000 + 100*i)),
			Amount:   big.NewInt(int64(i + 1)),
			Owner:    common.BigToAddress(big.NewInt(int64(i + 1))),
		}
	}
	return bids
}

func TestNewRegistry(t *testing.T) {
	if _, err := bid.NewRegistry(window, testBids(1), 0); !errors.Is(err, bid.ErrInvalidMaxRetries) {
		t.Fatalf("want %v, have %v", bid.ErrInvalidMaxRetries, err)
	}
	if _, err := bid.NewRegistry(window, nil, 3); !errors.Is(err, bid.ErrEmptyRegistry) {
		t.Fatalf("want %v, have %v", bid.ErrEmptyRegistry, err)
	}

	r, err := bid.NewRegistry(window, testBids(3), 3)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 3, r.Len(); want != have {
		t.Fatalf("want %d bids, have %d", want, have)
	}
	if want, have := window, r.Window(); want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
	if !r.HasPending() || r.AllDone() {
		t.Fatal("new registry should have only pending bids")
	}
	for i, b := range r.Bids() {
		if want, have := bid.StatePending, b.State(); want != have {
			t.Errorf("bid %d: want %s, have %s", i+1, want, have)
		}
		if want, have := 0, b.Attempts(); want != have {
			t.Errorf("bid %d: want %d attempts, have %d", i+1, want, have)
		}
	}
}

func TestRegistryKeepsDuplicates(t *testing.T) {
	bids := testBids(1)
	bids = append(bids, bids[0])

	r, err := bid.NewRegistry(window, bids, 1)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 2, r.Len(); want != have {
		t.Fatalf("want %d bids, have %d", want, have)
	}
}

func TestTrackedBidRetries(t *testing.T) {
	r, err := bid.NewRegistry(window, testBids(1), 3)
	if err != nil {
		t.Fatal(err)
	}
	b := r.Bids()[0]

	errs := []error{errors.New("one"), errors.New("two"), errors.New("three")}
	for i, err := range errs {
		status := b.RecordFailure(err)
		if want, have := i+1, status.Attempts; want != have {
			t.Fatalf("attempt %d: want %d attempts, have %d", i+1, want, have)
		}
		if want, have := i == len(errs)-1, status.Exhausted; want != have {
			t.Fatalf("attempt %d: want exhausted %v, have %v", i+1, want, have)
		}
	}

	if want, have := bid.StateFailed, b.State(); want != have {
		t.Fatalf("want %s, have %s", want, have)
	}
	if want, have := errs[2], b.LastError(); want != have {
		t.Fatalf("want %v, have %v", want, have)
	}

	// Terminal bids do not change.
	if status := b.RecordFailure(errors.New("four")); !status.Exhausted || status.Attempts != 3 {
		t.Fatalf("want 3 exhausted attempts, have %+v", status)
	}
	b.MarkSubmitted(common.HexToHash("0x01"))
	if want, have := bid.StateFailed, b.State(); want != have {
		t.Fatalf("want %s, have %s", want, have)
	}
}

func TestTrackedBidSubmitted(t *testing.T) {
	r, err := bid.NewRegistry(window, testBids(1), 3)
	if err != nil {
		t.Fatal(err)
	}
	b := r.Bids()[0]

	b.RecordFailure(errors.New("nonce too low"))
	hash := common.HexToHash("0xabcdef")
	b.MarkSubmitted(hash)

	if want, have := bid.StateSubmitted, b.State(); want != have {
		t.Fatalf("want %s, have %s", want, have)
	}
	if want, have := hash, b.TxHash(); want != have {
		t.Fatalf("want %s, have %s", want, have)
	}
	if b.LastError() != nil {
		t.Fatalf("want no error, have %v", b.LastError())
	}

	b.RecordFailure(errors.New("late"))
	if want, have := bid.StateSubmitted, b.State(); want != have {
		t.Fatalf("want %s, have %s", want, have)
	}
	b.MarkSubmitted(common.HexToHash("0x02"))
	if want, have := hash, b.TxHash(); want != have {
		t.Fatalf("want %s, have %s", want, have)
	}
}

func TestSummary(t *testing.T) {
	r, err := bid.NewRegistry(window, testBids(3), 1)
	if err != nil {
		t.Fatal(err)
	}

	hash := common.HexToHash("0x1234")
	bids := r.Bids()
	bids[0].MarkSubmitted(hash)
	bids[1].RecordFailure(errors.New("execution reverted"))

	s := r.Summary()
	if want, have := [3]int{1, 1, 1}, [3]int{s.Submitted, s.Failed, s.Pending}; want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
	if want, have := 3, s.Total(); want != have {
		t.Fatalf("want total %d, have %d", want, have)
	}

	want := []bid.Outcome{
		{Index: 1, Owner: bids[0].Params().Owner, Amount: big.NewInt(1), MaxPrice: big.NewInt(1000), State: bid.StateSubmitted, TxHash: &hash, MaxRetries: 1},
		{Index: 2, Owner: bids[1].Params().Owner, Amount: big.NewInt(2), MaxPrice: big.NewInt(1100), State: bid.StateFailed, Attempts: 1, MaxRetries: 1, Error: "execution reverted"},
		{Index: 3, Owner: bids[2].Params().Owner, Amount: big.NewInt(3), MaxPrice: big.NewInt(1200), State: bid.StatePending, MaxRetries: 1},
	}
	bigComparer := cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 })
	if diff := cmp.Diff(want, s.Outcomes, bigComparer); diff != "" {
		t.Fatal(diff)
	}

	// Outcomes are copies.
	s.Outcomes[0].Amount.SetInt64(99)
	if want, have := big.NewInt(1), bids[0].Params().Amount; want.Cmp(have) != 0 {
		t.Fatalf("want %v, have %v", want, have)
	}

	if r.AllDone() {
		t.Fatal("want pending bids")
	}
	bids[2].RecordFailure(errors.New("boom"))
	if !r.AllDone() {
		t.Fatal("want all done")
	}
}

func TestStateJSON(t *testing.T) {
	buf, err := json.Marshal(map[string]bid.State{"a": bid.StateSubmitted})
	if err != nil {
		t.Fatal(err)
	}
	if want, have := `{"a":"submitted"}`, string(buf); want != have {
		t.Fatalf("want %s, have %s", want, have)
	}

	var s bid.State
	if err := json.Unmarshal([]byte(`"FAILED"`), &s); err != nil {
		t.Fatal(err)
	}
	if want, have := bid.StateFailed, s; want != have {
		t.Fatalf("want %s, have %s", want, have)
	}
	if err := json.Unmarshal([]byte(`"lost"`), &s); err == nil {
		t.Fatal("want error, have none")
	}
}
