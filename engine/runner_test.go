package engine_test

import (
	"context"
	"errors"
	"testing"

	"ccabid/auction"
	"ccabid/chain"
	"ccabid/engine"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/log"
)

func heights(from, to uint64) []uint64 {
	var hs []uint64
	for h := from; h <= to; h++ {
		hs = append(hs, h)
	}
	return hs
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()

	c := newTestChain()
	c.Heights = heights(97, 130)

	consumer := newChainConsumer(t, c, testBids(), 3, engine.Options{})
	source, err := c.Heads(ctx)
	if err != nil {
		t.Fatal(err)
	}

	completion := engine.Run(ctx, source, consumer, log.NewNopLogger())

	if want, have := engine.AllBidsProcessed, completion.Reason; want != have {
		t.Fatalf("want %s, have %s", want, have)
	}
	if want, have := uint64(110), completion.Height; want != have {
		t.Fatalf("want completion at %d, have %d", want, have)
	}
	if want, have := [3]int{2, 0, 0}, counts(completion.Summary); want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
	if want, have := completion.Reason, consumer.Status().Completion.Reason; want != have {
		t.Fatalf("status: want %s, have %s", want, have)
	}
}

func TestRunShutdownReasons(t *testing.T) {
	boom := errors.New("websocket: close 1006")

	succeed := func(context.Context, auction.BidParams) (common.Hash, error) {
		return common.HexToHash("0x01"), nil
	}
	fail := func(context.Context, auction.BidParams) (common.Hash, error) {
		return common.Hash{}, errors.New("insufficient funds")
	}

	for _, tc := range []struct {
		name      string
		heights   []uint64
		err       error
		cancel    bool
		submitter engine.SubmitterFunc
		want      engine.ShutdownReason
		wantErr   error
	}{
		{"stream ended", heights(100, 105), nil, false, succeed, engine.BlockStreamEnded, nil},
		{"stream ended with pending", heights(100, 105), nil, false, fail, engine.BlockStreamEndedWithPending, nil},
		{"stream error", heights(100, 101), boom, false, succeed, engine.BlockStreamError, boom},
		{"stream error with pending", heights(100, 101), boom, false, fail, engine.BlockStreamErrorWithPending, boom},
		{"stream error before any block", nil, boom, false, succeed, engine.BlockStreamErrorWithPending, boom},
		{"interrupted", heights(100, 105), nil, true, succeed, engine.Interrupted, nil},
		{"interrupted with pending", heights(100, 105), nil, true, fail, engine.InterruptedWithPending, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			consumer := newFuncConsumer(t, 1, 100, engine.Options{}, tc.submitter)

			var source chain.HeadSource = &chain.StaticHeads{Heights: tc.heights, Err: tc.err}
			if tc.cancel {
				source = &cancelAfter{HeadSource: source, n: 3, cancel: cancel}
			}

			completion := engine.Run(ctx, source, consumer, log.NewNopLogger())

			if want, have := tc.want, completion.Reason; want != have {
				t.Fatalf("want %s, have %s", want, have)
			}
			if want, have := tc.wantErr, completion.Err; !errors.Is(have, want) {
				t.Fatalf("want error %v, have %v", want, have)
			}
			if tc.cancel {
				if want, have := uint64(102), completion.Height; want != have {
					t.Fatalf("want height %d, have %d", want, have)
				}
			}
		})
	}
}

// cancelAfter cancels the run once n heads have been delivered.
type cancelAfter struct {
	chain.HeadSource
	n      int
	cancel context.CancelFunc
}

func (s *cancelAfter) Next(ctx context.Context) (chain.Head, error) {
	if s.n == 0 {
		s.cancel()
	}
	s.n--
	return s.HeadSource.Next(ctx)
}
