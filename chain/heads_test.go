package chain_test

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"ccabid/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-kit/log"
	"github.com/google/go-cmp/cmp"
)

func TestStaticHeads(t *testing.T) {
	ctx := context.Background()

	t.Run("EOF", func(t *testing.T) {
		s := &chain.StaticHeads{Heights: []uint64{1, 2, 3}}

		var have []uint64
		for {
			h, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			have = append(have, h.Number)
		}

		if want := []uint64{1, 2, 3}; !cmp.Equal(want, have) {
			t.Fatal(cmp.Diff(want, have))
		}
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		s := &chain.StaticHeads{Heights: []uint64{1}, Err: boom}

		if _, err := s.Next(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Next(ctx); !errors.Is(err, boom) {
			t.Fatalf("want %v, have %v", boom, err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()

		s := &chain.StaticHeads{Heights: []uint64{1}}
		if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("want %v, have %v", context.Canceled, err)
		}
	})
}

//
//
//

type fakeHeaderReader struct {
	mu      sync.Mutex
	heights []uint64
	errs    []error
	calls   int
}

func (r *fakeHeaderReader) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	n := r.heights[0]
	if len(r.heights) > 1 {
		r.heights = r.heights[1:]
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Difficulty: new(big.Int)}, nil
}

func fastPolling() chain.PollingOptions {
	return chain.PollingOptions{
		Interval:    time.Millisecond,
		AlignPoll:   time.Millisecond,
		AlignSettle: time.Millisecond,
		MaxRetry:    5 * time.Second,
	}
}

func TestPollingHeads(t *testing.T) {
	ctx := context.Background()

	r := &fakeHeaderReader{heights: []uint64{5, 5, 6, 6, 6, 7, 8}}
	p := chain.NewPollingHeads(r, fastPolling(), log.NewNopLogger())

	var have []uint64
	for i := 0; i < 3; i++ {
		h, err := p.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		have = append(have, h.Number)
	}

	if want := []uint64{6, 7, 8}; !cmp.Equal(want, have) {
		t.Fatal(cmp.Diff(want, have))
	}
}

func TestPollingHeadsRetriesFetch(t *testing.T) {
	ctx := context.Background()

	r := &fakeHeaderReader{
		heights: []uint64{10, 11},
		errs:    []error{errors.New("connection reset")},
	}
	p := chain.NewPollingHeads(r, fastPolling(), log.NewNopLogger())

	h, err := p.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := uint64(11), h.Number; want != have {
		t.Fatalf("want %d, have %d", want, have)
	}
}

func TestPollingHeadsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &fakeHeaderReader{heights: []uint64{1}}
	p := chain.NewPollingHeads(r, fastPolling(), log.NewNopLogger())

	if _, err := p.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want %v, have %v", context.Canceled, err)
	}
}

//
//
//

type fakeSubscription struct {
	errc chan error
	once sync.Once
}

func (s *fakeSubscription) Err() <-chan error { return s.errc }
func (s *fakeSubscription) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }

type fakeSubscriber struct {
	mu   sync.Mutex
	fail int
	sub  *fakeSubscription
	ch   chan<- *types.Header
}

func (s *fakeSubscriber) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail > 0 {
		s.fail--
		return nil, errors.New("dial refused")
	}
	s.ch = ch
	s.sub = &fakeSubscription{errc: make(chan error, 1)}
	return s.sub, nil
}

func TestSubscriptionHeads(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers heads", func(t *testing.T) {
		s := &fakeSubscriber{fail: 1}
		heads, err := chain.NewSubscriptionHeads(ctx, s, log.NewNopLogger())
		if err != nil {
			t.Fatal(err)
		}
		defer heads.Close()

		s.ch <- &types.Header{Number: big.NewInt(42), Difficulty: new(big.Int)}

		h, err := heads.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if want, have := uint64(42), h.Number; want != have {
			t.Fatalf("want %d, have %d", want, have)
		}
	})

	t.Run("subscription error", func(t *testing.T) {
		s := &fakeSubscriber{}
		heads, err := chain.NewSubscriptionHeads(ctx, s, log.NewNopLogger())
		if err != nil {
			t.Fatal(err)
		}

		boom := errors.New("boom")
		s.sub.errc <- boom

		if _, err := heads.Next(ctx); !errors.Is(err, boom) {
			t.Fatalf("want %v, have %v", boom, err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		s := &fakeSubscriber{}
		heads, err := chain.NewSubscriptionHeads(ctx, s, log.NewNopLogger())
		if err != nil {
			t.Fatal(err)
		}
		heads.Close()

		if _, err := heads.Next(ctx); !errors.Is(err, io.EOF) {
			t.Fatalf("want %v, have %v", io.EOF, err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()

		s := &fakeSubscriber{fail: 1000}
		if _, err := chain.NewSubscriptionHeads(ctx, s, log.NewNopLogger()); err == nil {
			t.Fatal("want error, have none")
		}
	})
}
