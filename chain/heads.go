package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"ccabid/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Head is the part of a block header the engine cares about.
type Head struct {
	Number uint64
	Hash   common.Hash
}

// HeadSource is a stream of block heads. Next returns io.EOF when the stream
// has ended and no more heads will be produced.
type HeadSource interface {
	Next(ctx context.Context) (Head, error)
	Close()
}

//
//
//

// StaticHeads replays a fixed list of heights, then returns Err, or io.EOF if
// Err is nil.
type StaticHeads struct {
	mu      sync.Mutex
	Heights []uint64
	Err     error
}

var _ HeadSource = (*StaticHeads)(nil)

func (s *StaticHeads) Next(ctx context.Context) (Head, error) {
	if err := ctx.Err(); err != nil {
		return Head{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Heights) == 0 {
		if s.Err != nil {
			return Head{}, s.Err
		}
		return Head{}, io.EOF
	}

	n := s.Heights[0]
	s.Heights = s.Heights[1:]
	return Head{Number: n}, nil
}

func (s *StaticHeads) Close() {}

//
//
//

type headSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// SubscriptionHeads streams heads from an eth_subscribe newHeads
// subscription. It requires a websocket or IPC connection.
type SubscriptionHeads struct {
	sub    ethereum.Subscription
	ch     chan *types.Header
	logger log.Logger
}

var _ HeadSource = (*SubscriptionHeads)(nil)

// NewSubscriptionHeads subscribes to new heads. The initial subscribe is
// retried with exponential backoff; later subscription failures end the
// stream.
func NewSubscriptionHeads(ctx context.Context, s headSubscriber, logger log.Logger) (*SubscriptionHeads, error) {
	ch := make(chan *types.Header, 16)

	var sub ethereum.Subscription
	subscribe := func() error {
		x, err := s.SubscribeNewHead(ctx, ch)
		if err != nil {
			level.Warn(logger).Log("msg", "subscribe to new heads failed", "err", err)
			return err
		}
		sub = x
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(subscribe, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("subscribe to new heads: %w", err)
	}

	return &SubscriptionHeads{sub: sub, ch: ch, logger: logger}, nil
}

func (s *SubscriptionHeads) Next(ctx context.Context) (Head, error) {
	select {
	case h := <-s.ch:
		return headFromHeader(h), nil
	case err, ok := <-s.sub.Err():
		if !ok || err == nil {
			return Head{}, io.EOF
		}
		return Head{}, fmt.Errorf("head subscription: %w", err)
	case <-ctx.Done():
		return Head{}, ctx.Err()
	}
}

func (s *SubscriptionHeads) Close() {
	s.sub.Unsubscribe()
}

//
//
//

type headerReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// PollingOptions tune a PollingHeads. Zero values take defaults.
type PollingOptions struct {
	Interval    time.Duration // default 12s
	AlignPoll   time.Duration // default 250ms
	AlignSettle time.Duration // default 250ms
	MaxRetry    time.Duration // default 10s
}

// PollingHeads produces heads by polling for the latest header over HTTP.
// Before the first head it waits for the chain to produce a new block, so
// that subsequent polls land shortly after block production.
type PollingHeads struct {
	r      headerReader
	opts   PollingOptions
	logger log.Logger

	aligned bool
	last    uint64
	started bool
}

var _ HeadSource = (*PollingHeads)(nil)

func NewPollingHeads(r headerReader, opts PollingOptions, logger log.Logger) *PollingHeads {
	if opts.Interval <= 0 {
		opts.Interval = 12 * time.Second
	}
	if opts.AlignPoll <= 0 {
		opts.AlignPoll = 250 * time.Millisecond
	}
	if opts.AlignSettle <= 0 {
		opts.AlignSettle = 250 * time.Millisecond
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 10 * time.Second
	}
	return &PollingHeads{r: r, opts: opts, logger: logger}
}

func (p *PollingHeads) Next(ctx context.Context) (Head, error) {
	if !p.aligned {
		if err := p.align(ctx); err != nil {
			return Head{}, fmt.Errorf("align polling: %w", err)
		}
		p.aligned = true
	}

	for {
		if p.started {
			if err := sleep(ctx, p.opts.Interval); err != nil {
				return Head{}, err
			}
		}

		h, err := p.latest(ctx)
		if err != nil {
			return Head{}, err
		}

		if !p.started || h.Number > p.last {
			p.started = true
			p.last = h.Number
			return h, nil
		}

		level.Debug(p.logger).Log("msg", "no new block since last poll", "height", h.Number)
	}
}

func (p *PollingHeads) Close() {}

func (p *PollingHeads) align(ctx context.Context) error {
	start, err := p.latest(ctx)
	if err != nil {
		return err
	}

	level.Debug(p.logger).Log("msg", "waiting for a fresh block", "height", start.Number)

	for {
		if err := sleep(ctx, p.opts.AlignPoll); err != nil {
			return err
		}
		cur, err := p.latest(ctx)
		if err != nil {
			return err
		}
		if cur.Number > start.Number {
			break
		}
	}

	return sleep(ctx, p.opts.AlignSettle)
}

func (p *PollingHeads) latest(ctx context.Context) (Head, error) {
	var head Head
	fetch := func() error {
		defer func(begin time.Time) { metrics.OpWait("eth_getBlockByNumber", time.Since(begin)) }(time.Now())

		h, err := p.r.HeaderByNumber(ctx, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			level.Debug(p.logger).Log("msg", "fetch latest header failed", "err", err)
			return err
		}
		head = headFromHeader(h)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = p.opts.MaxRetry

	if err := backoff.Retry(fetch, backoff.WithContext(b, ctx)); err != nil {
		return Head{}, fmt.Errorf("fetch latest header: %w", err)
	}
	return head, nil
}

func headFromHeader(h *types.Header) Head {
	return Head{Number: h.Number.Uint64(), Hash: h.Hash()}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
