package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"ccabid/auction"
	"ccabid/bid"
	"ccabid/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Submitter submits one bid and returns the hash of the mined transaction.
// submit.Pipeline is the production implementation.
type Submitter interface {
	Submit(ctx context.Context, b auction.BidParams) (common.Hash, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, b auction.BidParams) (common.Hash, error)

func (f SubmitterFunc) Submit(ctx context.Context, b auction.BidParams) (common.Hash, error) {
	return f(ctx, b)
}

// Options tune a Consumer.
type Options struct {
	// StopWhenDone finishes the run as soon as every bid is terminal,
	// instead of waiting for the auction end block.
	StopWhenDone bool

	// Settlement runs the post-auction phases. Default NopSettlement.
	Settlement Settlement
}

// Consumer drives the bid lifecycle one block at a time. HandleBlock must be
// called from a single goroutine; Status may be called from any goroutine.
type Consumer struct {
	registry   *bid.Registry
	tracker    *PhaseTracker
	submitter  Submitter
	settlement Settlement
	opts       Options
	logger     log.Logger

	lastHeight uint64
	completion *Completion

	mu     sync.Mutex
	status Status
}

func NewConsumer(registry *bid.Registry, submitter Submitter, opts Options, logger log.Logger) *Consumer {
	settlement := opts.Settlement
	if settlement == nil {
		settlement = &NopSettlement{Logger: logger}
	}

	c := &Consumer{
		registry:   registry,
		tracker:    NewPhaseTracker(registry.Window()),
		submitter:  submitter,
		settlement: settlement,
		opts:       opts,
		logger:     logger,
	}
	c.publish()
	return c
}

func (c *Consumer) Phase() Phase {
	return c.tracker.Phase()
}

func (c *Consumer) HasPending() bool {
	return c.registry.HasPending()
}

func (c *Consumer) Summary() bid.Summary {
	return c.registry.Summary()
}

// HandleBlock processes one block head. It returns a non-nil Completion once
// the run is finished, and the same Completion for every later call. An
// error is returned only when ctx is done.
func (c *Consumer) HandleBlock(ctx context.Context, height uint64) (*Completion, error) {
	if c.completion != nil {
		return c.completion, nil
	}

	c.lastHeight = height
	defer c.publish()

	metrics.BlocksHandledTotal.WithLabelValues(c.tracker.Phase().String()).Inc()
	metrics.LastBlockHeight.Set(float64(height))

	logger := log.With(c.logger, "block", height)
	window := c.tracker.Window()

	if height < window.ContributorPeriodEndBlock {
		level.Info(logger).Log("msg", "contributor track active", "opens_at", window.ContributorPeriodEndBlock)
		return nil, nil
	}

	for {
		switch phase := c.tracker.Phase(); phase {
		case PhaseSubmit:
			if height >= window.EndBlock {
				level.Warn(logger).Log("msg", "bid window closed", "end_block", window.EndBlock, "pending", c.registry.Summary().Pending)
				c.advance(logger, PhaseExit)
				continue
			}

			if err := c.submitPending(ctx, logger); err != nil {
				return nil, err
			}

			if !c.registry.AllDone() {
				return nil, nil
			}

			level.Info(logger).Log("msg", "all bids processed, awaiting end block", "end_block", window.EndBlock)
			c.advance(logger, PhaseAwaitEnd)

		case PhaseAwaitEnd:
			switch {
			case height >= window.EndBlock:
				level.Info(logger).Log("msg", "end block reached", "end_block", window.EndBlock)
			case c.opts.StopWhenDone:
				level.Info(logger).Log("msg", "not waiting for end block", "end_block", window.EndBlock)
			default:
				level.Debug(logger).Log("msg", "awaiting end block", "end_block", window.EndBlock)
				return nil, nil
			}
			c.advance(logger, PhaseExit)

		case PhaseExit, PhaseAwaitClaim, PhaseClaim:
			if err := c.settle(ctx, phase, height); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				level.Warn(logger).Log("msg", "settlement step failed, will retry", "phase", phase, "err", err)
				return nil, nil
			}
			c.advance(logger, phase+1)

		case PhaseDone:
			summary := c.registry.Summary()
			c.completion = &Completion{
				Reason:  pick(summary.Pending > 0, AllBidsProcessed, AuctionEndedWithPending),
				Summary: summary,
				Height:  height,
			}
			return c.completion, nil
		}
	}
}

func (c *Consumer) settle(ctx context.Context, phase Phase, height uint64) error {
	switch phase {
	case PhaseExit:
		return c.settlement.Exit(ctx, height)
	case PhaseAwaitClaim:
		return c.settlement.AwaitClaim(ctx, height)
	default:
		return c.settlement.Claim(ctx, height)
	}
}

func (c *Consumer) advance(logger log.Logger, next Phase) {
	prev := c.tracker.Phase()
	if c.tracker.Advance(next) {
		level.Info(logger).Log("msg", "phase advanced", "phase", prev, "next", next)
		metrics.CurrentPhase.Set(float64(next))
	}
}

// submitPending attempts every pending bid once, in registry order. A failed
// bid never stops the others.
func (c *Consumer) submitPending(ctx context.Context, logger log.Logger) error {
	for i, b := range c.registry.Bids() {
		if !b.IsPending() {
			continue
		}

		p := b.Params()
		logger := log.With(logger, "bid", i+1, "owner", p.Owner)

		level.Info(logger).Log("msg", "submitting bid", "amount", p.Amount, "max_price", p.MaxPrice, "attempt", b.Attempts()+1, "max_retries", b.MaxRetries())

		hash, err := c.submitter.Submit(ctx, p)
		if err != nil && ctx.Err() != nil {
			level.Warn(logger).Log("msg", "submission interrupted", "err", err)
			return ctx.Err()
		}

		if err == nil {
			b.MarkSubmitted(hash)
			metrics.BidAttemptsTotal.WithLabelValues("success").Inc()
			metrics.BidsTerminalTotal.WithLabelValues(bid.StateSubmitted.String()).Inc()
			level.Info(logger).Log("msg", "bid submitted", "tx", hash)
			continue
		}

		metrics.BidAttemptsTotal.WithLabelValues("error").Inc()

		if errors.Is(err, auction.ErrBelowFloor) {
			level.Error(logger).Log("msg", "bid price below floor after preflight, this is a bug", "err", err)
		}

		switch status := b.RecordFailure(err); {
		case status.Exhausted:
			metrics.BidsTerminalTotal.WithLabelValues(bid.StateFailed.String()).Inc()
			level.Error(logger).Log("msg", "bid failed permanently", "attempts", status.Attempts, "max_retries", b.MaxRetries(), "err", err)
		default:
			level.Warn(logger).Log("msg", "bid retry scheduled", "attempts", status.Attempts, "max_retries", b.MaxRetries(), "err", err)
		}
	}
	return nil
}

// Abort ends the run early because the block source ended, failed, or ctx
// was canceled. It never overrides a Completion the state machine already
// produced.
func (c *Consumer) Abort(cause ShutdownReason, err error) Completion {
	if c.completion != nil {
		return *c.completion
	}

	summary := c.registry.Summary()
	pending := summary.Pending > 0

	var reason ShutdownReason
	switch cause {
	case BlockStreamEnded, BlockStreamEndedWithPending:
		reason = pick(pending, BlockStreamEnded, BlockStreamEndedWithPending)
	case BlockStreamError, BlockStreamErrorWithPending:
		reason = pick(pending, BlockStreamError, BlockStreamErrorWithPending)
	default:
		reason = pick(pending, Interrupted, InterruptedWithPending)
	}

	c.completion = &Completion{
		Reason:  reason,
		Summary: summary,
		Height:  c.lastHeight,
		Err:     err,
	}
	c.publish()
	return *c.completion
}

//
//
//

// Status is a point-in-time view of the engine for observers.
type Status struct {
	Phase      Phase
	Window     auction.Window
	Height     uint64
	Summary    bid.Summary
	Completion *Completion
	UpdatedAt  time.Time
}

// Status returns the state as of the end of the last handled block.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Consumer) publish() {
	summary := c.registry.Summary()

	metrics.BidsByState.WithLabelValues(bid.StatePending.String()).Set(float64(summary.Pending))
	metrics.BidsByState.WithLabelValues(bid.StateSubmitted.String()).Set(float64(summary.Submitted))
	metrics.BidsByState.WithLabelValues(bid.StateFailed.String()).Set(float64(summary.Failed))

	s := Status{
		Phase:      c.tracker.Phase(),
		Window:     c.tracker.Window(),
		Height:     c.lastHeight,
		Summary:    summary,
		Completion: c.completion,
		UpdatedAt:  time.Now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}
