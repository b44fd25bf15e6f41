package engine

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Settlement is the post-auction work run once the bid window has closed:
// exiting bids, waiting until tokens are claimable, and claiming them. A
// returned error keeps the engine in the same phase; the step is retried on
// the next block.
type Settlement interface {
	Exit(ctx context.Context, height uint64) error
	AwaitClaim(ctx context.Context, height uint64) error
	Claim(ctx context.Context, height uint64) error
}

// NopSettlement performs no on-chain settlement.
type NopSettlement struct {
	Logger log.Logger
}

var _ Settlement = (*NopSettlement)(nil)

func (s *NopSettlement) Exit(ctx context.Context, height uint64) error {
	s.notImplemented("exit", height)
	return nil
}

func (s *NopSettlement) AwaitClaim(ctx context.Context, height uint64) error {
	s.notImplemented("await claim", height)
	return nil
}

func (s *NopSettlement) Claim(ctx context.Context, height uint64) error {
	s.notImplemented("claim", height)
	return nil
}

func (s *NopSettlement) notImplemented(step string, height uint64) {
	if s.Logger == nil {
		return
	}
	level.Info(s.Logger).Log("msg", step+" phase not implemented yet", "block", height)
}

//
//
//

// MockSettlement calls the given functions; nil functions succeed.
type MockSettlement struct {
	ExitFunc       func(ctx context.Context, height uint64) error
	AwaitClaimFunc func(ctx context.Context, height uint64) error
	ClaimFunc      func(ctx context.Context, height uint64) error
}

var _ Settlement = (*MockSettlement)(nil)

func (m *MockSettlement) Exit(ctx context.Context, height uint64) error {
	if m.ExitFunc == nil {
		return nil
	}
	return m.ExitFunc(ctx, height)
}

func (m *MockSettlement) AwaitClaim(ctx context.Context, height uint64) error {
	if m.AwaitClaimFunc == nil {
		return nil
	}
	return m.AwaitClaimFunc(ctx, height)
}

func (m *MockSettlement) Claim(ctx context.Context, height uint64) error {
	if m.ClaimFunc == nil {
		return nil
	}
	return m.ClaimFunc(ctx, height)
}
