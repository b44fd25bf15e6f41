package engine

import (
	"context"
	"errors"
	"io"

	"ccabid/chain"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Run feeds heads from source into c until the run completes, the source
// ends or fails, or ctx is canceled. Every path yields a Completion.
func Run(ctx context.Context, source chain.HeadSource, c *Consumer, logger log.Logger) Completion {
	for {
		head, err := source.Next(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			level.Warn(logger).Log("msg", "interrupted while waiting for next block", "err", ctx.Err())
			return c.Abort(Interrupted, nil)
		case errors.Is(err, io.EOF):
			level.Warn(logger).Log("msg", "block stream ended unexpectedly")
			return c.Abort(BlockStreamEnded, nil)
		default:
			level.Error(logger).Log("msg", "block stream terminated", "err", err)
			return c.Abort(BlockStreamError, err)
		}

		completion, err := c.HandleBlock(ctx, head.Number)
		if err != nil {
			level.Warn(logger).Log("msg", "interrupted while handling block", "block", head.Number, "err", err)
			return c.Abort(Interrupted, nil)
		}
		if completion != nil {
			return *completion
		}
	}
}
