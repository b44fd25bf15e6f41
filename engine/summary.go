package engine

import (
	"math/big"

	"ccabid/bid"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/shopspring/decimal"
)

// LogSummary writes the completion reason and counts, then one line per bid.
func LogSummary(logger log.Logger, c Completion) {
	s := c.Summary

	keyvals := []any{
		"msg", "bid summary",
		"reason", c.Reason,
		"block", c.Height,
		"submitted", s.Submitted,
		"failed", s.Failed,
		"pending", s.Pending,
	}
	if c.Err != nil {
		keyvals = append(keyvals, "err", c.Err)
	}

	if c.Reason.HasPending() {
		level.Warn(logger).Log(keyvals...)
	} else {
		level.Info(logger).Log(keyvals...)
	}

	for _, o := range s.Outcomes {
		logger := log.With(logger, "bid", o.Index, "owner", o.Owner, "amount", o.Amount, "amount_eth", FormatEther(o.Amount))
		switch o.State {
		case bid.StateSubmitted:
			level.Info(logger).Log("msg", "bid submitted", "tx", o.TxHash)
		case bid.StateFailed:
			level.Warn(logger).Log("msg", "bid failed", "attempts", o.Attempts, "err", o.Error)
		default:
			level.Info(logger).Log("msg", "bid pending", "attempts", o.Attempts, "max_retries", o.MaxRetries, "last_err", o.Error)
		}
	}
}

// FormatEther renders a wei amount in ether, without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
