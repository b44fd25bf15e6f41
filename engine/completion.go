package engine

import (
	"fmt"

	"ccabid/bid"
)

// ShutdownReason says why a run ended. The WithPending variants mean bids
// were still pending, i.e. unresolved exposure.
type ShutdownReason int

const (
	AllBidsProcessed ShutdownReason = iota
	AuctionEndedWithPending
	BlockStreamEnded
	BlockStreamEndedWithPending
	BlockStreamError
	BlockStreamErrorWithPending
	Interrupted
	InterruptedWithPending
)

var reasonNames = map[ShutdownReason]string{
	AllBidsProcessed:            "all_bids_processed",
	AuctionEndedWithPending:     "auction_ended_with_pending",
	BlockStreamEnded:            "block_stream_ended",
	BlockStreamEndedWithPending: "block_stream_ended_with_pending",
	BlockStreamError:            "block_stream_error",
	BlockStreamErrorWithPending: "block_stream_error_with_pending",
	Interrupted:                 "interrupted",
	InterruptedWithPending:      "interrupted_with_pending",
}

func (r ShutdownReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("ShutdownReason(%d)", int(r))
}

func (r ShutdownReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseShutdownReason is the inverse of String.
func ParseShutdownReason(s string) (ShutdownReason, error) {
	for r, name := range reasonNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown shutdown reason %q", s)
}

// HasPending reports whether the reason implies bids were left pending.
func (r ShutdownReason) HasPending() bool {
	switch r {
	case AuctionEndedWithPending, BlockStreamEndedWithPending, BlockStreamErrorWithPending, InterruptedWithPending:
		return true
	default:
		return false
	}
}

// Completion is the final result of a run.
type Completion struct {
	Reason  ShutdownReason
	Summary bid.Summary
	Height  uint64 // last block handled, 0 if none
	Err     error  // set for BlockStreamError reasons
}

func pick(pending bool, without, with ShutdownReason) ShutdownReason {
	if pending {
		return with
	}
	return without
}
