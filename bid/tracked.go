package bid

import (
	"fmt"
	"strings"

	"ccabid/auction"

	"github.com/ethereum/go-ethereum/common"
)

// State is the lifecycle state of a tracked bid. Submitted and Failed are
// terminal.
type State int

const (
	StatePending State = iota
	StateSubmitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSubmitted:
		return "submitted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "pending":
		*s = StatePending
	case "submitted":
		*s = StateSubmitted
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown bid state %q", b)
	}
	return nil
}

// RetryStatus is the result of recording a failed attempt.
type RetryStatus struct {
	Attempts  int
	Exhausted bool // no further attempts will be made
}

// TrackedBid is one configured bid and its submission history. It is owned
// by a single goroutine and is not safe for concurrent use.
type TrackedBid struct {
	params     auction.BidParams
	state      State
	txHash     common.Hash
	attempts   int
	maxRetries int
	lastErr    error
}

func newTrackedBid(p auction.BidParams, maxRetries int) *TrackedBid {
	return &TrackedBid{
		params:     p,
		state:      StatePending,
		maxRetries: maxRetries,
	}
}

func (b *TrackedBid) Params() auction.BidParams { return b.params }
func (b *TrackedBid) State() State              { return b.state }
func (b *TrackedBid) TxHash() common.Hash       { return b.txHash }
func (b *TrackedBid) Attempts() int             { return b.attempts }
func (b *TrackedBid) MaxRetries() int           { return b.maxRetries }
func (b *TrackedBid) LastError() error          { return b.lastErr }
func (b *TrackedBid) IsPending() bool           { return b.state == StatePending }
func (b *TrackedBid) IsTerminal() bool          { return b.state != StatePending }

// RecordFailure counts a failed attempt. Once attempts reach the retry bound
// the bid becomes Failed with err. Terminal bids are left untouched.
func (b *TrackedBid) RecordFailure(err error) RetryStatus {
	if b.IsTerminal() {
		return RetryStatus{Attempts: b.attempts, Exhausted: true}
	}

	b.attempts++
	b.lastErr = err

	if b.attempts >= b.maxRetries {
		b.state = StateFailed
		return RetryStatus{Attempts: b.attempts, Exhausted: true}
	}

	return RetryStatus{Attempts: b.attempts}
}

// MarkSubmitted records the confirmed transaction. Terminal bids are left
// untouched.
func (b *TrackedBid) MarkSubmitted(hash common.Hash) {
	if b.IsTerminal() {
		return
	}
	b.state = StateSubmitted
	b.txHash = hash
	b.lastErr = nil
}
