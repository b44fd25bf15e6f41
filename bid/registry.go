package bid

import (
	"errors"
	"fmt"
	"math/big"

	"ccabid/auction"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidMaxRetries = errors.New("max retries must be at least 1")
	ErrEmptyRegistry     = errors.New("registry needs at least one bid")
)

// Registry is the fixed, ordered set of bids for one run.
type Registry struct {
	bids   []*TrackedBid
	window auction.Window
}

func NewRegistry(window auction.Window, bids []auction.BidParams, maxRetries int) (*Registry, error) {
	if maxRetries < 1 {
		return nil, fmt.Errorf("%w (have %d)", ErrInvalidMaxRetries, maxRetries)
	}
	if len(bids) == 0 {
		return nil, ErrEmptyRegistry
	}

	tracked := make([]*TrackedBid, len(bids))
	for i, p := range bids {
		tracked[i] = newTrackedBid(p, maxRetries)
	}

	return &Registry{
		bids:   tracked,
		window: window,
	}, nil
}

// Bids returns the tracked bids in submission order. The slice is shared;
// callers mutate bids only through their methods.
func (r *Registry) Bids() []*TrackedBid {
	return r.bids
}

func (r *Registry) Len() int {
	return len(r.bids)
}

func (r *Registry) Window() auction.Window {
	return r.window
}

// AllDone reports whether every bid is terminal.
func (r *Registry) AllDone() bool {
	for _, b := range r.bids {
		if b.IsPending() {
			return false
		}
	}
	return true
}

func (r *Registry) HasPending() bool {
	return !r.AllDone()
}

// Summary projects the current state of every bid.
func (r *Registry) Summary() Summary {
	s := Summary{Outcomes: make([]Outcome, 0, len(r.bids))}
	for i, b := range r.bids {
		switch b.state {
		case StateSubmitted:
			s.Submitted++
		case StateFailed:
			s.Failed++
		default:
			s.Pending++
		}
		s.Outcomes = append(s.Outcomes, newOutcome(i+1, b))
	}
	return s
}

//
//
//

// Summary counts bids by state. Submitted+Failed+Pending always equals the
// number of bids.
type Summary struct {
	Submitted int       `json:"submitted"`
	Failed    int       `json:"failed"`
	Pending   int       `json:"pending"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (s Summary) Total() int {
	return s.Submitted + s.Failed + s.Pending
}

// Outcome is the disposition of one bid.
type Outcome struct {
	Index      int            `json:"index"`
	Owner      common.Address `json:"owner"`
	Amount     *big.Int       `json:"amount"`
	MaxPrice   *big.Int       `json:"max_price"`
	State      State          `json:"state"`
	TxHash     *common.Hash   `json:"tx_hash,omitempty"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	Error      string         `json:"error,omitempty"`
}

func newOutcome(index int, b *TrackedBid) Outcome {
	o := Outcome{
		Index:      index,
		Owner:      b.params.Owner,
		Amount:     copyInt(b.params.Amount),
		MaxPrice:   copyInt(b.params.MaxPrice),
		State:      b.state,
		Attempts:   b.attempts,
		MaxRetries: b.maxRetries,
	}
	if b.state == StateSubmitted {
		h := b.txHash
		o.TxHash = &h
	}
	if b.lastErr != nil {
		o.Error = b.lastErr.Error()
	}
	return o
}

func copyInt(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}
