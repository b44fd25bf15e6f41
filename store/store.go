package store

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
)

var ErrNotFound = errors.New("not found")

// Store persists the summaries of finished runs.
type Store interface {
	Ping(ctx context.Context) error
	InsertRun(ctx context.Context, r *Run) error
	SelectRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, auctionAddress string) ([]*Run, error)
	Close() error
}

// Run is the final disposition of one engine run against one auction.
type Run struct {
	ID             uuid.UUID `json:"id"`
	ChainID        string    `json:"chain_id"`
	AuctionAddress string    `json:"auction_address"`
	Signer         string    `json:"signer"`
	Reason         string    `json:"reason"`
	FinalBlock     uint64    `json:"final_block"`
	Submitted      int       `json:"submitted"`
	Failed         int       `json:"failed"`
	Pending        int       `json:"pending"`
	Error          string    `json:"error,omitempty"`
	Outcomes       []Outcome `json:"outcomes"`
	CreatedAt      time.Time `json:"created_at"`
}

// Outcome is one bid's disposition. Amounts are decimal wei strings.
type Outcome struct {
	Position   int    `json:"position"`
	Owner      string `json:"owner"`
	Amount     string `json:"amount"`
	MaxPrice   string `json:"max_price"`
	State      string `json:"state"`
	TxHash     string `json:"tx_hash,omitempty"`
	Attempts   int    `json:"attempts"`
	MaxRetries int    `json:"max_retries"`
	Error      string `json:"error,omitempty"`
}
