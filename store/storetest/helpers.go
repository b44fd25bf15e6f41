package storetest

import (
	"context"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"ccabid/store"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	ChainID        = "1337"
	AuctionAddress = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
)

// NewRun inserts a run with two bids, one submitted and one failed.
func NewRun(t *testing.T, s store.Store, auctionAddress string) *store.Run {
	t.Helper()

	owner := GenAddress(t)

	r := &store.Run{
		ChainID:        ChainID,
		AuctionAddress: auctionAddress,
		Signer:         owner,
		Reason:         "all_bids_processed",
		FinalBlock:     uint64(100 + rand.Intn(1000)),
		Submitted:      1,
		Failed:         1,
		Outcomes: []store.Outcome{
			{
				Position:   1,
				Owner:      owner,
				Amount:     strconv.FormatUint(rand.Uint64(), 10),
				MaxPrice:   "79228162514264337593543950336000",
				State:      "submitted",
				TxHash:     randomHex(32),
				Attempts:   1,
				MaxRetries: 3,
			},
			{
				Position:   2,
				Owner:      GenAddress(t),
				Amount:     "1000000000000000000000000",
				MaxPrice:   "1000",
				State:      "failed",
				Attempts:   3,
				MaxRetries: 3,
				Error:      "simulate: execution reverted",
			},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	if err := s.InsertRun(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	return r
}

// GenAddress returns the lowercase hex address of a fresh key.
func GenAddress(t *testing.T) string {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	return hexutil.Encode(crypto.PubkeyToAddress(key.PublicKey).Bytes())
}

func randomHex(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hexutil.Encode(buf)
}
