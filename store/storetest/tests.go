package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ccabid/store"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestStore(t *testing.T, makeStore func(*testing.T) store.Store) {
	ctx := context.Background()

	t.Run("InsertSelect", func(t *testing.T) {
		s := makeStore(t)
		want := NewRun(t, s, AuctionAddress)

		if want.ID.IsNil() {
			t.Fatal("run ID not assigned")
		}

		have, err := s.SelectRun(ctx, want.ID)
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(want, have, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("mismatch (-want +have):\n%s", diff)
		}
	})

	t.Run("InsertWithPending", func(t *testing.T) {
		s := makeStore(t)
		want := &store.Run{
			ChainID:        ChainID,
			AuctionAddress: AuctionAddress,
			Signer:         GenAddress(t),
			Reason:         "block_stream_error_with_pending",
			FinalBlock:     104,
			Pending:        1,
			Error:          "websocket: close 1006 (abnormal closure)",
			Outcomes: []store.Outcome{
				{Position: 1, Owner: GenAddress(t), Amount: "1", MaxPrice: "1100", State: "pending", Attempts: 2, MaxRetries: 5, Error: "send: nonce too low"},
			},
			CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		}

		if err := s.InsertRun(ctx, want); err != nil {
			t.Fatal(err)
		}

		have, err := s.SelectRun(ctx, want.ID)
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(want, have, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("mismatch (-want +have):\n%s", diff)
		}
	})

	t.Run("SelectNotFound", func(t *testing.T) {
		s := makeStore(t)
		NewRun(t, s, AuctionAddress)

		_, err := s.SelectRun(ctx, uuid.Must(uuid.NewV4()))
		if want, have := store.ErrNotFound, err; !errors.Is(have, want) {
			t.Fatalf("want %v, have %v", want, have)
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := makeStore(t)

		other := GenAddress(t)
		first := NewRun(t, s, AuctionAddress)
		NewRun(t, s, other)
		second := &store.Run{
			ChainID:        ChainID,
			AuctionAddress: AuctionAddress,
			Reason:         "interrupted",
			FinalBlock:     first.FinalBlock + 1,
			CreatedAt:      first.CreatedAt.Add(time.Second),
		}
		if err := s.InsertRun(ctx, second); err != nil {
			t.Fatal(err)
		}

		have, err := s.ListRuns(ctx, strings.ToUpper(AuctionAddress[2:]))
		if err != nil {
			t.Fatal(err)
		}
		if len(have) != 0 {
			t.Fatalf("unprefixed address: want no runs, have %d", len(have))
		}

		have, err = s.ListRuns(ctx, "0x"+strings.ToUpper(AuctionAddress[2:]))
		if err != nil {
			t.Fatal(err)
		}

		want := []*store.Run{first, second}
		if diff := cmp.Diff(want, have, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("mismatch (-want +have):\n%s", diff)
		}
	})

	t.Run("ListRunsEmpty", func(t *testing.T) {
		s := makeStore(t)

		have, err := s.ListRuns(ctx, AuctionAddress)
		if err != nil {
			t.Fatal(err)
		}
		if want, have := 0, len(have); want != have {
			t.Fatalf("want %d, have %d", want, have)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := makeStore(t)
		if err := s.Ping(ctx); err != nil {
			t.Fatal(err)
		}
	})
}
