package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ccabid/store"

	"github.com/gofrs/uuid"
	"golang.org/x/exp/slices"
)

type Store struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*store.Run
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		runs: map[uuid.UUID]*store.Run{},
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) InsertRun(ctx context.Context, r *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID.IsNil() {
		var err error
		if r.ID, err = uuid.NewV4(); err != nil {
			return fmt.Errorf("generate run ID: %w", err)
		}
	}

	if _, ok := s.runs[r.ID]; ok {
		return fmt.Errorf("run %s already exists", r.ID)
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	s.runs[r.ID] = copyRun(r)

	return nil
}

func (s *Store) SelectRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	return copyRun(r), nil
}

func (s *Store) ListRuns(ctx context.Context, auctionAddress string) ([]*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []*store.Run
	for _, r := range s.runs {
		if strings.EqualFold(r.AuctionAddress, auctionAddress) {
			runs = append(runs, copyRun(r))
		}
	}

	slices.SortFunc(runs, func(a, b *store.Run) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return runs, nil
}

func copyRun(r *store.Run) *store.Run {
	c := *r
	c.Outcomes = slices.Clone(r.Outcomes)
	return &c
}
