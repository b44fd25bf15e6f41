// Package filestore keeps each run summary as a JSON file in a directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ccabid/store"

	"github.com/gofrs/uuid"
	"golang.org/x/exp/slices"
)

const filePrefix = "bid-summary-"

type Store struct {
	dir string
}

var _ store.Store = (*Store)(nil)

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create summary directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	fi, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// Path returns the file a run is written to.
func (s *Store) Path(r *store.Run) string {
	name := fmt.Sprintf("%s%s-%s.json", filePrefix, r.CreatedAt.UTC().Format("20060102T150405Z"), r.ID)
	return filepath.Join(s.dir, name)
}

func (s *Store) InsertRun(ctx context.Context, r *store.Run) error {
	if r.ID.IsNil() {
		var err error
		if r.ID, err = uuid.NewV4(); err != nil {
			return fmt.Errorf("generate run ID: %w", err)
		}
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	buf, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	// Write-then-rename so readers never see a partial file.
	path := s.Path(r)
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+filePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(buf, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write run: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close run file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}

	return nil
}

func (s *Store) SelectRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*-"+id.String()+".json"))
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}
	if len(matches) == 0 {
		return nil, store.ErrNotFound
	}
	return readRun(matches[0])
}

func (s *Store) ListRuns(ctx context.Context, auctionAddress string) ([]*store.Run, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var runs []*store.Run
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || filepath.Ext(e.Name()) != ".json" {
			continue
		}

		r, err := readRun(filepath.Join(s.dir, e.Name()))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return nil, err
		}

		if strings.EqualFold(r.AuctionAddress, auctionAddress) {
			runs = append(runs, r)
		}
	}

	slices.SortFunc(runs, func(a, b *store.Run) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return runs, nil
}

func readRun(path string) (*store.Run, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var r store.Run
	if err := json.Unmarshal(buf, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}
