package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ccabid/metrics"

	"github.com/gofrs/uuid"
)

// Record assigns an ID and creation time to r if they are unset, inserts it
// into s, and counts the result under name.
func Record(ctx context.Context, s Store, name string, r *Run) (err error) {
	defer func(begin time.Time) {
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.RunsRecordedTotal.WithLabelValues(name, result).Inc()
		metrics.OpWait("store_record_"+name, time.Since(begin))
	}(time.Now())

	if r.ID.IsNil() {
		if r.ID, err = uuid.NewV4(); err != nil {
			return fmt.Errorf("generate run ID: %w", err)
		}
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	r.AuctionAddress = strings.ToLower(r.AuctionAddress)

	if err := s.InsertRun(ctx, r); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}
