package producer

import (
	"context"
	"time"

	"dqwatch/internal/storage"
)

// Producer computes raw per-source measurements for one bucket. The actual
// statistics behind each metric are the producer's concern; the engine only
// consumes its numeric outputs.
type Producer interface {
	Collect(ctx context.Context, bucket time.Time) ([]storage.MetricSnapshot, error)
}

// Static replays a fixed batch, used by simulation and tests.
type Static struct {
	Snapshots []storage.MetricSnapshot
}

// Collect returns the fixed batch stamped with the requested bucket.
func (s *Static) Collect(ctx context.Context, bucket time.Time) ([]storage.MetricSnapshot, error) {
	out := make([]storage.MetricSnapshot, len(s.Snapshots))
	for i, snap := range s.Snapshots {
		snap.Bucket = bucket.UTC()
		out[i] = snap
	}
	return out, nil
}

var _ Producer = (*Static)(nil)
