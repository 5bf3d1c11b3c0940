package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps snapshots and alerts in process memory. It backs tests
// and DSN-less deployments. A batch is staged off to the side and published
// under the write lock, so readers never observe a half-ingested bucket.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots []MetricSnapshot
	alerts    []Alert

	ingestMu  sync.Mutex
	ingesting map[int64]struct{}

	nextSnapshotID int64
	nextAlertID    int64
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ingesting: make(map[int64]struct{})}
}

func (s *MemoryStore) beginBucket(bucket time.Time) bool {
	key := bucket.UTC().Unix()
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	if _, busy := s.ingesting[key]; busy {
		return false
	}
	s.ingesting[key] = struct{}{}
	return true
}

func (s *MemoryStore) endBucket(bucket time.Time) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	delete(s.ingesting, bucket.UTC().Unix())
}

// IngestBatch stages the batch and swaps it in atomically.
func (s *MemoryStore) IngestBatch(ctx context.Context, bucket time.Time, snapshots []MetricSnapshot, policy ConflictPolicy) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bucket = bucket.UTC()
	if !s.beginBucket(bucket) {
		return 0, ErrConcurrentRun
	}
	defer s.endBucket(bucket)

	s.mu.Lock()
	defer s.mu.Unlock()

	if policy == ConflictReject {
		for _, existing := range s.snapshots {
			if existing.Bucket.Equal(bucket) {
				return 0, ErrConcurrentRun
			}
		}
	}

	type key struct{ source, metric string }
	incoming := make(map[key]struct{}, len(snapshots))
	for _, snap := range snapshots {
		incoming[key{snap.Source, snap.MetricKey}] = struct{}{}
	}

	// Stage: committed rows minus rows replaced by this batch.
	staged := make([]MetricSnapshot, 0, len(s.snapshots)+len(snapshots))
	for _, existing := range s.snapshots {
		if existing.Bucket.Equal(bucket) {
			if _, replaced := incoming[key{existing.Source, existing.MetricKey}]; replaced {
				continue
			}
		}
		staged = append(staged, existing)
	}

	now := time.Now().UTC()
	written := 0
	for _, snap := range snapshots {
		s.nextSnapshotID++
		snap.ID = s.nextSnapshotID
		snap.Bucket = bucket
		snap.CreatedAt = now
		staged = append(staged, snap)
		written++
	}

	s.snapshots = staged
	return written, nil
}

// Query filters committed snapshots, newest bucket first.
func (s *MemoryStore) Query(ctx context.Context, filter SnapshotFilter) ([]MetricSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]MetricSnapshot, 0)
	for _, snap := range s.snapshots {
		if filter.Source != "" && snap.Source != filter.Source {
			continue
		}
		if filter.MetricKey != "" && snap.MetricKey != filter.MetricKey {
			continue
		}
		if filter.Since != nil && snap.Bucket.Before(filter.Since.UTC()) {
			continue
		}
		matched = append(matched, snap)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Bucket.Equal(matched[j].Bucket) {
			return matched[i].Bucket.After(matched[j].Bucket)
		}
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ListBuckets returns distinct buckets, most recent first.
func (s *MemoryStore) ListBuckets(ctx context.Context) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]struct{})
	buckets := make([]time.Time, 0)
	for _, snap := range s.snapshots {
		key := snap.Bucket.Unix()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		buckets = append(buckets, snap.Bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].After(buckets[j]) })
	return buckets, nil
}

// CreateAlert inserts an alert unless the (rule, bucket) pair already has one.
func (s *MemoryStore) CreateAlert(ctx context.Context, alert Alert) (Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return Alert{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.alerts {
		if existing.RuleID == alert.RuleID && existing.Bucket.Equal(alert.Bucket.UTC()) {
			return existing, false, nil
		}
	}

	s.nextAlertID++
	alert.ID = s.nextAlertID
	alert.Bucket = alert.Bucket.UTC()
	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now().UTC()
	}
	s.alerts = append(s.alerts, alert)
	return alert, true, nil
}

// ListAlerts filters alerts, most recently triggered first.
func (s *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Alert, 0)
	for _, alert := range s.alerts {
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && alert.Severity != filter.Severity {
			continue
		}
		if filter.Source != "" && alert.Source != filter.Source {
			continue
		}
		matched = append(matched, alert)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].TriggeredAt.Equal(matched[j].TriggeredAt) {
			return matched[i].TriggeredAt.After(matched[j].TriggeredAt)
		}
		return matched[i].ID > matched[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// GetAlert loads one alert by id.
func (s *MemoryStore) GetAlert(ctx context.Context, id int64) (Alert, error) {
	if err := ctx.Err(); err != nil {
		return Alert{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, alert := range s.alerts {
		if alert.ID == id {
			return alert, nil
		}
	}
	return Alert{}, ErrNotFound
}

// UpdateAlertStatus swaps the alert's status if it still holds expect.
func (s *MemoryStore) UpdateAlertStatus(ctx context.Context, id int64, expect, next AlertStatus) (Alert, error) {
	if err := ctx.Err(); err != nil {
		return Alert{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID != id {
			continue
		}
		if s.alerts[i].Status != expect {
			return Alert{}, ErrStatusConflict
		}
		s.alerts[i].Status = next
		return s.alerts[i], nil
	}
	return Alert{}, ErrNotFound
}

// SetAlertNote replaces the alert's note without touching its status.
func (s *MemoryStore) SetAlertNote(ctx context.Context, id int64, note string) (Alert, error) {
	if err := ctx.Err(); err != nil {
		return Alert{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID != id {
			continue
		}
		s.alerts[i].Note = &note
		return s.alerts[i], nil
	}
	return Alert{}, ErrNotFound
}

var _ Store = (*MemoryStore)(nil)
