package producer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"dqwatch/internal/storage"
)

func TestHTTPCollect(t *testing.T) {
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, measurementsPath, r.URL.Path)
		require.Equal(t, bucket.Format(time.RFC3339), r.URL.Query().Get("bucket"))
		require.Equal(t, "dqwatch-test", r.Header.Get("User-Agent"))

		_ = json.NewEncoder(w).Encode([]measurementPayload{
			{Source: "crm", MetricKey: "duplicate_id_pct", Value: 4.5, Meta: map[string]string{"rows": "1200"}},
			{Source: "web", MetricKey: "missing_profile_pct", Value: 1.25},
		})
	}))
	defer srv.Close()

	client := NewHTTP(HTTPOptions{BaseURL: srv.URL, UserAgent: "dqwatch-test"}, zerolog.Nop())
	snapshots, err := client.Collect(context.Background(), bucket)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Equal(t, "crm", snapshots[0].Source)
	require.Equal(t, "4.5", snapshots[0].Value.String())
	require.Equal(t, bucket, snapshots[0].Bucket)
	require.Equal(t, "1200", snapshots[0].Meta["rows"])
}

func TestHTTPCollectSkipsInvalidRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]measurementPayload{
			{Source: "", MetricKey: "duplicate_id_pct", Value: 4.5},
			{Source: "web", MetricKey: "missing_profile_pct", Value: 1.25},
		})
	}))
	defer srv.Close()

	client := NewHTTP(HTTPOptions{BaseURL: srv.URL}, zerolog.Nop())
	snapshots, err := client.Collect(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.Equal(t, "web", snapshots[0].Source)
}

func TestHTTPCollectAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(errorPayload{Message: "warehouse export still running"})
	}))
	defer srv.Close()

	client := NewHTTP(HTTPOptions{BaseURL: srv.URL}, zerolog.Nop())
	_, err := client.Collect(context.Background(), time.Now().UTC())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "warehouse export still running"))
	require.True(t, strings.Contains(err.Error(), "503"))
}

func TestStaticProducerStampsBucket(t *testing.T) {
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	seed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	snap, err := storage.NewSnapshot(seed, "crm", "duplicate_id_pct", 1, nil)
	require.NoError(t, err)

	static := &Static{Snapshots: []storage.MetricSnapshot{snap}}
	out, err := static.Collect(context.Background(), bucket)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, bucket, out[0].Bucket)
	require.Equal(t, seed, static.Snapshots[0].Bucket, "the template batch must stay untouched")
}
