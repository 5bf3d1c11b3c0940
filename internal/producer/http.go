package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dqwatch/internal/storage"
)

const measurementsPath = "/measurements"

// HTTPOptions parameterise the HTTP measurement producer.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTP pulls a bucket's measurement batch from an external producer API.
type HTTP struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTP constructs an HTTP producer client.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTP{
		opts:    opts,
		logger:  logger.With().Str("component", "http_producer").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type measurementPayload struct {
	Source    string            `json:"source"`
	MetricKey string            `json:"metric_key"`
	Value     float64           `json:"value"`
	Meta      map[string]string `json:"meta,omitempty"`
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Collect fetches the producer's measurements for the bucket. Rows that
// fail validation are skipped and logged rather than aborting the batch.
func (p *HTTP) Collect(ctx context.Context, bucket time.Time) ([]storage.MetricSnapshot, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("producer base_url is required")
	}

	endpoint := fmt.Sprintf("%s%s?bucket=%s", p.baseURL, measurementsPath, url.QueryEscape(bucket.UTC().Format(time.RFC3339)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var rows []measurementPayload
	if err := json.Unmarshal(payloadBytes, &rows); err != nil {
		return nil, fmt.Errorf("decode measurements: %w", err)
	}

	snapshots := make([]storage.MetricSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := storage.NewSnapshot(bucket, row.Source, row.MetricKey, row.Value, row.Meta)
		if err != nil {
			p.logger.Warn().Err(err).
				Str("source", row.Source).
				Str("metric", row.MetricKey).
				Msg("skipping invalid measurement")
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorPayload
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("producer api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("producer api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("producer api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("producer api error (%d)", status)
}

var _ Producer = (*HTTP)(nil)
