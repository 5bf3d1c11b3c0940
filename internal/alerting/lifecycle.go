package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"dqwatch/internal/storage"
)

// ErrInvalidTransition rejects an illegal alert status change. Resolved is
// terminal; statuses never move backward.
var ErrInvalidTransition = errors.New("alerting: invalid alert status transition")

// transitions is the closed transition table of the alert state machine.
var transitions = map[storage.AlertStatus]map[storage.AlertStatus]bool{
	storage.AlertOpen: {
		storage.AlertAcked:    true,
		storage.AlertResolved: true,
	},
	storage.AlertAcked: {
		storage.AlertResolved: true,
	},
	storage.AlertResolved: {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to storage.AlertStatus) bool {
	return transitions[from][to]
}

// Lifecycle owns alert status transitions and notes. Transitions are
// serialised per alert via compare-and-swap on the current status.
type Lifecycle struct {
	alerts storage.AlertStore
	logger zerolog.Logger
}

// NewLifecycle constructs the lifecycle manager.
func NewLifecycle(alerts storage.AlertStore, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		alerts: alerts,
		logger: logger.With().Str("component", "alert_lifecycle").Logger(),
	}
}

// statusRetries bounds CAS retries under concurrent triage actions.
const statusRetries = 3

// SetStatus moves the alert to next, failing with ErrInvalidTransition when
// the transition table forbids it and storage.ErrNotFound for unknown ids.
func (l *Lifecycle) SetStatus(ctx context.Context, id int64, next storage.AlertStatus) (storage.Alert, error) {
	if !storage.ValidAlertStatus(next) {
		return storage.Alert{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	for attempt := 0; attempt < statusRetries; attempt++ {
		current, err := l.alerts.GetAlert(ctx, id)
		if err != nil {
			return storage.Alert{}, err
		}
		if !CanTransition(current.Status, next) {
			return storage.Alert{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}

		updated, err := l.alerts.UpdateAlertStatus(ctx, id, current.Status, next)
		if err != nil {
			if errors.Is(err, storage.ErrStatusConflict) {
				continue
			}
			return storage.Alert{}, err
		}

		l.logger.Info().Int64("alert_id", id).
			Str("from", string(current.Status)).
			Str("to", string(next)).
			Msg("alert status changed")
		return updated, nil
	}
	return storage.Alert{}, storage.ErrStatusConflict
}

// SetNote attaches a triage note. Notes are allowed in any state, including
// resolved, so context can still be added for audit purposes.
func (l *Lifecycle) SetNote(ctx context.Context, id int64, text string) (storage.Alert, error) {
	updated, err := l.alerts.SetAlertNote(ctx, id, text)
	if err != nil {
		return storage.Alert{}, err
	}
	l.logger.Info().Int64("alert_id", id).Msg("alert note updated")
	return updated, nil
}
