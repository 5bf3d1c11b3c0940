package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"dqwatch/internal/storage"
)

func openTestAlert(t *testing.T, store *storage.MemoryStore) storage.Alert {
	t.Helper()
	alert, created, err := store.CreateAlert(context.Background(), storage.Alert{
		RuleID:    1,
		RuleName:  "duplicate_id_pct threshold",
		MetricKey: "duplicate_id_pct",
		Source:    "crm",
		Severity:  storage.SeverityWarn,
		Bucket:    time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		Status:    storage.AlertOpen,
	})
	require.NoError(t, err)
	require.True(t, created)
	return alert
}

func TestCanTransitionTable(t *testing.T) {
	require.True(t, CanTransition(storage.AlertOpen, storage.AlertAcked))
	require.True(t, CanTransition(storage.AlertOpen, storage.AlertResolved))
	require.True(t, CanTransition(storage.AlertAcked, storage.AlertResolved))

	require.False(t, CanTransition(storage.AlertAcked, storage.AlertOpen))
	require.False(t, CanTransition(storage.AlertResolved, storage.AlertOpen))
	require.False(t, CanTransition(storage.AlertResolved, storage.AlertAcked))
	require.False(t, CanTransition(storage.AlertOpen, storage.AlertOpen))
}

func TestSetStatusHappyPath(t *testing.T) {
	store := storage.NewMemoryStore()
	lifecycle := NewLifecycle(store, zerolog.Nop())
	alert := openTestAlert(t, store)

	updated, err := lifecycle.SetStatus(context.Background(), alert.ID, storage.AlertAcked)
	require.NoError(t, err)
	require.Equal(t, storage.AlertAcked, updated.Status)

	updated, err = lifecycle.SetStatus(context.Background(), alert.ID, storage.AlertResolved)
	require.NoError(t, err)
	require.Equal(t, storage.AlertResolved, updated.Status)
}

func TestSetStatusResolvedIsTerminal(t *testing.T) {
	store := storage.NewMemoryStore()
	lifecycle := NewLifecycle(store, zerolog.Nop())
	alert := openTestAlert(t, store)

	_, err := lifecycle.SetStatus(context.Background(), alert.ID, storage.AlertResolved)
	require.NoError(t, err)

	_, err = lifecycle.SetStatus(context.Background(), alert.ID, storage.AlertAcked)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = lifecycle.SetStatus(context.Background(), alert.ID, storage.AlertOpen)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetStatusRejectsUnknownStatusAndID(t *testing.T) {
	store := storage.NewMemoryStore()
	lifecycle := NewLifecycle(store, zerolog.Nop())
	openTestAlert(t, store)

	_, err := lifecycle.SetStatus(context.Background(), 1, storage.AlertStatus("snoozed"))
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = lifecycle.SetStatus(context.Background(), 404, storage.AlertAcked)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetNoteAllowedInAnyState(t *testing.T) {
	store := storage.NewMemoryStore()
	lifecycle := NewLifecycle(store, zerolog.Nop())
	alert := openTestAlert(t, store)

	_, err := lifecycle.SetStatus(context.Background(), alert.ID, storage.AlertResolved)
	require.NoError(t, err)

	updated, err := lifecycle.SetNote(context.Background(), alert.ID, "postmortem written")
	require.NoError(t, err)
	require.NotNil(t, updated.Note)
	require.Equal(t, "postmortem written", *updated.Note)
	require.Equal(t, storage.AlertResolved, updated.Status)
}
