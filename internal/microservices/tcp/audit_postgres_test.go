package tcp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgresRepo needs TEST_DATABASE_URL pointing at a scratch database.
func newTestPostgresRepo(t *testing.T) *HandshakePostgresRepo {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	repo, err := OpenHandshakePostgresRepo(dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	repo.db.Exec("DELETE FROM handshake_events")
	t.Cleanup(func() {
		repo.db.Exec("DELETE FROM handshake_events")
		repo.Close()
	})
	return repo
}

func pgEvent(outcome string, at time.Time) *HandshakeEvent {
	return &HandshakeEvent{
		SessionID:  uuid.NewString(),
		RemoteAddr: "10.0.0.9:41000",
		Outcome:    outcome,
		At:         at,
	}
}

func TestHandshakePostgresRepo_SaveAndBatch(t *testing.T) {
	repo := newTestPostgresRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.SaveHandshake(ctx, pgEvent("verified", now.Add(-time.Minute))))
	require.NoError(t, repo.BatchInsert(ctx, []*HandshakeEvent{
		pgEvent("rejected", now.Add(-30*time.Second)),
		pgEvent("rejected", now),
	}))
	require.NoError(t, repo.BatchInsert(ctx, nil))

	events, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "rejected", events[0].Outcome)
	assert.True(t, events[0].At.After(events[1].At) || events[0].At.Equal(events[1].At))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"verified": 1, "rejected": 2}, stats)
}

func TestHybridRecorder_WithPostgres(t *testing.T) {
	reader := newTestPostgresRepo(t)
	store, err := OpenHandshakePostgresRepo(os.Getenv("TEST_DATABASE_URL"))
	require.NoError(t, err)

	rec := NewRecorder(context.Background(), nil, store)
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.RecordHandshake(pgEvent("verified", time.Now())))
	}
	// Close flushes the pending batch before closing the store
	require.NoError(t, rec.Close())

	stats, err := reader.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats["verified"])
}
