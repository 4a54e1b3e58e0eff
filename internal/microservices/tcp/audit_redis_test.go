package tcp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisRepo connects to a scratch database, skipping when Redis is not running.
func newTestRedisRepo(t *testing.T) *HandshakeRedisRepo {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	repo, err := NewHandshakeRedisRepo(url)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	ctx := context.Background()
	repo.client.Del(ctx, handshakeEventsKey, handshakeStatsKey)
	t.Cleanup(func() {
		repo.client.Del(ctx, handshakeEventsKey, handshakeStatsKey)
		repo.Close()
	})
	return repo
}

func TestHandshakeRedisRepo_RecordAndRead(t *testing.T) {
	repo := newTestRedisRepo(t)
	ctx := context.Background()

	first := &HandshakeEvent{SessionID: "a", RemoteAddr: "10.0.0.1:5000", Outcome: "verified", At: time.Now()}
	second := &HandshakeEvent{SessionID: "b", RemoteAddr: "10.0.0.2:5000", Outcome: "rejected", Reason: "identity marker mismatch", At: time.Now()}
	require.NoError(t, repo.RecordHandshake(first))
	require.NoError(t, repo.RecordHandshake(second))

	events, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].SessionID, "newest first")
	assert.Equal(t, "identity marker mismatch", events[0].Reason)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"verified": 1, "rejected": 1}, stats)
}

func TestHandshakeRedisRepo_NilIsNoop(t *testing.T) {
	var repo *HandshakeRedisRepo
	assert.NoError(t, repo.RecordHandshake(event("verified")))
	events, err := repo.Recent(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, repo.Close())
}

func TestNewHandshakeRedisRepo_InvalidURL(t *testing.T) {
	_, err := NewHandshakeRedisRepo("not-a-url")
	assert.Error(t, err)
}
