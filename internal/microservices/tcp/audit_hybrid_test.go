package tcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu     sync.Mutex
	events []*HandshakeEvent
	fail   bool
	closed bool
}

func (c *fakeCache) RecordHandshake(evt *HandshakeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("cache unavailable")
	}
	c.events = append(c.events, evt)
	return nil
}

func (c *fakeCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type fakeStore struct {
	mu      sync.Mutex
	saved   []*HandshakeEvent
	batches int
	closed  bool
}

func (s *fakeStore) SaveHandshake(_ context.Context, evt *HandshakeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, evt)
	return nil
}

func (s *fakeStore) BatchInsert(_ context.Context, batch []*HandshakeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, batch...)
	s.batches++
	return nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func event(outcome string) *HandshakeEvent {
	return &HandshakeEvent{SessionID: "s", RemoteAddr: "127.0.0.1:1", Outcome: outcome, At: time.Now()}
}

func TestHybridRecorder_FlushesOnClose(t *testing.T) {
	cache, store := &fakeCache{}, &fakeStore{}
	rec := NewHybridHandshakeRecorder(cache, store)
	rec.Start(context.Background())

	for i := 0; i < 10; i++ {
		require.NoError(t, rec.RecordHandshake(event("verified")))
	}
	assert.Equal(t, 10, cache.count(), "cache is written synchronously")

	require.NoError(t, rec.Close())
	assert.Equal(t, 10, store.count())
	assert.True(t, cache.closed)
	assert.True(t, store.closed)
}

func TestHybridRecorder_FlushesFullBatch(t *testing.T) {
	store := &fakeStore{}
	rec := NewHybridHandshakeRecorder(nil, store)
	rec.batchSize = 5
	rec.Start(context.Background())
	defer rec.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.RecordHandshake(event("rejected")))
	}
	assert.Eventually(t, func() bool { return store.count() == 5 }, time.Second, 10*time.Millisecond)
}

func TestHybridRecorder_FlushesOnTick(t *testing.T) {
	store := &fakeStore{}
	rec := NewHybridHandshakeRecorder(nil, store)
	rec.flushInterval = 20 * time.Millisecond
	rec.Start(context.Background())
	defer rec.Close()

	require.NoError(t, rec.RecordHandshake(event("verified")))
	assert.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHybridRecorder_StopsOnContextCancel(t *testing.T) {
	store := &fakeStore{}
	rec := NewHybridHandshakeRecorder(nil, store)
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)

	require.NoError(t, rec.RecordHandshake(event("verified")))
	cancel()

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("batch writer did not stop")
	}
	assert.Equal(t, 1, store.count())
	assert.NoError(t, rec.Close())
}

func TestHybridRecorder_CacheFailureIsNotFatal(t *testing.T) {
	cache := &fakeCache{fail: true}
	rec := NewHybridHandshakeRecorder(cache, nil)

	assert.NoError(t, rec.RecordHandshake(event("verified")))
	assert.NoError(t, rec.Close())
}

func TestHybridRecorder_DirectWriteWhenQueueFull(t *testing.T) {
	store := &fakeStore{}
	rec := NewHybridHandshakeRecorder(nil, store)
	rec.writeChan = make(chan *HandshakeEvent, 1)
	// not started, so nothing drains the queue

	require.NoError(t, rec.RecordHandshake(event("verified")))
	require.NoError(t, rec.RecordHandshake(event("verified")))
	assert.Equal(t, 1, store.count(), "second event bypasses the full queue")
}

func TestHybridRecorder_RejectsAfterClose(t *testing.T) {
	rec := NewHybridHandshakeRecorder(&fakeCache{}, &fakeStore{})
	require.NoError(t, rec.Close())
	assert.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.RecordHandshake(event("verified")), errRecorderClosed)
}

func TestNewRecorder_PicksBackends(t *testing.T) {
	ctx := context.Background()

	assert.IsType(t, NopRecorder{}, NewRecorder(ctx, nil, nil))

	cache := &HandshakeRedisRepo{}
	assert.Same(t, cache, NewRecorder(ctx, cache, nil))
}
