package tcp

import (
	"context"
	"time"
)

// HandshakeEvent is one handshake outcome kept for operators.
type HandshakeEvent struct {
	SessionID  string    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	Outcome    string    `json:"outcome"` // "verified" or "rejected"
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// HandshakeRecorder stores handshake outcomes. Implementations are called
// from session goroutines and must be safe for concurrent use.
type HandshakeRecorder interface {
	RecordHandshake(evt *HandshakeEvent) error
	Close() error
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) RecordHandshake(*HandshakeEvent) error { return nil }
func (NopRecorder) Close() error                          { return nil }

// NewRecorder picks the recorder for the configured backends. Either repo
// may be nil; with a durable store the returned recorder is a started
// HybridHandshakeRecorder bound to ctx.
func NewRecorder(ctx context.Context, cache *HandshakeRedisRepo, store *HandshakePostgresRepo) HandshakeRecorder {
	switch {
	case cache == nil && store == nil:
		return NopRecorder{}
	case store == nil:
		return cache
	}

	var c handshakeCache
	if cache != nil {
		c = cache
	}
	rec := NewHybridHandshakeRecorder(c, store)
	rec.Start(ctx)
	return rec
}
