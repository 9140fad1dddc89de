// Package timing provides per-connection performance measurement utilities
// for the HAP transport core.
package timing

import (
	"fmt"
	"sync"
	"time"
)

// Metrics captures a point-in-time snapshot of a connection's lifecycle.
type Metrics struct {
	// Uptime is the time elapsed since the connection was accepted.
	Uptime time.Duration `json:"uptime"`

	// HandshakeTime is how long the connection spent in plaintext before
	// the encryption handoff (§4.3's Plaintext-AwaitEncryptionHandoff
	// transition completed). Zero if the connection never encrypted.
	HandshakeTime time.Duration `json:"handshake_time"`

	// LastDispatch is the wall-clock duration of the most recently
	// completed Handler.Dispatch call on this connection.
	LastDispatch time.Duration `json:"last_dispatch"`

	// RequestCount is the number of requests fully dispatched so far.
	RequestCount uint64 `json:"request_count"`

	// BytesRead and BytesWritten are plaintext byte totals (post-decrypt,
	// pre-encrypt), not wire/frame byte totals.
	BytesRead    uint64 `json:"bytes_read"`
	BytesWritten uint64 `json:"bytes_written"`
}

// Timer accumulates timing information for a single connection across its
// whole lifetime. Safe for concurrent use: the owning connection records
// into it from its own goroutine while Snapshot may be called from any
// other goroutine.
type Timer struct {
	mu sync.Mutex

	start          time.Time
	handshakeStart time.Time
	handshakeEnd   time.Time
	lastDispatch   time.Duration
	requestCount   uint64
	bytesRead      uint64
	bytesWritten   uint64
}

// NewTimer creates a new timing session, starting the connection's uptime
// clock immediately (call this at accept time).
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartHandshake marks the beginning of the plaintext pairing exchange.
func (t *Timer) StartHandshake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handshakeStart = time.Now()
}

// EndHandshake marks the moment the shared key was installed and the
// connection transitioned to Encrypted.
func (t *Timer) EndHandshake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handshakeEnd = time.Now()
}

// RecordDispatch records the duration of one completed Handler.Dispatch call.
func (t *Timer) RecordDispatch(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastDispatch = d
	t.requestCount++
}

// RecordBytes adds to the running plaintext byte totals.
func (t *Timer) RecordBytes(read, written int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesRead += uint64(read)
	t.bytesWritten += uint64(written)
}

// Snapshot returns the current metrics.
func (t *Timer) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Metrics{
		Uptime:       time.Since(t.start),
		LastDispatch: t.lastDispatch,
		RequestCount: t.requestCount,
		BytesRead:    t.bytesRead,
		BytesWritten: t.bytesWritten,
	}
	if !t.handshakeStart.IsZero() && !t.handshakeEnd.IsZero() {
		m.HandshakeTime = t.handshakeEnd.Sub(t.handshakeStart)
	}
	return m
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("uptime=%v handshake=%v requests=%d last_dispatch=%v bytes_in=%d bytes_out=%d",
		m.Uptime, m.HandshakeTime, m.RequestCount, m.LastDispatch, m.BytesRead, m.BytesWritten)
}
