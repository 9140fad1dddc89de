package timing

import (
	"testing"
	"time"
)

func TestSnapshotReflectsRecordedActivity(t *testing.T) {
	tm := NewTimer()
	tm.RecordBytes(10, 20)
	tm.RecordDispatch(5 * time.Millisecond)
	tm.RecordBytes(3, 4)

	snap := tm.Snapshot()
	if snap.BytesRead != 13 || snap.BytesWritten != 24 {
		t.Fatalf("got bytes_read=%d bytes_written=%d", snap.BytesRead, snap.BytesWritten)
	}
	if snap.RequestCount != 1 {
		t.Fatalf("got request count %d", snap.RequestCount)
	}
	if snap.LastDispatch != 5*time.Millisecond {
		t.Fatalf("got last dispatch %v", snap.LastDispatch)
	}
	if snap.Uptime <= 0 {
		t.Fatal("expected positive uptime")
	}
}

func TestHandshakeTimeZeroUntilCompleted(t *testing.T) {
	tm := NewTimer()
	if snap := tm.Snapshot(); snap.HandshakeTime != 0 {
		t.Fatalf("expected zero handshake time before StartHandshake, got %v", snap.HandshakeTime)
	}

	tm.StartHandshake()
	time.Sleep(5 * time.Millisecond)
	tm.EndHandshake()

	snap := tm.Snapshot()
	if snap.HandshakeTime <= 0 {
		t.Fatal("expected positive handshake time after EndHandshake")
	}
}

func TestMetricsStringIncludesCounters(t *testing.T) {
	m := Metrics{RequestCount: 3}
	s := m.String()
	if s == "" {
		t.Fatal("expected non-empty string")
	}
}
