package ratelimit

import (
	"testing"
	"time"
)

func TestTriggerLimiter_MinInterval(t *testing.T) {
	l := NewTriggerLimiter(time.Minute, 1)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if !l.AllowAt(now) {
		t.Fatal("Expected first request to be allowed")
	}
	if l.AllowAt(now.Add(10 * time.Second)) {
		t.Error("Expected second request within the interval to be rejected")
	}
	if !l.AllowAt(now.Add(61 * time.Second)) {
		t.Error("Expected request after the interval to be allowed")
	}

	stats := l.GetStats()
	if stats["allowed"] != 2 || stats["rejected"] != 1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
	if stats["min_interval_ms"] != int64(60000) {
		t.Errorf("Expected min_interval_ms 60000, got %v", stats["min_interval_ms"])
	}
	if _, ok := stats["last_rejected"]; !ok {
		t.Error("Expected last_rejected to be set")
	}
}

func TestTriggerLimiter_Burst(t *testing.T) {
	l := NewTriggerLimiter(time.Hour, 3)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !l.AllowAt(now) {
			t.Fatalf("Expected request %d within burst to be allowed", i+1)
		}
	}
	if l.AllowAt(now) {
		t.Error("Expected request beyond burst to be rejected")
	}
}

func TestTriggerLimiter_Disabled(t *testing.T) {
	l := NewTriggerLimiter(0, 0)

	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatal("Expected unlimited limiter to allow everything")
		}
	}
	if _, ok := l.GetStats()["min_interval_ms"]; ok {
		t.Error("Expected no min_interval_ms for an unlimited limiter")
	}
}
