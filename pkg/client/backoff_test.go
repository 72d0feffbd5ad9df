package client

import (
	"testing"
	"time"
)

func TestProviderBackoff_Next(t *testing.T) {
	b := &ProviderBackoff{Base: 500 * time.Millisecond, Max: 8 * time.Second}

	tests := []struct {
		name       string
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{name: "first retry", attempt: 0, want: 500 * time.Millisecond},
		{name: "doubles", attempt: 3, want: 4 * time.Second},
		{name: "capped at max", attempt: 5, want: 8 * time.Second},
		{name: "large attempt stays capped", attempt: 1000, want: 8 * time.Second},
		{name: "hint caps growth", attempt: 3, retryAfter: 3 * time.Second, want: 3 * time.Second},
		{name: "hint below base", attempt: 0, retryAfter: 200 * time.Millisecond, want: 200 * time.Millisecond},
		{name: "hint above schedule", attempt: 2, retryAfter: time.Minute, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Next(tt.attempt, tt.retryAfter); got != tt.want {
				t.Errorf("Next(%d, %v) = %v; want %v", tt.attempt, tt.retryAfter, got, tt.want)
			}
		})
	}
}

func TestProviderBackoff_NoMax(t *testing.T) {
	b := &ProviderBackoff{Base: time.Second}

	if got := b.Next(10, 0); got != time.Second {
		t.Errorf("without Max or hint, Next = %v; want Base", got)
	}
	if got := b.Next(10, 5*time.Second); got != 5*time.Second {
		t.Errorf("hint alone caps growth, Next = %v; want 5s", got)
	}
}

func TestProviderBackoff_JitterStaysBelowCap(t *testing.T) {
	fixed := &ProviderBackoff{Base: time.Second, Max: 10 * time.Second, Jitter: 0.2, rand: func() float64 { return 0.5 }}
	if got := fixed.Next(1, 0); got != 1800*time.Millisecond {
		t.Errorf("Next(1) = %v; want 1.8s", got)
	}
	if got := fixed.Next(4, 3*time.Second); got != 2700*time.Millisecond {
		t.Errorf("Next(4, 3s) = %v; want 2.7s", got)
	}

	b := &ProviderBackoff{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.1}
	for i := 0; i < 100; i++ {
		got := b.Next(0, 0)
		if got < 90*time.Millisecond || got > 100*time.Millisecond {
			t.Fatalf("Next(0) with jitter = %v; want between 90ms and 100ms", got)
		}
	}
}

func TestDefaultBackoff_Schedule(t *testing.T) {
	b := DefaultBackoff()
	b.Jitter = 0

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	if len(want) != DefaultMaxRetries {
		t.Fatalf("schedule covers %d retries; DefaultMaxRetries is %d", len(want), DefaultMaxRetries)
	}
	for attempt, w := range want {
		if got := b.Next(attempt, 0); got != w {
			t.Errorf("Next(%d) = %v; want %v", attempt, got, w)
		}
	}
	if got := b.Next(2, time.Second); got != time.Second {
		t.Errorf("daemon hint of 1s: Next(2) = %v; want 1s", got)
	}
}
