package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies limiter creation for the supported rates.
func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		bytesPerSecond uint64
		maxRequest     int
		wantNil        bool
		wantBurst      int
	}{
		{name: "unlimited", bytesPerSecond: 0, maxRequest: 4096, wantNil: true},
		{name: "rate above chunk", bytesPerSecond: 1 << 20, maxRequest: 4096, wantBurst: 1 << 20},
		{name: "chunk above rate", bytesPerSecond: 1024, maxRequest: 65536, wantBurst: 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.bytesPerSecond, tt.maxRequest)
			if tt.wantNil {
				if limiter != nil {
					t.Fatal("expected nil limiter for unlimited rate")
				}
				return
			}
			if limiter == nil {
				t.Fatal("New() returned nil")
			}
			if got := limiter.limiter.Burst(); got != tt.wantBurst {
				t.Fatalf("burst = %d, want %d", got, tt.wantBurst)
			}
		})
	}
}

// TestNilLimiterNeverWaits verifies the unlimited limiter is a no-op.
func TestNilLimiterNeverWaits(t *testing.T) {
	var limiter *RateLimiter

	if err := limiter.WaitN(context.Background(), 1<<30); err != nil {
		t.Fatalf("nil limiter returned error: %v", err)
	}
	if !limiter.Allow(1 << 30) {
		t.Fatal("nil limiter should always allow")
	}
}

// TestWaitNCancellation verifies WaitN respects context cancellation.
func TestWaitNCancellation(t *testing.T) {
	limiter := New(10, 10)

	// Drain the bucket
	if !limiter.Allow(10) {
		t.Fatal("initial burst should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.WaitN(ctx, 10); err == nil {
		t.Fatal("expected WaitN to fail once the context expires")
	}
}

// TestWaitNExceedsBurst verifies oversized requests are rejected instead of blocking.
func TestWaitNExceedsBurst(t *testing.T) {
	limiter := New(100, 100)

	if err := limiter.WaitN(context.Background(), 101); err == nil {
		t.Fatal("expected error for request above burst")
	}
}
