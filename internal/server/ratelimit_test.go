package server

import (
	"testing"
	"time"

	"github.com/typelesshq/typeless-core/internal/config"
)

func fixedLimiter(quotas map[string]int) (*rateLimiter, *time.Time) {
	l := newRateLimiter(config.RateLimitConfig{Enabled: true, Quotas: quotas})
	now := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	l.clock = func() time.Time { return now }
	return l, &now
}

func TestFixedWindowQuota(t *testing.T) {
	l, _ := fixedLimiter(map[string]int{"transcribe": 3})

	for i := 1; i <= 3; i++ {
		ok, _ := l.allow("transcribe", "1.2.3.4")
		if !ok {
			t.Fatalf("request %d must pass", i)
		}
	}
	ok, retry := l.allow("transcribe", "1.2.3.4")
	if ok {
		t.Fatal("request 4 must be limited")
	}
	if retry < 1 || retry > 60 {
		t.Fatalf("retry_after out of range: %d", retry)
	}
}

func TestWindowResets(t *testing.T) {
	l, now := fixedLimiter(map[string]int{"transcribe": 1})

	if ok, _ := l.allow("transcribe", "1.2.3.4"); !ok {
		t.Fatal("first request must pass")
	}
	if ok, _ := l.allow("transcribe", "1.2.3.4"); ok {
		t.Fatal("second request must be limited")
	}

	*now = now.Add(time.Minute)
	if ok, _ := l.allow("transcribe", "1.2.3.4"); !ok {
		t.Fatal("request in new window must pass")
	}
}

func TestSourcesAreIndependent(t *testing.T) {
	l, _ := fixedLimiter(map[string]int{"transcribe": 1})

	if ok, _ := l.allow("transcribe", "1.1.1.1"); !ok {
		t.Fatal("first source must pass")
	}
	if ok, _ := l.allow("transcribe", "2.2.2.2"); !ok {
		t.Fatal("second source has its own window")
	}
}

func TestClassesAreIndependent(t *testing.T) {
	l, _ := fixedLimiter(map[string]int{"transcribe": 1, "upload": 1})

	if ok, _ := l.allow("transcribe", "1.1.1.1"); !ok {
		t.Fatal("transcribe must pass")
	}
	if ok, _ := l.allow("upload", "1.1.1.1"); !ok {
		t.Fatal("upload class has its own counter")
	}
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	l := newRateLimiter(config.RateLimitConfig{Enabled: false})
	for i := 0; i < 1000; i++ {
		if ok, _ := l.allow("transcribe", "1.1.1.1"); !ok {
			t.Fatal("disabled limiter must never reject")
		}
	}
}

func TestUnknownClassGetsDefaultQuota(t *testing.T) {
	l, _ := fixedLimiter(map[string]int{})
	for i := 0; i < defaultQuota; i++ {
		if ok, _ := l.allow("mystery", "1.1.1.1"); !ok {
			t.Fatalf("request %d within default quota must pass", i+1)
		}
	}
	if ok, _ := l.allow("mystery", "1.1.1.1"); ok {
		t.Fatal("default quota must apply")
	}
}

func TestSweepDropsStaleWindows(t *testing.T) {
	l, now := fixedLimiter(map[string]int{"transcribe": 1})
	l.allow("transcribe", "1.1.1.1")
	*now = now.Add(2 * time.Minute)
	l.sweep()
	l.mu.Lock()
	remaining := len(l.counters)
	l.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected stale counters dropped, found %d", remaining)
	}
}
