package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// Generators
// =============================================================================

func clientKeyGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`10\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}`)
}

func configGenerator() *rapid.Generator[Config] {
	return rapid.Custom(func(t *rapid.T) Config {
		return Config{
			RPS:             rapid.Float64Range(0.001, 0.01).Draw(t, "rps"),
			Burst:           rapid.IntRange(1, 50).Draw(t, "burst"),
			CleanupInterval: time.Hour,
		}
	})
}

// =============================================================================
// Property: exactly Burst requests pass before refill
// =============================================================================

func testRateLimiter_BurstThenBlocked(t *rapid.T) {
	config := configGenerator().Draw(t, "config")
	rl := NewRateLimiter(config)
	defer rl.Stop()

	key := clientKeyGenerator().Draw(t, "key")
	for i := 0; i < config.Burst; i++ {
		if !rl.Allow(key) {
			t.Fatalf("request %d within burst %d was blocked", i+1, config.Burst)
		}
	}
	if rl.Allow(key) {
		t.Fatalf("request past burst %d was allowed", config.Burst)
	}
}

func TestRateLimiter_BurstThenBlocked(t *testing.T) {
	rapid.Check(t, testRateLimiter_BurstThenBlocked)
}

// =============================================================================
// Property: clients do not share buckets
// =============================================================================

func testRateLimiter_ClientIndependence(t *rapid.T) {
	config := configGenerator().Draw(t, "config")
	rl := NewRateLimiter(config)
	defer rl.Stop()

	a := clientKeyGenerator().Draw(t, "a")
	b := clientKeyGenerator().Filter(func(s string) bool { return s != a }).Draw(t, "b")

	for i := 0; i < config.Burst; i++ {
		rl.Allow(a)
	}
	if rl.Allow(a) {
		t.Fatalf("client a should be exhausted")
	}
	if !rl.Allow(b) {
		t.Fatalf("client b was throttled by client a's traffic")
	}
	if rl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", rl.Len())
	}
}

func TestRateLimiter_ClientIndependence(t *testing.T) {
	rapid.Check(t, testRateLimiter_ClientIndependence)
}

// =============================================================================
// Cleanup
// =============================================================================

func TestRateLimiter_CleanupDropsIdleOnly(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 1, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(2 * time.Minute)
	rl.Allow("10.0.0.2")

	rl.Cleanup()
	if rl.Len() != 1 {
		t.Fatalf("Len after cleanup = %d, want 1", rl.Len())
	}
	rl.mu.Lock()
	_, kept := rl.limiters["10.0.0.2"]
	rl.mu.Unlock()
	if !kept {
		t.Fatal("active limiter was cleaned up")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 0.001, Burst: 100, CleanupInterval: time.Hour})
	defer rl.Stop()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if rl.Allow("10.1.1.1") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	if got := allowed.Load(); got != 100 {
		t.Fatalf("allowed = %d, want exactly the burst of 100", got)
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(DefaultConfig)
	rl.Stop()
	rl.Stop()
}

// =============================================================================
// Middleware
// =============================================================================

func TestPostMiddleware(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour})
	defer rl.Stop()

	h := PostMiddleware(rl, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(method, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/runestone/default/user/login", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do(http.MethodPost, "10.0.0.1:5555"); rec.Code != http.StatusNoContent {
			t.Fatalf("POST %d status = %d", i+1, rec.Code)
		}
	}
	rec := do(http.MethodPost, "10.0.0.1:6666")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third POST status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	if rec := do(http.MethodGet, "10.0.0.1:5555"); rec.Code != http.StatusNoContent {
		t.Fatalf("GET must not be throttled, status = %d", rec.Code)
	}
	if rec := do(http.MethodPost, "10.0.0.2:5555"); rec.Code != http.StatusNoContent {
		t.Fatalf("other client throttled, status = %d", rec.Code)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.7:41000"
	if got := ClientKey(req); got != "192.0.2.7" {
		t.Fatalf("ClientKey = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientKey(req); got != "203.0.113.9" {
		t.Fatalf("ClientKey with XFF = %q", got)
	}
}
