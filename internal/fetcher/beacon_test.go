package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// balanceServer answers with balance = index*10 for every requested id not in skip.
type balanceServer struct {
	mu       sync.Mutex
	requests [][]string
	skip     map[string]bool
}

func (s *balanceServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != validatorBalancesPath {
		http.NotFound(w, r)
		return
	}
	ids := strings.Split(r.URL.Query().Get("id"), ",")

	s.mu.Lock()
	s.requests = append(s.requests, ids)
	s.mu.Unlock()

	data := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		if s.skip[id] {
			continue
		}
		n, _ := strconv.ParseUint(id, 10, 64)
		data = append(data, map[string]string{"index": id, "balance": strconv.FormatUint(n*10, 10)})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func TestGetBalancesBatching(t *testing.T) {
	backend := &balanceServer{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	b := NewBeacon(BeaconOptions{BaseURL: srv.URL + "/", Timeout: time.Second}, noopLogger())

	indices := make([]uint64, 0, 1100)
	for i := uint64(0); i < 1100; i++ {
		indices = append(indices, 5000+i)
	}

	balances, err := b.GetBalances(context.Background(), indices)
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}

	if len(backend.requests) != 3 {
		t.Fatalf("expected 3 requests for 1100 ids, got %d", len(backend.requests))
	}
	sizes := []int{512, 512, 76}
	seen := make(map[string]int)
	pos := 0
	for i, ids := range backend.requests {
		if len(ids) != sizes[i] {
			t.Fatalf("request %d carried %d ids, want %d", i, len(ids), sizes[i])
		}
		for _, id := range ids {
			if id != strconv.FormatUint(indices[pos], 10) {
				t.Fatalf("id %s out of order at position %d", id, pos)
			}
			seen[id]++
			pos++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("id %s requested %d times", id, n)
		}
	}

	if len(balances) != len(indices) {
		t.Fatalf("expected %d balances, got %d", len(indices), len(balances))
	}
	if balances["5000"] != "50000" || balances["6099"] != "60990" {
		t.Fatalf("unexpected balances at chunk edges: %q %q", balances["5000"], balances["6099"])
	}
}

func TestGetBalancesExactBatchBoundary(t *testing.T) {
	backend := &balanceServer{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	b := NewBeacon(BeaconOptions{BaseURL: srv.URL, BatchSize: 4}, noopLogger())
	if _, err := b.GetBalances(context.Background(), []uint64{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if len(backend.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(backend.requests))
	}
}

func TestGetBalancesDedupesIndices(t *testing.T) {
	backend := &balanceServer{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	b := NewBeacon(BeaconOptions{BaseURL: srv.URL}, noopLogger())
	balances, err := b.GetBalances(context.Background(), []uint64{9, 3, 9, 3, 1})
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if got := strings.Join(backend.requests[0], ","); got != "9,3,1" {
		t.Fatalf("expected deduped ids 9,3,1, got %s", got)
	}
	if len(balances) != 3 {
		t.Fatalf("expected 3 balances, got %d", len(balances))
	}
}

func TestGetBalancesEmpty(t *testing.T) {
	backend := &balanceServer{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	b := NewBeacon(BeaconOptions{BaseURL: srv.URL}, noopLogger())
	balances, err := b.GetBalances(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty input should not fail: %v", err)
	}
	if len(balances) != 0 || len(backend.requests) != 0 {
		t.Fatalf("empty input should not issue requests")
	}
}

func TestGetBalancesMissingIndex(t *testing.T) {
	backend := &balanceServer{skip: map[string]bool{"2": true}}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	b := NewBeacon(BeaconOptions{BaseURL: srv.URL}, noopLogger())
	balances, err := b.GetBalances(context.Background(), []uint64{1, 2, 3})
	if err != nil {
		t.Fatalf("missing index should not fail: %v", err)
	}
	if _, ok := balances["2"]; ok {
		t.Fatal("index 2 should be absent")
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
}

func TestGetBalancesFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"http 500": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 500, "message": "internal"})
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": [`))
		},
		"missing data": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		},
	}

	for name, handler := range cases {
		srv := httptest.NewServer(handler)
		b := NewBeacon(BeaconOptions{BaseURL: srv.URL}, noopLogger())
		balances, err := b.GetBalances(context.Background(), []uint64{1, 2})
		srv.Close()

		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("%s: expected FetchError, got %T", name, err)
		}
		if balances != nil {
			t.Fatalf("%s: no partial result expected", name)
		}
	}
}

func TestGetBalancesSecondBatchFailureDropsAll(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":"1","balance":"10"}]}`))
	}))
	defer srv.Close()

	b := NewBeacon(BeaconOptions{BaseURL: srv.URL, BatchSize: 1}, noopLogger())
	balances, err := b.GetBalances(context.Background(), []uint64{1, 2, 3})
	if err == nil || balances != nil {
		t.Fatalf("expected failure without partial result, got %v %v", balances, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("fetch should stop at the failing batch, got %d calls", calls)
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewBeacon(BeaconOptions{
		BaseURL:            srv.URL,
		BreakerMaxFailures: 2,
		BreakerOpenTimeout: time.Hour,
	}, noopLogger())

	for i := 0; i < 3; i++ {
		if _, err := b.GetBalances(context.Background(), []uint64{1}); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("open breaker should short-circuit the third call, server saw %d", got)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	backend := &balanceServer{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	b := NewBeacon(BeaconOptions{BaseURL: srv.URL, BatchSize: 1, RequestsPerSecond: 0.001, Burst: 1}, noopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.GetBalances(ctx, []uint64{1, 2})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError when the limiter cannot wait, got %v", err)
	}
	if len(backend.requests) != 1 {
		t.Fatalf("only the burst request should reach the server, got %d", len(backend.requests))
	}
}
