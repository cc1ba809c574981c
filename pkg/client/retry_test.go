package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRetryDoRetriesOn500(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err := retryDo(ts.Client(), req, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("retryDo: %v", err)
	}
	defer resp.Body.Close()
	if calls != 3 || resp.StatusCode != http.StatusOK {
		t.Fatalf("calls = %d, status = %d", calls, resp.StatusCode)
	}
}

func TestRetryDoDoesNotRetry4xx(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err := retryDo(ts.Client(), req, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("retryDo: %v", err)
	}
	resp.Body.Close()
	if calls != 1 || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("calls = %d, status = %d", calls, resp.StatusCode)
	}
}

func TestRetryDoReturnsLastResponseReadable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err := retryDo(ts.Client(), req, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("retryDo: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests || string(body) != "slow down" {
		t.Fatalf("status = %d, body = %q", resp.StatusCode, body)
	}
}

func TestRetryDoReplaysBody(t *testing.T) {
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader("want"))
	resp, err := retryDo(ts.Client(), req, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("retryDo: %v", err)
	}
	resp.Body.Close()
	if len(bodies) != 2 || bodies[0] != "want" || bodies[1] != "want" {
		t.Fatalf("bodies = %q", bodies)
	}
}

func TestRetryDoStopsOnCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := retryDo(ts.Client(), req, 5, time.Hour)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("retryDo did not stop on cancel")
	}
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
	if got := retryAfter(resp); got != 3*time.Second {
		t.Fatalf("retryAfter = %v", got)
	}
	resp.Header.Set("Retry-After", "soon")
	if got := retryAfter(resp); got != 0 {
		t.Fatalf("retryAfter = %v", got)
	}
}
