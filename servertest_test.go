package webfile

import (
	"bytes"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// testData is random data shared by the tests.
var testData = func() []byte {
	b := make([]byte, 64*1024)
	rand.Read(b)
	return b
}()

// recorder captures the requests a test server received.
type recorder struct {
	mu       sync.Mutex
	methods  []string
	ranges   []string
	requests int
}

func (r *recorder) record(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests += 1
	r.methods = append(r.methods, req.Method)
	r.ranges = append(r.ranges, req.Header.Get("Range"))
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

func (r *recorder) gets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.methods {
		if m == http.MethodGet {
			n++
		}
	}
	return n
}

func (r *recorder) getRanges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for i, m := range r.methods {
		if m == http.MethodGet {
			out = append(out, r.ranges[i])
		}
	}
	return out
}

// newRangeServer serves data with full Range support (via ServeContent).
func newRangeServer(data []byte) (*httptest.Server, *recorder) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		http.ServeContent(w, r, "test.bin", time.Unix(0, 0), bytes.NewReader(data))
	}))
	return srv, rec
}

// newNoRangeServer serves data ignoring any Range header and without
// advertising range support.
func newNoRangeServer(data []byte) (*httptest.Server, *recorder) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write(data)
		}
	}))
	return srv, rec
}

// newFlakyServer fails the first failures GET requests with a 500.
func newFlakyServer(data []byte, failures int) (*httptest.Server, *recorder) {
	rec := &recorder{}
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		if r.Method == http.MethodGet {
			mu.Lock()
			fail := failures > 0
			if fail {
				failures--
			}
			mu.Unlock()
			if fail {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
		}
		http.ServeContent(w, r, "test.bin", time.Unix(0, 0), bytes.NewReader(data))
	}))
	return srv, rec
}

// testClient returns a client with fast retries suitable for tests.
func testClient() *Client {
	c := NewClient()
	c.Retry = RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Jitter:          0,
	}
	return c
}
