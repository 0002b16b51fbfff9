package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedRequest is a request captured by a fake server
type RecordedRequest struct {
	Path    string
	Header  http.Header
	Body    map[string]any
	RawBody []byte
}

// FakeServer answers every request with a configurable status and JSON
// body and records what it received
type FakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	body     any
	requests []RecordedRequest
}

// NewFakeServer starts a server closed automatically at test cleanup
func NewFakeServer(t *testing.T, status int, body any) *FakeServer {
	t.Helper()

	fs := &FakeServer{status: status, body: body}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *FakeServer) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)

	rec := RecordedRequest{Path: r.URL.Path, Header: r.Header.Clone(), RawBody: raw}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}

	fs.mu.Lock()
	fs.requests = append(fs.requests, rec)
	status, body := fs.status, fs.body
	fs.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// SetResponse changes the answer for subsequent requests
func (fs *FakeServer) SetResponse(status int, body any) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.status = status
	fs.body = body
}

// Requests returns a copy of every request received so far
func (fs *FakeServer) Requests() []RecordedRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]RecordedRequest, len(fs.requests))
	copy(out, fs.requests)
	return out
}

// RequestCount reports how many requests were received
func (fs *FakeServer) RequestCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.requests)
}
