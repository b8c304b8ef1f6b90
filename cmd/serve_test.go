package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"absent uses default", "/tasks", 50},
		{"valid value", "/tasks?limit=10", 10},
		{"zero allowed", "/tasks?limit=0", 0},
		{"negative falls back", "/tasks?limit=-5", 50},
		{"garbage falls back", "/tasks?limit=abc", 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			assert.Equal(t, tt.want, queryInt(r, "limit", 50))
		})
	}
}

// A SIGINT-style cancellation must not cut off requests already being
// served: shutdown drains on its own timeout, not on the dead signal context.
func TestGracefulShutdownDrainsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: mux}
	ctx, cancel := context.WithCancel(context.Background())

	shutdownDone := make(chan struct{})
	go func() {
		gracefulShutdown(ctx, srv)
		close(shutdownDone)
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	respErr := make(chan error, 1)
	go func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/slow", ln.Addr()))
		if err != nil {
			respErr <- err
			return
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			respErr <- fmt.Errorf("status %d", resp.StatusCode)
			return
		}
		respErr <- nil
	}()

	// Cancel only once the handler is mid-request.
	<-started
	cancel()

	select {
	case err := <-respErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-serveErr:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	<-shutdownDone
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, 200, map[string]string{"status": "ok"})

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
