package main

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_ReleasesBeforeReturning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}

	var mu sync.Mutex
	var calls []string
	record := func(name string) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
	}
	release := []func() error{
		func() error { time.Sleep(50 * time.Millisecond); record("extractor"); return nil },
		func() error { record("cache"); return io.ErrClosedPipe },
	}

	stop := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(srv, ln, stop, func() { record("drain") }, release, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	stop <- syscall.SIGTERM
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"drain", "extractor", "cache"}, calls)
}

func TestServe_ListenerErrorReturned(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	stop := make(chan os.Signal)
	err = serve(&http.Server{}, ln, stop, func() {}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
	close(stop)
}
