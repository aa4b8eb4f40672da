package workerpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAppliesMinimums(t *testing.T) {
	workers, queueSize := Resolve(Sizing{WorkerFactor: 1, WorkerMin: 100, QueueFactor: 4, QueueMin: 10})
	assert.Equal(t, 100, workers)
	assert.Equal(t, 400, queueSize)
}

func TestResolveScalesWithFactor(t *testing.T) {
	workers, queueSize := Resolve(Sizing{WorkerFactor: 2, WorkerMin: 1, QueueFactor: 8, QueueMin: 1})
	assert.GreaterOrEqual(t, workers, 2)
	assert.Equal(t, workers*8, queueSize)
}

func TestWrapRunsHandlerAndReturnsResponse(t *testing.T) {
	pool := New(Sizing{WorkerFactor: 1, WorkerMin: 2, QueueFactor: 4, QueueMin: 4})
	defer pool.StopAndWait()

	handler := pool.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("brewed"))
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "brewed", rec.Body.String())
}

func TestListenLoopbackRefusesNonLoopbackByDefault(t *testing.T) {
	_, err := ListenLoopback("0.0.0.0:0", false)
	require.Error(t, err)
}

func TestListenLoopbackAllowsExplicitOverride(t *testing.T) {
	ln, err := ListenLoopback("0.0.0.0:0", true)
	require.NoError(t, err)
	defer ln.Close()
}

func TestListenLoopbackAcceptsLocalhost(t *testing.T) {
	ln, err := ListenLoopback("127.0.0.1:0", false)
	require.NoError(t, err)
	defer ln.Close()
}

func TestShutdownHandlerCancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := ShutdownHandler(cancel)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, shutdownPath, nil)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled by shutdown handler")
	}
}

func TestTriggerShutdownHitsRealListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mux := http.NewServeMux()
	mux.Handle(shutdownPath, ShutdownHandler(cancel))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := TriggerShutdown(srv.Listener.Addr().String())
	require.NoError(t, err)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled after TriggerShutdown")
	}
}
