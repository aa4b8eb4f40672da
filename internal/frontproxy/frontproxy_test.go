package frontproxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backendAddr(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestNewProxiesRequestAndResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, `{"hello":"world"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	handler, err := New(Config{BackendAddr: backendAddr(t, backend)})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"hello":"world"}`))
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestNewStreamsResponseImmediately(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: first\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: second\n\n"))
		flusher.Flush()
	}))
	defer backend.Close()

	handler, err := New(Config{BackendAddr: backendAddr(t, backend)})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data: first")
	assert.Contains(t, rec.Body.String(), "data: second")
}

func TestNewRejectsOversizedBodyBeforeBackendSeesIt(t *testing.T) {
	var backendSawBody bool
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		backendSawBody = err == nil
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	handler, err := New(Config{BackendAddr: backendAddr(t, backend), MaxBodyBytes: 4})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("this body is far larger than the limit"))
	handler.ServeHTTP(rec, req)

	assert.False(t, backendSawBody)
}

func TestNewWithNoBodyLimitPassesThroughUnmodified(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer backend.Close()

	handler, err := New(Config{BackendAddr: backendAddr(t, backend)})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("arbitrarily large payload should pass"))
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "arbitrarily large payload should pass", rec.Body.String())
}

func TestNewRejectsInvalidBackendAddr(t *testing.T) {
	_, err := New(Config{BackendAddr: "://not-a-valid-host"})
	require.Error(t, err)
}
