// Package workerpool bounds how many client requests the backend
// listener serves concurrently, adapting the teacher's pond-based
// worker pool onto the gateway's cpu-derived sizing formula and the
// /__shutdown one-shot trigger instead of a JWT-gated admin endpoint.
package workerpool

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/shirou/gopsutil/v4/cpu"
)

// Sizing holds the worker-count and queue-depth factors read from config.
type Sizing struct {
	WorkerFactor int
	WorkerMin    int
	QueueFactor  int
	QueueMin     int
}

// Resolve computes worker_count = max(min, cpus*factor) and
// queue_size = max(min, worker_count*factor), matching the formula in
// §6's environment variable table.
func Resolve(s Sizing) (workers int, queueSize int) {
	cpus, err := cpu.Counts(true)
	if err != nil || cpus <= 0 {
		cpus = 4
	}
	workers = cpus * s.WorkerFactor
	if workers < s.WorkerMin {
		workers = s.WorkerMin
	}
	queueSize = workers * s.QueueFactor
	if queueSize < s.QueueMin {
		queueSize = s.QueueMin
	}
	return workers, queueSize
}

// Pool bounds concurrent HTTP handling: a fixed worker count draining a
// capacity-limited task queue, so an accept loop that keeps handing off
// requests eventually blocks (backpressure) instead of growing
// goroutines without limit.
type Pool struct {
	pool pond.Pool
}

// New builds a pool sized per Resolve.
func New(s Sizing) *Pool {
	workers, queueSize := Resolve(s)
	return &Pool{pool: pond.NewPool(workers, pond.WithQueueSize(queueSize))}
}

// Wrap adapts an http.Handler to run every request inside the pool: the
// calling goroutine (the stdlib server's per-connection goroutine)
// blocks until a worker slot is free, then blocks again until that
// worker has finished, so the outer http.Server's own connection limit
// composes correctly with this pool's concurrency cap.
func (p *Pool) Wrap(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := make(chan struct{})
		p.pool.Submit(func() {
			defer close(done)
			h.ServeHTTP(w, r)
		})
		<-done
	})
}

// StopAndWait drains in-flight work and releases pool resources.
func (p *Pool) StopAndWait() {
	p.pool.StopAndWait()
}

// shutdownPath is polled by TriggerShutdown and handled by
// ShutdownHandler.
const shutdownPath = "/__shutdown"

// ShutdownHandler returns the http.Handler for GET /__shutdown: it
// cancels ctx (via the supplied cancel func) and replies 200 before the
// listener actually stops accepting new connections.
func ShutdownHandler(cancel context.CancelFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("shutting down"))
		cancel()
	})
}

// TriggerShutdown opens a one-shot connection to addr's /__shutdown
// endpoint, the helper the spec describes for a supervisor process to
// stop a gateway instance it started.
func TriggerShutdown(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + shutdownPath)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// ListenLoopback opens a TCP listener on host:port (127.0.0.1:0 by
// default so the OS assigns an ephemeral port), refusing a non-loopback
// bind unless allowNonLoopback is set, per the spec's default-safe
// binding rule.
func ListenLoopback(addr string, allowNonLoopback bool) (net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if !allowNonLoopback && host != "" && host != "127.0.0.1" && host != "localhost" && host != "::1" {
		return nil, errNonLoopbackBind(addr)
	}
	return net.Listen("tcp", addr)
}

type errNonLoopbackBind string

func (e errNonLoopbackBind) Error() string {
	return "refusing non-loopback bind to " + string(e) + " without ALLOW_NON_LOOPBACK_LOGIN_ADDR"
}
