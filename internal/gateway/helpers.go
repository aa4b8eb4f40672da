package gateway

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

func gjsonString(body []byte, path string) string {
	return gjson.GetBytes(body, path).String()
}

// acquireGateLock tries to acquire lock within timeout, polling with
// TryLock since sync.Mutex has no deadline-aware Lock. A non-positive
// timeout acquires immediately via TryLock, never blocking.
func (g *Gateway) acquireGateLock(lock *sync.Mutex, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if lock.TryLock() {
			return true
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func boolStr(b bool) string {
	return strconv.FormatBool(b)
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
