package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"gpttoolsgw/internal/store"
)

// bearerRPCToken extracts the token from "Bearer <token>" or a bare
// header value, matching how the teacher's middleware/jwt.go reads the
// admin session token.
func bearerRPCToken(r *http.Request) string {
	v := r.Header.Get("X-Gpttools-Rpc-Token")
	if rest, ok := strings.CutPrefix(v, "Bearer "); ok {
		return rest
	}
	return v
}

// rpcRequest is one {id, method, params} call per the RPC surface
// listed for completeness in §6. The desktop UI shell that actually
// drives these methods is out of scope (§1); this dispatcher answers
// the handful of read-only methods backed by the gateway's own store
// and reports everything else as not implemented, rather than 404ing.
type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Message string `json:"message"`
}

// handleRPC authenticates the caller's X-Gpttools-Rpc-Token against
// rpcAuth (the same jwt.Manager the teacher uses to gate its admin API)
// and dispatches the small subset of RPC methods this package can serve
// directly from its own collaborators (account/apikey/requestlog
// listing); everything else (login flow, usage polling) belongs to the
// out-of-scope desktop shell collaborator and is reported as
// unimplemented.
func (g *Gateway) handleRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	g.metrics.RPCRequestsTotal.Inc()
	defer func() {
		g.metrics.RPCRequestDurationMillis.Observe(float64(time.Since(start).Milliseconds()))
	}()

	if g.rpcAuth == nil {
		g.metrics.RPCRequestsFailedTotal.Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := g.rpcAuth.Validate(bearerRPCToken(r)); err != nil {
		g.metrics.RPCRequestsFailedTotal.Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.metrics.RPCRequestsFailedTotal.Inc()
		http.Error(w, "malformed rpc request", http.StatusBadRequest)
		return
	}

	resp := rpcResponse{ID: req.ID}
	result, err := g.dispatchRPC(r.Context(), req.Method)
	if err != nil {
		g.metrics.RPCRequestsFailedTotal.Inc()
		resp.Error = &rpcError{Message: err.Error()}
	} else {
		resp.Result = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) dispatchRPC(ctx context.Context, method string) (any, error) {
	switch method {
	case "initialize":
		return map[string]string{"status": "ready"}, nil
	case "account/list":
		accts, err := g.accounts.ListActiveAccounts(ctx)
		if err != nil {
			return nil, err
		}
		return accts, nil
	case "apikey/list":
		lister, ok := g.apiKeys.(interface {
			ListAPIKeys(ctx context.Context) ([]*store.APIKey, error)
		})
		if !ok {
			return nil, errUnimplemented
		}
		return lister.ListAPIKeys(ctx)
	default:
		if strings.HasPrefix(method, "account/") || strings.HasPrefix(method, "apikey/") || strings.HasPrefix(method, "requestlog/") {
			return nil, errUnimplemented
		}
		return nil, errUnknownMethod
	}
}

var errUnimplemented = rpcPlainError("method not implemented by this collaborator")
var errUnknownMethod = rpcPlainError("unknown method")

type rpcPlainError string

func (e rpcPlainError) Error() string { return string(e) }
