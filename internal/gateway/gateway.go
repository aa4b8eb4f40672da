// Package gateway dispatches inbound HTTP requests: OPTIONS preflight,
// /health, /metrics, /rpc, /auth/callback, and the forward path that
// ties together validation, protocol adaptation, candidate selection,
// and the failover driver. This is the teacher's cmd/server route
// dispatch and enhanced proxy handler, generalized onto the gateway's
// own validate/rewrite/protocol/selector/failover pipeline; the /rpc
// surface keeps the teacher's JWT manager as its auth boundary instead
// of the teacher's session/admin-key scheme.
package gateway

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"gpttoolsgw/internal/counttokens"
	"gpttoolsgw/internal/failover"
	"gpttoolsgw/internal/gwmetrics"
	"gpttoolsgw/internal/protocol"
	"gpttoolsgw/internal/reqgate"
	"gpttoolsgw/internal/reqhelpers"
	"gpttoolsgw/internal/rewrite"
	"gpttoolsgw/internal/routehint"
	"gpttoolsgw/internal/store"
	"gpttoolsgw/internal/tokenexchange"
	"gpttoolsgw/internal/tracelog"
	"gpttoolsgw/internal/transport"
	"gpttoolsgw/internal/usagerefresh"
	"gpttoolsgw/internal/validate"
	"gpttoolsgw/pkg/jwt"
)

// hopByHopHeaders are stripped from every upstream response before it is
// written back to the client, per RFC 7230 §6.1 plus the provider's own
// chunking/encoding headers that the Go client already decoded.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Content-Length",
	"Content-Encoding",
}

// AccountStore is the account-side persistence dependency.
type AccountStore interface {
	ListActiveAccounts(ctx context.Context) ([]*store.Account, error)
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	TouchAccountLastUsed(ctx context.Context, id string) error
}

// RequestLogStore records one row per finished request.
type RequestLogStore interface {
	CreateRequestLog(log *store.RequestLog) error
}

// Config bundles the static settings the gateway entry point needs.
type Config struct {
	UpstreamBaseURL        string
	UpstreamFallbackBase   string
	UpstreamCookie         string
	RequestGateWaitTimeout time.Duration
	TraceBodyPreviewBytes  int
}

// Gateway is the HTTP entry point wiring validation, protocol
// adaptation, selection, and failover together for every client call.
type Gateway struct {
	cfg Config

	accounts AccountStore
	apiKeys  validate.APIKeyLookup
	logs     RequestLogStore
	exchange *tokenexchange.Cache
	failover *failover.Driver
	usage    *usagerefresh.Refresher
	hints    *routehint.Registry
	gate     *reqgate.Gate
	http     *transport.Client
	metrics  *gwmetrics.Metrics
	trace    *tracelog.Logger
	rpcAuth  *jwt.Manager
}

// New builds a Gateway from its collaborators. rpcAuth validates the
// bearer token callers present on POST /rpc; a nil rpcAuth disables the
// RPC surface entirely (every call returns 401).
func New(
	cfg Config,
	accounts AccountStore,
	apiKeys validate.APIKeyLookup,
	logs RequestLogStore,
	exchange *tokenexchange.Cache,
	fo *failover.Driver,
	usage *usagerefresh.Refresher,
	hints *routehint.Registry,
	gate *reqgate.Gate,
	httpClient *transport.Client,
	metrics *gwmetrics.Metrics,
	trace *tracelog.Logger,
	rpcAuth *jwt.Manager,
) *Gateway {
	return &Gateway{
		cfg: cfg, accounts: accounts, apiKeys: apiKeys, logs: logs,
		exchange: exchange, failover: fo, usage: usage, hints: hints,
		gate: gate, http: httpClient, metrics: metrics, trace: trace,
		rpcAuth: rpcAuth,
	}
}

// ServeHTTP dispatches by method/path, matching §6's external surface.
// Every request runs inside a pond worker goroutine rather than
// net/http's own per-connection goroutine, so a panic here would take
// the whole process down without this recover; it turns an uncaught
// panic into one failed request instead.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("path", r.URL.Path).Bytes("stack", debug.Stack()).Msg("gateway panic recovered")
			g.writeError(w, http.StatusInternalServerError, "api_error", "internal error")
		}
	}()

	switch {
	case r.Method == http.MethodOptions:
		g.handleOptions(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		g.handleHealth(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/metrics":
		g.metrics.Handler().ServeHTTP(w, r)
	case r.URL.Path == "/rpc" && r.Method == http.MethodPost:
		g.handleRPC(w, r)
	case strings.HasPrefix(r.URL.Path, "/auth/callback"):
		g.handleAuthCallback(w, r)
	default:
		g.handleForward(w, r)
	}
}

func (g *Gateway) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleAuthCallback is a collaborator-level stub: the OAuth browser
// flow and its PKCE/device callback server are out of scope (§1), but
// the route exists so a client pointed at this gateway's base URL never
// 404s mid-login.
func (g *Gateway) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login complete, you may close this window"))
}

// handleForward is the main request path: L -> J -> K -> H -> I -> L.
func (g *Gateway) handleForward(w http.ResponseWriter, r *http.Request) {
	guard := g.metrics.BeginGatewayRequest()
	defer guard.Done()

	traceID := tracelog.NewTraceID(time.Now())
	g.trace.Emit(tracelog.EventRequestStart, "trace_id", traceID, "path", r.URL.Path, "method", r.Method)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	g.trace.Emit(tracelog.EventRequestBody, "trace_id", traceID, "bytes", itoa(len(body)))

	ctx := r.Context()
	req, err := validate.Prepare(ctx, g.apiKeys, r.Method, r.URL.Path, r.Header, body)
	if err != nil {
		g.respondValidationError(w, r.URL.Path, err)
		return
	}

	proto := protocol.ProtocolType(req.Key.Protocol)

	if counttokens.Applies(proto, req.Method, req.Path) {
		g.writeCountTokens(w, req.Body, req)
		return
	}

	scope := routehint.Key(req.Key.ID, req.Path, req.ModelForLog)
	lock := g.gate.Lock(scope)
	waitStart := time.Now()
	g.trace.Emit(tracelog.EventRequestGateWait, "trace_id", traceID, "scope", scope)
	held := g.acquireGateLock(lock, g.cfg.RequestGateWaitTimeout)
	if held {
		defer lock.Unlock()
		g.trace.Emit(tracelog.EventRequestGateAcquire, "trace_id", traceID, "scope", scope, "wait_ms", itoa(int(time.Since(waitStart).Milliseconds())))
	} else {
		// The gate only coordinates route-hint/quality bookkeeping
		// fairness; a request that waited past the configured timeout
		// proceeds unserialized rather than blocking indefinitely.
		g.trace.Emit(tracelog.EventRequestGateSkip, "trace_id", traceID, "scope", scope)
	}

	accountIDs, err := g.candidateAccountIDs(ctx, req.Key)
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, "api_error", "failed to list accounts")
		return
	}
	if len(accountIDs) == 0 {
		g.writeError(w, http.StatusServiceUnavailable, "overloaded_error", "no candidate accounts available")
		return
	}

	result, err := g.failover.Execute(ctx, scope, accountIDs, g.attempt(ctx, traceID, req, proto, r.Header))
	statusCode := 0
	var candidateSwitches int
	if err != nil {
		g.writeError(w, http.StatusBadGateway, "api_error", err.Error())
		g.writeRequestLog(req, "", 0, 0, time.Since(waitStart), err.Error())
		g.trace.Emit(tracelog.EventRequestFinal, "trace_id", traceID, "status", "error")
		return
	}
	defer result.Release()
	statusCode = result.Response.StatusCode

	g.writeUpstreamResponse(w, result.Response, proto, req)
	g.writeRequestLog(req, result.AccountID, statusCode, candidateSwitches, time.Since(waitStart), "")
	g.trace.Emit(tracelog.EventRequestFinal, "trace_id", traceID, "status", itoa(statusCode), "account_id", result.AccountID)
}

func (g *Gateway) candidateAccountIDs(ctx context.Context, key *store.APIKey) ([]string, error) {
	if key.AccountID.Valid && key.AccountID.String != "" {
		acct, err := g.accounts.GetAccount(ctx, key.AccountID.String)
		if err != nil {
			return nil, err
		}
		if acct == nil || !acct.Active() {
			return nil, nil
		}
		return []string{acct.ID}, nil
	}
	accts, err := g.accounts.ListActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(accts))
	for _, a := range accts {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// statelessRetryDelay403 is the mandatory pause before a stateless retry
// against a 403, giving a transient block a moment to clear (§4.I).
const statelessRetryDelay403 = 250 * time.Millisecond

// isStatelessRetryStatus reports whether a status warrants one stateless
// retry (same candidate, same account, affinity headers stripped, a
// fresh Session_id) before the failover driver treats the attempt as
// failed and moves to the next candidate.
func isStatelessRetryStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound
}

// attempt builds the failover.AttemptFunc for one validated request.
func (g *Gateway) attempt(ctx context.Context, traceID string, req *validate.Request, proto protocol.ProtocolType, incomingHeader http.Header) failover.AttemptFunc {
	return func(ctx context.Context, accountID string, idx int) failover.Outcome {
		g.trace.Emit(tracelog.EventCandidateStart, "trace_id", traceID, "account_id", accountID, "idx", itoa(idx))

		acct, err := g.accounts.GetAccount(ctx, accountID)
		if err != nil {
			return failover.Outcome{Err: err}
		}
		if acct == nil {
			return failover.Outcome{Err: errors.New("account not found")}
		}

		upstreamBody, upstreamPath, err := g.translateRequest(req, proto)
		if err != nil {
			return failover.Outcome{Err: err}
		}

		isChatGPTBackend := strings.Contains(g.cfg.UpstreamBaseURL, "backend-api")
		canonical, alternate := rewrite.ComputeUpstreamURL(g.cfg.UpstreamBaseURL, upstreamPath, isChatGPTBackend)

		bearer, err := g.resolveBearer(ctx, acct)
		if err != nil {
			return failover.Outcome{Err: err}
		}

		forceStrip := false
		resp, err := g.doUpstream(ctx, canonical, upstreamBody, acct, bearer, idx, req, incomingHeader, forceStrip)
		if err == nil && alternate != "" && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound) {
			_ = resp.Body.Close()
			resp, err = g.doUpstream(ctx, alternate, upstreamBody, acct, bearer, idx, req, incomingHeader, forceStrip)
		}
		if err != nil {
			return failover.Outcome{Err: err}
		}

		// A 401/403/404 on the primary candidate's first shot gets one
		// stateless retry against the same account before the driver
		// considers the candidate failed: same account, session affinity
		// headers stripped, a fresh Session_id (§4.I). idx>0 candidates
		// already stripped affinity on their first attempt, so they get
		// no second chance here.
		if idx == 0 && !forceStrip && isStatelessRetryStatus(resp.StatusCode) &&
			!reqhelpers.IsUpstreamChallengeResponse(resp.StatusCode, resp.Header.Get("Content-Type")) {
			if resp.StatusCode == http.StatusForbidden {
				time.Sleep(statelessRetryDelay403)
			}
			_ = resp.Body.Close()
			forceStrip = true
			resp, err = g.doUpstream(ctx, canonical, upstreamBody, acct, bearer, idx, req, incomingHeader, forceStrip)
			if err != nil {
				return failover.Outcome{Err: err}
			}
		}

		challenge := reqhelpers.IsUpstreamChallengeResponse(resp.StatusCode, resp.Header.Get("Content-Type"))
		g.trace.Emit(tracelog.EventAttemptResult, "trace_id", traceID, "account_id", accountID, "status", itoa(resp.StatusCode), "challenge", boolStr(challenge))
		if challenge {
			_ = resp.Body.Close()
			return failover.Outcome{Challenge: true}
		}
		if resp.StatusCode >= 400 && g.usage != nil {
			// Non-challenge business error (§7's UpstreamBusiness class):
			// an account not yet flagged unavailable by the usage
			// refresher gets its upstream response forwarded to the
			// client verbatim rather than failed over.
			if !g.usage.IsUnavailable(ctx, accountID) {
				return failover.Outcome{Response: resp, Final: true}
			}
		}
		return failover.Outcome{Response: resp}
	}
}

// translateRequest maps the validated request into the upstream wire
// shape: the anthropic_native protocol builds a Responses request from
// the Anthropic body; openai_compat forwards the body unchanged.
func (g *Gateway) translateRequest(req *validate.Request, proto protocol.ProtocolType) (body []byte, path string, err error) {
	if proto != protocol.ProtocolAnthropicNative || req.Path != "/v1/messages" {
		return req.Body, req.Path, nil
	}
	out, err := protocol.BuildResponsesRequest(req.Body, protocol.BuildOptions{})
	if err != nil {
		return nil, "", err
	}
	b, err := marshalJSON(out)
	if err != nil {
		return nil, "", err
	}
	return b, "/v1/responses", nil
}

func (g *Gateway) resolveBearer(ctx context.Context, acct *store.Account) (string, error) {
	if acct.APIKeyAccessToken != "" {
		return acct.APIKeyAccessToken, nil
	}
	if acct.IDToken == "" {
		return "", errors.New("account has no usable credential")
	}
	tok := &tokenexchange.Token{AccountID: acct.ID, IDToken: acct.IDToken, APIKeyAccessToken: acct.APIKeyAccessToken}
	return g.exchange.GetOrExchange(ctx, tok)
}

func (g *Gateway) doUpstream(ctx context.Context, url string, body []byte, acct *store.Account, bearer string, idx int, req *validate.Request, incomingHeader http.Header, forceStrip bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	stripAffinity := idx > 0 || forceStrip

	// Copy surviving incoming headers onto the outbound request first;
	// profile.Apply below overwrites every canonical codex header it
	// owns, so passthrough only ever affects headers codex doesn't set
	// itself (§4.A/§4.E).
	for name, values := range incomingHeader {
		drop := reqhelpers.ShouldDropIncomingHeader(name)
		if !drop && stripAffinity {
			drop = reqhelpers.ShouldDropIncomingHeaderForFailover(name)
		}
		if drop {
			continue
		}
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	stream := reqhelpers.ExtractRequestStream(body)
	accountHeaderID := acct.ChatGPTAccountID
	if accountHeaderID == "" {
		accountHeaderID = acct.WorkspaceID
	}
	profile := transport.HeaderProfile{
		AuthToken:        bearer,
		Stream:           stream,
		ChatGPTAccountID: accountHeaderID,
		Cookie:           g.cfg.UpstreamCookie,
		ConversationID:   incomingHeader.Get("Conversation_id"),
		TurnState:        incomingHeader.Get("X-Codex-Turn-State"),
		StripAffinity:    stripAffinity,
	}
	if idx == 0 && !forceStrip {
		promptCacheKey := gjsonString(body, "prompt_cache_key")
		profile.SessionID = transport.ResolveSessionID(incomingHeader.Get("Session_id"), promptCacheKey)
	} else {
		profile.SessionID = transport.FreshSessionID()
	}
	profile.Apply(httpReq)

	return g.http.Do(httpReq)
}

// writeUpstreamResponse writes resp back to the client, translating the
// body through the protocol adapter when the key's protocol requires it.
func (g *Gateway) writeUpstreamResponse(w http.ResponseWriter, resp *http.Response, proto protocol.ProtocolType, req *validate.Request) {
	defer resp.Body.Close()

	for name, values := range resp.Header {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}

	if proto != protocol.ProtocolAnthropicNative {
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 400 {
		upstreamBody, _ := io.ReadAll(resp.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(protocol.ConvertErrorBody(upstreamBody))
		return
	}

	if strings.HasPrefix(contentType, "text/event-stream") {
		if !req.IsStream {
			// The upstream call always sends stream:true (§4.F); a
			// client that asked for stream:false still gets one JSON
			// body, aggregated from the SSE frames rather than passed
			// through raw.
			aggregated, err := protocol.AggregateStream(resp.Body)
			if err != nil {
				g.writeError(w, http.StatusBadGateway, "api_error", err.Error())
				return
			}
			out, err := marshalJSON(aggregated)
			if err != nil {
				g.writeError(w, http.StatusInternalServerError, "api_error", "failed encoding response")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(out)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		translator := protocol.NewStreamTranslator(w, func() {
			if flusher != nil {
				flusher.Flush()
			}
		})
		_ = translator.Run(resp.Body)
		return
	}

	upstreamBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.writeError(w, http.StatusBadGateway, "api_error", "failed reading upstream response")
		return
	}
	converted, err := protocol.ConvertJSONToAnthropic(upstreamBody)
	if err != nil {
		g.writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}
	out, err := marshalJSON(converted)
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, "api_error", "failed encoding response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (g *Gateway) writeCountTokens(w http.ResponseWriter, body []byte, req *validate.Request) {
	resp := counttokens.Response{InputTokens: counttokens.Estimate(body)}
	out, _ := marshalJSON(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
	g.writeRequestLog(req, "", http.StatusOK, 0, 0, "")
}

func (g *Gateway) writeRequestLog(req *validate.Request, accountID string, status, switches int, duration time.Duration, errMsg string) {
	if g.logs == nil {
		return
	}
	rl := &store.RequestLog{
		ID:                tracelog.NewTraceID(time.Now()),
		APIKeyID:          sql.NullString{String: req.Key.ID, Valid: true},
		Path:              req.Path,
		StatusCode:        status,
		CandidateSwitches: switches,
		DurationMs:        sql.NullInt64{Int64: duration.Milliseconds(), Valid: duration > 0},
	}
	if accountID != "" {
		rl.AccountID = sql.NullString{String: accountID, Valid: true}
	}
	if req.ModelForLog != "" {
		rl.Model = sql.NullString{String: req.ModelForLog, Valid: true}
	}
	if errMsg != "" {
		rl.Error = sql.NullString{String: errMsg, Valid: true}
	}
	if err := g.logs.CreateRequestLog(rl); err != nil {
		log.Warn().Err(err).Msg("failed to write request log")
	}
}

// writeValidationErrorLog records the one RequestLog row a rejected
// request still owes (§7 Scenario 1) for every validate.Prepare
// failure except a missing key, which never reached a stored key row
// at all and is excused from logging (P1).
func (g *Gateway) writeValidationErrorLog(path string, status int, errMsg string) {
	if g.logs == nil {
		return
	}
	rl := &store.RequestLog{
		ID:         tracelog.NewTraceID(time.Now()),
		Path:       path,
		StatusCode: status,
		Error:      sql.NullString{String: errMsg, Valid: true},
	}
	if err := g.logs.CreateRequestLog(rl); err != nil {
		log.Warn().Err(err).Msg("failed to write request log")
	}
}

// respondValidationError maps a validate.Prepare failure to its HTTP
// status per §4.J/§7's ClientAuth class: missing key is 401 with no
// upstream traffic and no log row (P1); a key hash that matched
// nothing, and a key that matched but is disabled, are both 403 and
// both logged; any other failure is a logged 400.
func (g *Gateway) respondValidationError(w http.ResponseWriter, path string, err error) {
	switch {
	case errors.Is(err, validate.ErrMissingAPIKey):
		g.writeError(w, http.StatusUnauthorized, "authentication_error", err.Error())
	case errors.Is(err, validate.ErrInvalidAPIKey):
		g.writeError(w, http.StatusForbidden, "authentication_error", err.Error())
		g.writeValidationErrorLog(path, http.StatusForbidden, err.Error())
	case errors.Is(err, validate.ErrAPIKeyDisabled):
		g.writeError(w, http.StatusForbidden, "permission_error", err.Error())
		g.writeValidationErrorLog(path, http.StatusForbidden, err.Error())
	default:
		g.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		g.writeValidationErrorLog(path, http.StatusBadRequest, err.Error())
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, errType, message string) {
	body := protocol.AnthropicErrorBody{Type: "error", Error: protocol.AnthropicErrorInfo{Type: errType, Message: message}}
	out, _ := marshalJSON(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
