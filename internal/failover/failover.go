// Package failover drives one client request across an ordered list of
// candidate accounts, adapting the teacher's retry executor
// (internal/retry) to the gateway's cooldown/inflight/route-hint model
// instead of a fixed attempt-count policy.
package failover

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"gpttoolsgw/internal/cooldown"
	"gpttoolsgw/internal/gwmetrics"
	"gpttoolsgw/internal/inflight"
	"gpttoolsgw/internal/routehint"
	"gpttoolsgw/internal/routequality"
	"gpttoolsgw/internal/selector"
)

// Outcome is what one attempt function call reports back to the
// driver. Challenge marks an upstream bot-challenge response (detected
// by the caller via reqhelpers.IsUpstreamChallengeResponse), which
// cools the account for the longer challenge window and is never
// retried against the same account.
type Outcome struct {
	Response  *http.Response
	Err       error
	Challenge bool
	// Final marks a non-challenge business response (§7's
	// UpstreamBusiness class) that the usage refresher found no reason
	// to fail over from: the driver forwards Response to the client
	// verbatim, at whatever status code it carries, instead of trying
	// the next candidate.
	Final bool
}

// AttemptFunc issues one upstream attempt against accountID. idx is the
// candidate's position in the ordered list (0 is the primary attempt;
// idx>0 callers are expected to strip session affinity headers, per
// transport.HeaderProfile.StripAffinity).
type AttemptFunc func(ctx context.Context, accountID string, idx int) Outcome

// Result is a successful attempt's response, plus a Release that must
// be called once the caller is completely done reading the response
// body (including a streamed body), since the inflight slot is held
// for the attempt's full lifetime, not just until headers arrive.
type Result struct {
	Response  *http.Response
	AccountID string
	Release   func()
}

// Driver orders and executes attempts for one request scope.
type Driver struct {
	selector *selector.Selector
	cooldown *cooldown.Registry
	inflight *inflight.Tracker
	hints    *routehint.Registry
	quality  *routequality.Registry
	metrics  *gwmetrics.Metrics
}

// New builds a Driver over the given collaborators. metrics may be nil
// in tests that don't care about the §6 failover/cooldown/inflight
// series.
func New(sel *selector.Selector, cd *cooldown.Registry, infl *inflight.Tracker, hints *routehint.Registry, quality *routequality.Registry, metrics *gwmetrics.Metrics) *Driver {
	return &Driver{selector: sel, cooldown: cd, inflight: infl, hints: hints, quality: quality, metrics: metrics}
}

func (d *Driver) incFailoverAttempt() {
	if d.metrics != nil {
		d.metrics.GatewayFailoverAttempts.Inc()
	}
}

func (d *Driver) incCooldownMark() {
	if d.metrics != nil {
		d.metrics.GatewayCooldownMarks.Inc()
	}
}

func (d *Driver) incInflightGauge(delta float64) {
	if d.metrics != nil {
		d.metrics.AccountInflightTotal.Add(delta)
	}
}

// Execute tries candidates in selector order until one succeeds (status
// < 400) or the list is exhausted. A candidate already in cooldown is
// skipped unless it is the last remaining candidate, in which case it
// is tried anyway rather than failing the request outright. Likewise
// an account at its inflight cap is skipped unless last.
func (d *Driver) Execute(ctx context.Context, scope string, accountIDs []string, attempt AttemptFunc) (*Result, error) {
	order := d.selector.Order(scope, accountIDs)
	if len(order) == 0 {
		return nil, fmt.Errorf("failover: no candidate accounts")
	}

	var errs *multierror.Error
	for idx, accountID := range order {
		last := idx == len(order)-1

		if d.cooldown.IsCooling(accountID) && !last {
			d.incFailoverAttempt()
			continue
		}

		guard := d.inflight.AcquireGuard(accountID)
		if guard == nil && !last {
			d.incFailoverAttempt()
			continue
		}
		if guard != nil {
			d.incInflightGauge(1)
		}
		release := func() {
			if guard != nil {
				d.incInflightGauge(-1)
				guard.Release()
			}
		}

		outcome := attempt(ctx, accountID, idx)

		if outcome.Final {
			return &Result{Response: outcome.Response, AccountID: accountID, Release: release}, nil
		}

		if outcome.Challenge {
			d.cooldown.MarkFor(accountID, cooldown.ChallengeLongSecs)
			d.incCooldownMark()
			d.quality.RecordChallenge403(scope, accountID)
			release()
			d.incFailoverAttempt()
			errs = multierror.Append(errs, fmt.Errorf("account %s: upstream challenge", accountID))
			continue
		}

		if outcome.Err != nil {
			d.cooldown.Mark(accountID, cooldown.ReasonNetwork)
			d.incCooldownMark()
			release()
			d.incFailoverAttempt()
			errs = multierror.Append(errs, fmt.Errorf("account %s: %w", accountID, outcome.Err))
			continue
		}

		status := outcome.Response.StatusCode
		if status < 400 {
			d.cooldown.Clear(accountID)
			d.hints.RememberSuccess(scope, accountID)
			d.quality.RecordSuccess2xx(scope, accountID)
			return &Result{Response: outcome.Response, AccountID: accountID, Release: release}, nil
		}

		reason := cooldown.ReasonForStatus(status)
		d.cooldown.Mark(accountID, reason)
		d.incCooldownMark()
		if reason == cooldown.ReasonRateLimited {
			d.quality.RecordThrottle429(scope, accountID)
		}
		log.Debug().Str("account_id", accountID).Int("status", status).Int("candidate_idx", idx).Msg("failover attempt failed")

		release()
		d.incFailoverAttempt()
		errs = multierror.Append(errs, fmt.Errorf("account %s: status %d", accountID, status))
	}

	return nil, errs.ErrorOrNil()
}
