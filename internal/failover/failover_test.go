package failover

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpttoolsgw/internal/cooldown"
	"gpttoolsgw/internal/inflight"
	"gpttoolsgw/internal/routehint"
	"gpttoolsgw/internal/routequality"
	"gpttoolsgw/internal/selector"
)

func newDriver() *Driver {
	cd := cooldown.NewRegistry()
	infl := inflight.New(0)
	hints := routehint.New()
	quality := routequality.New()
	sel := selector.New(cd, infl, hints, quality)
	return New(sel, cd, infl, hints, quality, nil)
}

func TestExecuteReturnsFirstSuccess(t *testing.T) {
	d := newDriver()
	result, err := d.Execute(context.Background(), "scope", []string{"acct-a"}, func(ctx context.Context, accountID string, idx int) Outcome {
		return Outcome{Response: &http.Response{StatusCode: 200}}
	})
	require.NoError(t, err)
	assert.Equal(t, "acct-a", result.AccountID)
	result.Release()
}

func TestExecuteFallsOverOnFailure(t *testing.T) {
	d := newDriver()
	tried := []string{}
	result, err := d.Execute(context.Background(), "scope", []string{"acct-a", "acct-b"}, func(ctx context.Context, accountID string, idx int) Outcome {
		tried = append(tried, accountID)
		if accountID == "acct-a" {
			return Outcome{Response: &http.Response{StatusCode: 500}}
		}
		return Outcome{Response: &http.Response{StatusCode: 200}}
	})
	require.NoError(t, err)
	assert.Equal(t, "acct-b", result.AccountID)
	assert.Equal(t, []string{"acct-a", "acct-b"}, tried)
	result.Release()
}

func TestExecuteReturnsErrorWhenAllCandidatesFail(t *testing.T) {
	d := newDriver()
	_, err := d.Execute(context.Background(), "scope", []string{"acct-a", "acct-b"}, func(ctx context.Context, accountID string, idx int) Outcome {
		return Outcome{Response: &http.Response{StatusCode: 503}}
	})
	assert.Error(t, err)
}

func TestExecuteSkipsCoolingAccountUnlessLast(t *testing.T) {
	d := newDriver()
	d.cooldown.Mark("acct-a", cooldown.ReasonRateLimited)

	tried := []string{}
	result, err := d.Execute(context.Background(), "scope", []string{"acct-a", "acct-b"}, func(ctx context.Context, accountID string, idx int) Outcome {
		tried = append(tried, accountID)
		return Outcome{Response: &http.Response{StatusCode: 200}}
	})
	require.NoError(t, err)
	assert.Equal(t, "acct-b", result.AccountID)
	assert.Equal(t, []string{"acct-b"}, tried)
	result.Release()
}

func TestExecuteTriesLastCandidateEvenWhileCooling(t *testing.T) {
	d := newDriver()
	d.cooldown.Mark("acct-a", cooldown.ReasonRateLimited)

	result, err := d.Execute(context.Background(), "scope", []string{"acct-a"}, func(ctx context.Context, accountID string, idx int) Outcome {
		return Outcome{Response: &http.Response{StatusCode: 200}}
	})
	require.NoError(t, err)
	assert.Equal(t, "acct-a", result.AccountID)
	result.Release()
}

func TestExecuteForwardsFinalOutcomeVerbatimWithoutFailover(t *testing.T) {
	d := newDriver()
	tried := []string{}
	result, err := d.Execute(context.Background(), "scope", []string{"acct-a", "acct-b"}, func(ctx context.Context, accountID string, idx int) Outcome {
		tried = append(tried, accountID)
		return Outcome{Response: &http.Response{StatusCode: 400}, Final: true}
	})
	require.NoError(t, err)
	assert.Equal(t, "acct-a", result.AccountID)
	assert.Equal(t, 400, result.Response.StatusCode)
	assert.Equal(t, []string{"acct-a"}, tried)
	assert.False(t, d.cooldown.IsCooling("acct-a"))
	result.Release()
}

func TestExecuteMarksChallengeCooldown(t *testing.T) {
	d := newDriver()
	result, err := d.Execute(context.Background(), "scope", []string{"acct-a", "acct-b"}, func(ctx context.Context, accountID string, idx int) Outcome {
		if accountID == "acct-a" {
			return Outcome{Challenge: true}
		}
		return Outcome{Response: &http.Response{StatusCode: 200}}
	})
	require.NoError(t, err)
	assert.Equal(t, "acct-b", result.AccountID)
	assert.True(t, d.cooldown.IsCooling("acct-a"))
	result.Release()
}
