package orderstatus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderhub/internal/apperr"
	"orderhub/internal/model"
)

func TestForwardChainLegalOnceEachStep(t *testing.T) {
	chain := model.ForwardChain
	for i := 0; i < len(chain)-1; i++ {
		assert.True(t, CanTransition(chain[i], chain[i+1]), "%s -> %s", chain[i], chain[i+1])
		assert.False(t, CanTransition(chain[i+1], chain[i]), "rollback %s -> %s", chain[i+1], chain[i])
	}
}

func TestNothingLeavesTerminal(t *testing.T) {
	for _, from := range model.AllStatuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range model.AllStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCancelAndFailFromAnyNonTerminal(t *testing.T) {
	for _, from := range model.ForwardChain[:len(model.ForwardChain)-1] {
		assert.True(t, CanTransition(from, model.StatusCancelled))
		assert.True(t, CanTransition(from, model.StatusFailed))
	}
}

func TestApplySameStatusIsNoop(t *testing.T) {
	s := model.TrackingSession{Status: model.StatusPreparing}
	out, moved, err := Apply(s, model.StatusPreparing, time.Now())
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, model.StatusPreparing, out.Status)
}

func TestApplyForward(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out, moved, err := Apply(model.TrackingSession{Status: model.StatusConfirmed}, model.StatusReady, at)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, model.StatusReady, out.Status)
	assert.Equal(t, at, out.LastUpdate)
}

func TestApplyIllegalLeavesSession(t *testing.T) {
	s := model.TrackingSession{Status: model.StatusDelivered}
	out, moved, err := Apply(s, model.StatusInTransit, time.Now())
	require.ErrorIs(t, err, apperr.IllegalTransition)
	assert.False(t, moved)
	assert.Equal(t, model.StatusDelivered, out.Status)
}

func TestApplyUnknownStatus(t *testing.T) {
	s := model.TrackingSession{Status: model.StatusPending}
	out, moved, err := Apply(s, model.OrderStatus("foo_bar"), time.Now())
	require.ErrorIs(t, err, apperr.UnknownStatus)
	assert.False(t, moved)
	assert.Equal(t, model.StatusPending, out.Status)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyIgnore, p)
	p, err = ParsePolicy("REJECT")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)
	_, err = ParsePolicy("alert")
	assert.Error(t, err)
}
