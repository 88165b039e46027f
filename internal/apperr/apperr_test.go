package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", E(KindPersistenceUnavailable, "store.create", errors.New("conn refused")))
	require.ErrorIs(t, err, PersistenceUnavailable)
	assert.NotErrorIs(t, err, ValidationFailed)
	assert.Equal(t, KindPersistenceUnavailable, KindOf(err))
	assert.Contains(t, err.Error(), "conn refused")
}

func TestMissingFieldNamesField(t *testing.T) {
	err := MissingField("careem.extractOrder", "customer.phone")
	require.ErrorIs(t, err, InvalidPayload)
	assert.Equal(t, "customer.phone", err.Field)
	assert.Contains(t, err.Error(), "customer.phone")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(SyncInProgress))
	assert.True(t, Retryable(E(KindPersistenceUnavailable, "x", nil)))
	assert.False(t, Retryable(ValidationFailed))
	assert.False(t, Retryable(errors.New("plain")))
	assert.False(t, Retryable(nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		nil:                    http.StatusOK,
		AuthenticationFailed:   http.StatusUnauthorized,
		InvalidPayload:         http.StatusBadRequest,
		ValidationFailed:       http.StatusBadRequest,
		UnsupportedProvider:    http.StatusNotFound,
		SyncInProgress:         http.StatusConflict,
		PersistenceUnavailable: http.StatusServiceUnavailable,
		errors.New("boom"):     http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), "err=%v", err)
	}
}
