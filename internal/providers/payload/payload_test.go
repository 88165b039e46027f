package payload

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderhub/internal/apperr"
	"orderhub/internal/model"
)

func TestSchemaValidate(t *testing.T) {
	s := MustSchema(`{"type":"object","required":["id"],"properties":{"id":{"type":"string","minLength":1}}}`)
	require.NoError(t, s.Validate("test", []byte(`{"id":"x"}`)))

	for _, raw := range []string{``, `{`, `{"id":""}`, `{"other":1}`, `[]`} {
		err := s.Validate("test", []byte(raw))
		assert.ErrorIs(t, err, apperr.InvalidPayload, "input %q", raw)
	}
}

func TestStatusTableIsCaseInsensitive(t *testing.T) {
	tbl := StatusTable{"ready": model.StatusReady}
	got, err := tbl.Map("test", " READY ")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got)

	_, err = tbl.Map("test", "teleported")
	assert.ErrorIs(t, err, apperr.UnknownStatus)
}

func TestTimeFormats(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	assert.True(t, Time("2024-05-01T12:30:00Z").Equal(want))
	assert.True(t, Time("2024-05-01T16:30:00+04:00").Equal(want))
	assert.True(t, Time("2024-05-01 12:30:00").Equal(want))
	assert.True(t, Time("1714566600").Equal(want))
	assert.True(t, Time("soon").IsZero())
	assert.Nil(t, TimePtr(""))
}

func TestPaymentMethods(t *testing.T) {
	assert.Equal(t, model.PaymentCash, Payment("COD"))
	assert.Equal(t, model.PaymentCard, Payment("card"))
	assert.Equal(t, model.PaymentOnline, Payment("apple_pay"))
}

func TestIDAcceptsStringsAndNumbers(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"sku-1","b":42,"c":null}`), &v))
	assert.Equal(t, ID("sku-1"), v.A)
	assert.Equal(t, "42", v.B.String())
	assert.Empty(t, v.C)
	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}
