// Package payload holds the parsing helpers shared by provider adapters:
// JSON-schema checks, status vocabularies and lenient value decoding.
package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"orderhub/internal/apperr"
	"orderhub/internal/model"
)

// Schema is a compiled JSON schema for one provider payload shape.
type Schema struct {
	s *gojsonschema.Schema
}

// MustSchema compiles def and panics on a malformed schema.
func MustSchema(def string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return &Schema{s: s}
}

// Validate checks raw against the schema. Any failure, including malformed
// JSON, is an InvalidPayload error.
func (s *Schema) Validate(op string, raw []byte) error {
	if len(raw) == 0 {
		return apperr.Errorf(apperr.KindInvalidPayload, op, "empty body")
	}
	res, err := s.s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return apperr.E(apperr.KindInvalidPayload, op, err)
	}
	if !res.Valid() {
		var sb strings.Builder
		for i, e := range res.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(e.String())
		}
		return apperr.Errorf(apperr.KindInvalidPayload, op, "%s", sb.String())
	}
	return nil
}

// StatusTable maps a provider's status vocabulary onto canonical statuses.
// Keys are matched case-insensitively.
type StatusTable map[string]model.OrderStatus

func (t StatusTable) Map(op, providerStatus string) (model.OrderStatus, error) {
	if s, ok := t[strings.ToLower(strings.TrimSpace(providerStatus))]; ok {
		return s, nil
	}
	return "", apperr.Errorf(apperr.KindUnknownStatus, op, "provider status %q", providerStatus)
}

// Decode unmarshals raw into v, classifying failures as InvalidPayload.
func Decode(op string, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.E(apperr.KindInvalidPayload, op, err)
	}
	return nil
}

// Time parses RFC 3339 timestamps and unix seconds. Empty or unparseable
// values yield the zero time.
func Time(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(n, 0).UTC()
	}
	return time.Time{}
}

// TimePtr is Time returning nil for the zero time.
func TimePtr(v string) *time.Time {
	t := Time(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Point returns a GeoPoint unless both coordinates are zero.
func Point(lat, lng float64) *model.GeoPoint {
	if lat == 0 && lng == 0 {
		return nil
	}
	return &model.GeoPoint{Lat: lat, Lng: lng}
}

// Driver returns a DriverContact unless both fields are empty.
func Driver(name, phone string) *model.DriverContact {
	if name == "" && phone == "" {
		return nil
	}
	return &model.DriverContact{Name: name, Phone: phone}
}

// Payment normalizes common provider payment method spellings.
func Payment(method string) model.PaymentMethod {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "cash", "cod", "cash_on_delivery":
		return model.PaymentCash
	case "card", "card_on_delivery", "credit_card", "debit_card":
		return model.PaymentCard
	default:
		return model.PaymentOnline
	}
}

// Ack renders an error for an ack body, or "" on success.
func Ack(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// RequireString returns a MissingField error when v is blank.
func RequireString(op, field, v string) error {
	if strings.TrimSpace(v) == "" {
		return apperr.MissingField(op, field)
	}
	return nil
}

// PaymentState normalizes provider payment status spellings.
func PaymentState(status string) model.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "captured", "completed", "success":
		return model.PaymentPaid
	case "failed", "declined":
		return model.PaymentFailed
	default:
		return model.PaymentPending
	}
}

// ID decodes identifiers that providers send either as JSON strings or numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }
