// Package orderstatus holds the canonical order lifecycle and its legal transitions.
package orderstatus

import (
	"fmt"
	"strings"
	"time"

	"orderhub/internal/apperr"
	"orderhub/internal/model"
)

// CanTransition reports whether from -> to is a legal step. Forward moves may
// skip intermediate states because providers do not report every stage;
// cancelled and failed are reachable from any non-terminal state.
func CanTransition(from, to model.OrderStatus) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == model.StatusCancelled || to == model.StatusFailed {
		return true
	}
	return to.Rank() > from.Rank()
}

// Apply moves the session to next. A repeated status is a no-op. Illegal or
// unknown targets leave the session unchanged and return a classified error
// for the caller's policy to handle.
func Apply(s model.TrackingSession, next model.OrderStatus, at time.Time) (model.TrackingSession, bool, error) {
	if !next.Valid() {
		return s, false, apperr.Errorf(apperr.KindUnknownStatus, "orderstatus.apply", "status %q", next)
	}
	if s.Status == next {
		return s, false, nil
	}
	if !CanTransition(s.Status, next) {
		return s, false, apperr.Errorf(apperr.KindIllegalTransition, "orderstatus.apply", "%s -> %s", s.Status, next)
	}
	s.Status = next
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.LastUpdate = at
	return s, true, nil
}

// Policy decides what happens to non-fatal status errors.
type Policy string

const (
	// PolicyIgnore logs and skips the update.
	PolicyIgnore Policy = "ignore"
	// PolicyReject surfaces the error to the sender of the update.
	PolicyReject Policy = "reject"
)

func ParsePolicy(v string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(v))); p {
	case "":
		return PolicyIgnore, nil
	case PolicyIgnore, PolicyReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown status policy %q", v)
	}
}
