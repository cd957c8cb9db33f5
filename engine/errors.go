package engine

import (
	"errors"
	"fmt"

	"github.com/civicgrid/civic-issues-api/models"
)

// ErrConflict is returned when a transition lost the race against a
// concurrent write on the same issue. The caller must re-fetch the issue
// before retrying.
var ErrConflict = errors.New("issue modified concurrently")

// errClassifierUnconfigured degrades submissions to needs-review when no
// classifier client is wired at all.
var errClassifierUnconfigured = errors.New("classifier not configured")

// ErrRoutingRuleMissing is the internal marker for a (category, ward) pair
// with no matching rule. The router always recovers by falling back to the
// default rule, so it never crosses the engine boundary.
var ErrRoutingRuleMissing = errors.New("no routing rule matched")

// IllegalTransitionError is returned when a status change outside the
// allowed edge set is requested. No state is mutated.
type IllegalTransitionError struct {
	From models.IssueStatus
	To   models.IssueStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %q to %q", e.From, e.To)
}

// ValidationError is returned for a missing or malformed required field,
// before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var te *IllegalTransitionError
	return errors.As(err, &te)
}
