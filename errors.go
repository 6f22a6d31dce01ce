package mongopipe

import (
	"fmt"

	"github.com/mongopipe/mongopipe/model"
)

// InvalidRangeError reports slice bounds that cannot compile to a skip/limit
// pair: a negative bound, or a start at or past the stop.
type InvalidRangeError struct {
	Start, Stop int
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid slice range [%d:%d]: bounds must be non-negative and start < stop", e.Start, e.Stop)
}

// AmbiguousJoinError reports two operations that require a join under the
// same alias with conflicting join parameters.
type AmbiguousJoinError struct {
	Alias     string
	Existing  model.JoinSpec
	Requested model.JoinSpec
}

func (e *AmbiguousJoinError) Error() string {
	return fmt.Sprintf("join alias %q already bound to %s.%s = %s, conflicting with %s.%s = %s",
		e.Alias,
		e.Existing.From, e.Existing.ForeignField, e.Existing.LocalField,
		e.Requested.From, e.Requested.ForeignField, e.Requested.LocalField)
}
