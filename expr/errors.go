package expr

import "fmt"

// UnsupportedOperatorError reports an operator with no wire-format mapping
// in the context it was used.
type UnsupportedOperatorError struct {
	Operator string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("operator %q has no aggregation wire mapping in this context", e.Operator)
}

// TypeMismatchError reports an operand whose kind an operator cannot accept.
type TypeMismatchError struct {
	Operator string
	Operand  interface{}
	Want     string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("operator %q requires %s, got %T", e.Operator, e.Want, e.Operand)
}
