// Package expr holds the two expression trees the pipeline compiler builds
// stages from: boolean predicate trees for match conditions and value
// expression trees for computed fields. Nodes are immutable; combinators
// return new nodes and share subtrees, so a predicate built once can be
// reused across any number of pipelines.
package expr

import (
	"reflect"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Pred is a node of a predicate tree: a Condition leaf or an And/Or
// combinator over two subtrees.
type Pred interface {
	pred()
}

// Condition is a leaf predicate: a field path, an operator, and the operand
// value. Path may still be in logical (model) form; the pipeline resolves it
// to a wire path before compilation.
type Condition struct {
	Path  string
	Op    Operator
	Value interface{}
}

func (*Condition) pred() {}

// AndPred combines two predicates conjunctively.
type AndPred struct {
	L, R Pred
}

func (*AndPred) pred() {}

// OrPred combines two predicates disjunctively.
type OrPred struct {
	L, R Pred
}

func (*OrPred) pred() {}

// C builds a leaf condition from a Django-style lookup path: a trailing
// "__"-separated segment naming an operator selects it ("age__gte"), and a
// path with no operator segment means equality ("caption"). A value of nil
// compiles to an explicit null equality, never an existence check.
func C(path string, value interface{}) Pred {
	segments := SplitPath(path)
	if len(segments) > 1 {
		if op, ok := PathOperator(segments[len(segments)-1]); ok {
			return &Condition{
				Path:  strings.Join(segments[:len(segments)-1], "."),
				Op:    op,
				Value: value,
			}
		}
	}
	return &Condition{Path: path, Op: Eq, Value: value}
}

// Where builds a leaf condition with an explicit operator.
func Where(path string, op Operator, value interface{}) Pred {
	return &Condition{Path: path, Op: op, Value: value}
}

// And combines two predicates conjunctively.
func And(l, r Pred) Pred { return &AndPred{L: l, R: r} }

// Or combines two predicates disjunctively.
func Or(l, r Pred) Pred { return &OrPred{L: l, R: r} }

// SplitPath splits a lookup path on both accepted separators, "__" and ".".
func SplitPath(path string) []string {
	return strings.Split(strings.ReplaceAll(path, "__", "."), ".")
}

// CompileMatch compiles a predicate tree to a $match stage body. The
// compiler picks the most compact legal document: a pure conjunction whose
// leaves condition distinct fields becomes a flat key/value map, anything
// else gets explicit $and/$or wrapping. Adjacent same-operator combinators
// are flattened into one operand list.
func CompileMatch(p Pred) (bson.D, error) {
	units := flattenAnd(p)

	docs := make([]bson.D, 0, len(units))
	for _, unit := range units {
		doc, err := compileMatchUnit(unit)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if merged, ok := mergeDisjoint(docs); ok {
		return merged, nil
	}

	wrapped := make(bson.A, len(docs))
	for i, d := range docs {
		wrapped[i] = d
	}
	return bson.D{{Key: "$and", Value: wrapped}}, nil
}

// flattenAnd returns the conjuncts of p in left-to-right order.
func flattenAnd(p Pred) []Pred {
	if a, ok := p.(*AndPred); ok {
		return append(flattenAnd(a.L), flattenAnd(a.R)...)
	}
	return []Pred{p}
}

func flattenOr(p Pred) []Pred {
	if o, ok := p.(*OrPred); ok {
		return append(flattenOr(o.L), flattenOr(o.R)...)
	}
	return []Pred{p}
}

// mergeDisjoint merges the documents into one flat document, reporting
// failure when two documents condition the same key.
func mergeDisjoint(docs []bson.D) (bson.D, bool) {
	merged := bson.D{}
	seen := make(map[string]bool)
	for _, doc := range docs {
		for _, e := range doc {
			if seen[e.Key] {
				return nil, false
			}
			seen[e.Key] = true
			merged = append(merged, e)
		}
	}
	return merged, true
}

func compileMatchUnit(p Pred) (bson.D, error) {
	switch n := p.(type) {
	case *Condition:
		return compileLeaf(n)
	case *OrPred:
		branches := flattenOr(n)
		arr := make(bson.A, 0, len(branches))
		for _, b := range branches {
			doc, err := CompileMatch(b)
			if err != nil {
				return nil, err
			}
			arr = append(arr, doc)
		}
		return bson.D{{Key: "$or", Value: arr}}, nil
	case *AndPred:
		return CompileMatch(n)
	}
	return nil, &UnsupportedOperatorError{Operator: "unknown predicate node"}
}

// compileLeaf compiles one condition into a single-key match document.
func compileLeaf(c *Condition) (bson.D, error) {
	// A value-expression operand forces $expr form; only comparisons can
	// compare a field against a computed value.
	if operand, ok := c.Value.(Expr); ok {
		wire, ok := comparisonWire[c.Op]
		if !ok || c.Op == In || c.Op == Nin {
			return nil, &UnsupportedOperatorError{Operator: string(c.Op)}
		}
		compiled, err := Compile(operand)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$expr", Value: bson.D{
			{Key: wire, Value: bson.A{"$" + c.Path, compiled}},
		}}}, nil
	}

	if textOperators[c.Op] {
		return compileTextLeaf(c)
	}

	switch c.Op {
	case Eq:
		// nil stays as-is: an explicit null equality.
		return bson.D{{Key: c.Path, Value: c.Value}}, nil
	case Ne, Gt, Gte, Lt, Lte:
		return bson.D{{Key: c.Path, Value: bson.D{
			{Key: comparisonWire[c.Op], Value: c.Value},
		}}}, nil
	case In, Nin:
		if !isSequence(c.Value) {
			return nil, &TypeMismatchError{Operator: string(c.Op), Operand: c.Value, Want: "a slice or array"}
		}
		return bson.D{{Key: c.Path, Value: bson.D{
			{Key: comparisonWire[c.Op], Value: c.Value},
		}}}, nil
	case Exists:
		b, ok := c.Value.(bool)
		if !ok {
			return nil, &TypeMismatchError{Operator: string(c.Op), Operand: c.Value, Want: "a bool"}
		}
		return bson.D{{Key: c.Path, Value: bson.D{{Key: "$exists", Value: b}}}}, nil
	}

	return nil, &UnsupportedOperatorError{Operator: string(c.Op)}
}

// compileTextLeaf compiles the regex operator family. Operands are escaped
// before they are embedded in a pattern, and every text operator matches
// case-insensitively.
func compileTextLeaf(c *Condition) (bson.D, error) {
	s, ok := c.Value.(string)
	if !ok {
		return nil, &TypeMismatchError{Operator: string(c.Op), Operand: c.Value, Want: "a string"}
	}
	quoted := regexp.QuoteMeta(s)

	var pattern string
	switch c.Op {
	case Contains, IContains:
		pattern = ".*" + quoted + ".*"
	case StartsWith, IStartsWith:
		pattern = "^" + quoted
	case EndsWith, IEndsWith:
		pattern = quoted + "$"
	case IExact:
		pattern = "^" + quoted + "$"
	default:
		return nil, &UnsupportedOperatorError{Operator: string(c.Op)}
	}

	return bson.D{{Key: c.Path, Value: bson.D{
		{Key: "$regex", Value: pattern},
		{Key: "$options", Value: "i"},
	}}}, nil
}

// CompileAggExpr compiles a predicate tree in aggregation-expression context
// ($expr form), as used inside the sub-pipeline of a parametrized lookup.
// Field paths compile to "$path" references and Var operands to "$$name";
// only comparison operators have an expression-context mapping.
func CompileAggExpr(p Pred) (bson.D, error) {
	switch n := p.(type) {
	case *AndPred:
		return compileAggBoolean("$and", flattenAnd(n))
	case *OrPred:
		return compileAggBoolean("$or", flattenOr(n))
	case *Condition:
		wire, ok := comparisonWire[n.Op]
		if !ok {
			return nil, &UnsupportedOperatorError{Operator: string(n.Op)}
		}
		operand, err := compileAggOperand(n.Value)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: wire, Value: bson.A{"$" + n.Path, operand}}}, nil
	}
	return nil, &UnsupportedOperatorError{Operator: "unknown predicate node"}
}

func compileAggBoolean(wire string, branches []Pred) (bson.D, error) {
	arr := make(bson.A, 0, len(branches))
	for _, b := range branches {
		doc, err := CompileAggExpr(b)
		if err != nil {
			return nil, err
		}
		arr = append(arr, doc)
	}
	return bson.D{{Key: wire, Value: arr}}, nil
}

func compileAggOperand(v interface{}) (interface{}, error) {
	if e, ok := v.(Expr); ok {
		return Compile(e)
	}
	return v, nil
}

func isSequence(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	}
	return false
}
