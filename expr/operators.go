package expr

// Operator identifies a leaf comparison in a predicate tree.
type Operator string

const (
	Eq          Operator = "eq"
	Ne          Operator = "ne"
	In          Operator = "in"
	Nin         Operator = "nin"
	Gt          Operator = "gt"
	Gte         Operator = "gte"
	Lt          Operator = "lt"
	Lte         Operator = "lte"
	Exists      Operator = "exists"
	IExact      Operator = "iexact"
	Contains    Operator = "contains"
	IContains   Operator = "icontains"
	StartsWith  Operator = "startswith"
	IStartsWith Operator = "istartswith"
	EndsWith    Operator = "endswith"
	IEndsWith   Operator = "iendswith"
)

// pathOperators maps the trailing path segment of a Django-style lookup
// ("age__gte") to its Operator. "exact" is the explicit spelling of
// equality.
var pathOperators = map[string]Operator{
	"eq":          Eq,
	"exact":       Eq,
	"iexact":      IExact,
	"ne":          Ne,
	"in":          In,
	"nin":         Nin,
	"gt":          Gt,
	"gte":         Gte,
	"lt":          Lt,
	"lte":         Lte,
	"exists":      Exists,
	"contains":    Contains,
	"icontains":   IContains,
	"startswith":  StartsWith,
	"istartswith": IStartsWith,
	"endswith":    EndsWith,
	"iendswith":   IEndsWith,
}

// comparisonWire maps comparison operators to their wire names. These are
// the operators valid both as {field: {$op: v}} in a match document and as
// {$op: [l, r]} in expression context.
var comparisonWire = map[Operator]string{
	Eq:  "$eq",
	Ne:  "$ne",
	Gt:  "$gt",
	Gte: "$gte",
	Lt:  "$lt",
	Lte: "$lte",
	In:  "$in",
	Nin: "$nin",
}

// textOperators hold the regex-compiled operator family. All of them match
// case-insensitively.
var textOperators = map[Operator]bool{
	IExact:      true,
	Contains:    true,
	IContains:   true,
	StartsWith:  true,
	IStartsWith: true,
	EndsWith:    true,
	IEndsWith:   true,
}

// PathOperator reports the Operator named by a trailing path segment.
func PathOperator(segment string) (Operator, bool) {
	op, ok := pathOperators[segment]
	return op, ok
}
