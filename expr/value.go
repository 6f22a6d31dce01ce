package expr

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Expr is a node of a value-expression tree: a literal, a field or variable
// reference, or an operator over compiled operands. Like predicates, nodes
// are immutable and freely shared.
type Expr interface {
	exprNode()
}

// Literal is a constant value. It compiles to a $literal wrapper so the
// server never mistakes it for a field reference or operator document.
type Literal struct {
	Value interface{}
}

func (*Literal) exprNode() {}

// FieldRef references a document field by wire path. Array marks
// collection-valued fields, which arithmetic operators reject.
type FieldRef struct {
	Path  string
	Array bool
}

func (*FieldRef) exprNode() {}

// Variable references a pipeline variable, such as a let binding of an
// enclosing lookup. It compiles to "$$name".
type Variable struct {
	Name string
}

func (*Variable) exprNode() {}

// Lit builds a literal node.
func Lit(v interface{}) Expr { return &Literal{Value: v} }

// F builds a field reference. The path may be in logical form; the pipeline
// resolves it against the model before compiling.
func F(path string) *FieldRef { return &FieldRef{Path: path} }

// Var builds a pipeline-variable reference.
func Var(name string) Expr { return &Variable{Name: name} }

type opClass int

const (
	arithmeticOp opClass = iota
	stringOp
	comparisonOp
	documentOp
)

type binaryExpr struct {
	wire  string
	class opClass
	l, r  Expr
}

func (*binaryExpr) exprNode() {}

// Add builds l + r.
func Add(l, r Expr) Expr { return &binaryExpr{wire: "$add", class: arithmeticOp, l: l, r: r} }

// Subtract builds l - r.
func Subtract(l, r Expr) Expr {
	return &binaryExpr{wire: "$subtract", class: arithmeticOp, l: l, r: r}
}

// Multiply builds l * r.
func Multiply(l, r Expr) Expr {
	return &binaryExpr{wire: "$multiply", class: arithmeticOp, l: l, r: r}
}

// Divide builds l / r.
func Divide(l, r Expr) Expr { return &binaryExpr{wire: "$divide", class: arithmeticOp, l: l, r: r} }

// Mod builds l % r.
func Mod(l, r Expr) Expr { return &binaryExpr{wire: "$mod", class: arithmeticOp, l: l, r: r} }

// Concat builds the string concatenation of l and r.
func Concat(l, r Expr) Expr { return &binaryExpr{wire: "$concat", class: stringOp, l: l, r: r} }

// Compare builds a comparison returning a boolean, for use in conditional
// expressions and redact decisions. Only comparison operators are accepted.
func Compare(op Operator, l, r Expr) (Expr, error) {
	wire, ok := comparisonWire[op]
	if !ok || op == In || op == Nin {
		return nil, &UnsupportedOperatorError{Operator: string(op)}
	}
	return &binaryExpr{wire: wire, class: comparisonOp, l: l, r: r}, nil
}

// Merge builds a $mergeObjects of two document-valued operands, right keys
// winning on overlap.
func Merge(l, r Expr) Expr { return &binaryExpr{wire: "$mergeObjects", class: documentOp, l: l, r: r} }

type condExpr struct {
	cond, then, els Expr
}

func (*condExpr) exprNode() {}

// Cond builds a $cond conditional: then when cond holds, els otherwise.
func Cond(cond, then, els Expr) Expr { return &condExpr{cond: cond, then: then, els: els} }

// E is one field of a document expression.
type E struct {
	Key   string
	Value Expr
}

type docExpr struct {
	elems []E
}

func (*docExpr) exprNode() {}

// D builds a document-valued expression preserving field order, typically a
// defaults document handed to $mergeObjects.
func D(elems ...E) Expr {
	cp := make([]E, len(elems))
	copy(cp, elems)
	return &docExpr{elems: cp}
}

// Compile compiles a value-expression tree to its wire form.
func Compile(e Expr) (interface{}, error) {
	switch n := e.(type) {
	case *Literal:
		return bson.D{{Key: "$literal", Value: n.Value}}, nil
	case *FieldRef:
		return "$" + n.Path, nil
	case *Variable:
		return "$$" + n.Name, nil
	case *binaryExpr:
		if err := checkOperand(n, n.l); err != nil {
			return nil, err
		}
		if err := checkOperand(n, n.r); err != nil {
			return nil, err
		}
		l, err := Compile(n.l)
		if err != nil {
			return nil, err
		}
		r, err := Compile(n.r)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: n.wire, Value: bson.A{l, r}}}, nil
	case *condExpr:
		cond, err := Compile(n.cond)
		if err != nil {
			return nil, err
		}
		then, err := Compile(n.then)
		if err != nil {
			return nil, err
		}
		els, err := Compile(n.els)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: cond},
			{Key: "then", Value: then},
			{Key: "else", Value: els},
		}}}, nil
	case *docExpr:
		doc := make(bson.D, 0, len(n.elems))
		for _, el := range n.elems {
			v, err := Compile(el.Value)
			if err != nil {
				return nil, err
			}
			doc = append(doc, bson.E{Key: el.Key, Value: v})
		}
		return doc, nil
	}
	return nil, &TypeMismatchError{Operator: "compile", Operand: e, Want: "a known expression node"}
}

// checkOperand rejects operand kinds the operator cannot evaluate. Field
// references of unknown kind pass; the server is the final arbiter there.
func checkOperand(op *binaryExpr, operand Expr) error {
	switch o := operand.(type) {
	case *FieldRef:
		if o.Array && op.class == arithmeticOp {
			return &TypeMismatchError{Operator: op.wire, Operand: "$" + o.Path, Want: "a scalar field"}
		}
	case *Literal:
		switch op.class {
		case arithmeticOp:
			switch o.Value.(type) {
			case string, bool:
				return &TypeMismatchError{Operator: op.wire, Operand: o.Value, Want: "a numeric operand"}
			}
		case stringOp:
			if _, ok := o.Value.(string); !ok {
				return &TypeMismatchError{Operator: op.wire, Operand: o.Value, Want: "a string operand"}
			}
		}
	}
	return nil
}
