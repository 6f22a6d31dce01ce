package expr

// RewriteConditions returns a copy of p with every condition leaf replaced
// by fn's result. Subtrees fn leaves alone are shared with the input; the
// input tree itself is never mutated.
func RewriteConditions(p Pred, fn func(*Condition) (*Condition, error)) (Pred, error) {
	switch n := p.(type) {
	case *Condition:
		return fn(n)
	case *AndPred:
		l, err := RewriteConditions(n.L, fn)
		if err != nil {
			return nil, err
		}
		r, err := RewriteConditions(n.R, fn)
		if err != nil {
			return nil, err
		}
		if l == n.L && r == n.R {
			return n, nil
		}
		return &AndPred{L: l, R: r}, nil
	case *OrPred:
		l, err := RewriteConditions(n.L, fn)
		if err != nil {
			return nil, err
		}
		r, err := RewriteConditions(n.R, fn)
		if err != nil {
			return nil, err
		}
		if l == n.L && r == n.R {
			return n, nil
		}
		return &OrPred{L: l, R: r}, nil
	}
	return nil, &UnsupportedOperatorError{Operator: "unknown predicate node"}
}

// RewriteFields returns a copy of e with every field reference replaced by
// fn's result, sharing untouched subtrees with the input.
func RewriteFields(e Expr, fn func(*FieldRef) (*FieldRef, error)) (Expr, error) {
	switch n := e.(type) {
	case *FieldRef:
		return fn(n)
	case *Literal, *Variable:
		return e, nil
	case *binaryExpr:
		l, err := RewriteFields(n.l, fn)
		if err != nil {
			return nil, err
		}
		r, err := RewriteFields(n.r, fn)
		if err != nil {
			return nil, err
		}
		if l == n.l && r == n.r {
			return n, nil
		}
		return &binaryExpr{wire: n.wire, class: n.class, l: l, r: r}, nil
	case *condExpr:
		cond, err := RewriteFields(n.cond, fn)
		if err != nil {
			return nil, err
		}
		then, err := RewriteFields(n.then, fn)
		if err != nil {
			return nil, err
		}
		els, err := RewriteFields(n.els, fn)
		if err != nil {
			return nil, err
		}
		if cond == n.cond && then == n.then && els == n.els {
			return n, nil
		}
		return &condExpr{cond: cond, then: then, els: els}, nil
	case *docExpr:
		elems := make([]E, len(n.elems))
		changed := false
		for i, el := range n.elems {
			v, err := RewriteFields(el.Value, fn)
			if err != nil {
				return nil, err
			}
			if v != el.Value {
				changed = true
			}
			elems[i] = E{Key: el.Key, Value: v}
		}
		if !changed {
			return n, nil
		}
		return &docExpr{elems: elems}, nil
	}
	return nil, &TypeMismatchError{Operator: "rewrite", Operand: e, Want: "a known expression node"}
}
