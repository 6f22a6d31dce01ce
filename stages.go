package mongopipe

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongopipe/mongopipe/expr"
	"github.com/mongopipe/mongopipe/model"
)

// ProjectItem is one field of a $project stage.
type ProjectItem struct {
	name  string
	value interface{}
}

// Include projects a field in. The path resolves through the model, so a
// remote path projects the joined field (synthesizing the join if needed).
func Include(path string) ProjectItem { return ProjectItem{name: path, value: 1} }

// Exclude projects a field out.
func Exclude(path string) ProjectItem { return ProjectItem{name: path, value: 0} }

// Computed projects a derived value under a new field name.
func Computed(name string, e expr.Expr) ProjectItem { return ProjectItem{name: name, value: e} }

// Project appends a $project stage preserving the given field order.
func (p *Pipeline) Project(items ...ProjectItem) *Pipeline {
	if p.err != nil || len(items) == 0 {
		return p
	}

	plan := p.newJoinPlan()
	body := make(bson.D, 0, len(items))
	for _, item := range items {
		switch v := item.value.(type) {
		case int:
			ref, err := p.base.Resolve(item.name)
			if err != nil {
				return p.fail(err)
			}
			if err := plan.add(ref.Joins); err != nil {
				return p.fail(err)
			}
			body = append(body, bson.E{Key: ref.Path, Value: v})
		case expr.Expr:
			resolved, err := p.resolveExpr(v, plan)
			if err != nil {
				return p.fail(err)
			}
			compiled, err := expr.Compile(resolved)
			if err != nil {
				return p.fail(err)
			}
			body = append(body, bson.E{Key: item.name, Value: compiled})
		}
	}

	plan.apply()
	p.push(bson.D{{Key: "$project", Value: body}})
	return p
}

// Accumulator is one output field of a $group stage.
type Accumulator struct {
	name  string
	op    string
	value expr.Expr
}

// Acc builds an accumulator with an explicit operator name ("sum", "avg",
// ...). Unknown operators fail at the Group call.
func Acc(name, op string, v expr.Expr) Accumulator { return Accumulator{name: name, op: op, value: v} }

// Sum accumulates the sum of v per group.
func Sum(name string, v expr.Expr) Accumulator { return Acc(name, "sum", v) }

// Avg accumulates the average of v per group.
func Avg(name string, v expr.Expr) Accumulator { return Acc(name, "avg", v) }

// Min accumulates the minimum of v per group.
func Min(name string, v expr.Expr) Accumulator { return Acc(name, "min", v) }

// Max accumulates the maximum of v per group.
func Max(name string, v expr.Expr) Accumulator { return Acc(name, "max", v) }

// First accumulates the first value of v per group.
func First(name string, v expr.Expr) Accumulator { return Acc(name, "first", v) }

// Last accumulates the last value of v per group.
func Last(name string, v expr.Expr) Accumulator { return Acc(name, "last", v) }

// Push accumulates every value of v per group into an array.
func Push(name string, v expr.Expr) Accumulator { return Acc(name, "push", v) }

// AddToSet accumulates distinct values of v per group.
func AddToSet(name string, v expr.Expr) Accumulator { return Acc(name, "addToSet", v) }

// Count counts the documents in each group.
func Count(name string) Accumulator { return Acc(name, "sum", nil) }

var accumulatorWire = map[string]string{
	"sum":      "$sum",
	"avg":      "$avg",
	"min":      "$min",
	"max":      "$max",
	"first":    "$first",
	"last":     "$last",
	"push":     "$push",
	"addToSet": "$addToSet",
}

// Group appends a $group stage. id may be nil (one group), a field path, or
// a value expression.
func (p *Pipeline) Group(id interface{}, accs ...Accumulator) *Pipeline {
	if p.err != nil {
		return p
	}

	plan := p.newJoinPlan()

	var idValue interface{}
	switch v := id.(type) {
	case nil:
		idValue = nil
	case string:
		ref, err := p.base.Resolve(v)
		if err != nil {
			return p.fail(err)
		}
		if err := plan.add(ref.Joins); err != nil {
			return p.fail(err)
		}
		idValue = "$" + ref.Path
	case expr.Expr:
		resolved, err := p.resolveExpr(v, plan)
		if err != nil {
			return p.fail(err)
		}
		compiled, err := expr.Compile(resolved)
		if err != nil {
			return p.fail(err)
		}
		idValue = compiled
	default:
		return p.fail(&expr.TypeMismatchError{Operator: "$group", Operand: id, Want: "nil, a field path, or an expression"})
	}

	body := bson.D{{Key: "_id", Value: idValue}}
	for _, acc := range accs {
		wire, ok := accumulatorWire[acc.op]
		if !ok {
			return p.fail(&expr.UnsupportedOperatorError{Operator: acc.op})
		}

		var operand interface{} = 1
		if acc.value != nil {
			resolved, err := p.resolveExpr(acc.value, plan)
			if err != nil {
				return p.fail(err)
			}
			operand, err = expr.Compile(resolved)
			if err != nil {
				return p.fail(err)
			}
		}
		body = append(body, bson.E{Key: acc.name, Value: bson.D{{Key: wire, Value: operand}}})
	}

	plan.apply()
	p.push(bson.D{{Key: "$group", Value: body}})
	return p
}

// Sort appends a $sort stage. A "-" prefix sorts the field descending;
// caller order is preserved.
func (p *Pipeline) Sort(fields ...string) *Pipeline {
	if p.err != nil || len(fields) == 0 {
		return p
	}

	plan := p.newJoinPlan()
	body := make(bson.D, 0, len(fields))
	for _, f := range fields {
		direction := 1
		if strings.HasPrefix(f, "-") {
			direction = -1
			f = f[1:]
		}
		ref, err := p.base.Resolve(f)
		if err != nil {
			return p.fail(err)
		}
		if err := plan.add(ref.Joins); err != nil {
			return p.fail(err)
		}
		body = append(body, bson.E{Key: ref.Path, Value: direction})
	}

	plan.apply()
	p.push(bson.D{{Key: "$sort", Value: body}})
	return p
}

// Slice appends the $skip/$limit pair for the half-open range [start:stop).
// A zero start emits no skip stage.
func (p *Pipeline) Slice(start, stop int) *Pipeline {
	if p.err != nil {
		return p
	}
	if start < 0 || stop < 0 || start >= stop {
		return p.fail(&InvalidRangeError{Start: start, Stop: stop})
	}
	if start > 0 {
		p.push(bson.D{{Key: "$skip", Value: start}})
	}
	p.push(bson.D{{Key: "$limit", Value: stop - start}})
	return p
}

// Skip appends a $skip stage.
func (p *Pipeline) Skip(n int) *Pipeline {
	if p.err != nil {
		return p
	}
	if n < 0 {
		return p.fail(&InvalidRangeError{Start: n, Stop: n})
	}
	p.push(bson.D{{Key: "$skip", Value: n}})
	return p
}

// Limit appends a $limit stage.
func (p *Pipeline) Limit(n int) *Pipeline {
	if p.err != nil {
		return p
	}
	if n <= 0 {
		return p.fail(&InvalidRangeError{Start: 0, Stop: n})
	}
	p.push(bson.D{{Key: "$limit", Value: n}})
	return p
}

// Assignment names a computed value, for $addFields and replace-with
// defaults.
type Assignment struct {
	Name  string
	Value expr.Expr
}

// Set builds an Assignment.
func Set(name string, v expr.Expr) Assignment { return Assignment{Name: name, Value: v} }

// AddFields appends an $addFields stage preserving assignment order.
func (p *Pipeline) AddFields(assignments ...Assignment) *Pipeline {
	if p.err != nil || len(assignments) == 0 {
		return p
	}

	plan := p.newJoinPlan()
	body, err := p.compileAssignments(assignments, plan)
	if err != nil {
		return p.fail(err)
	}

	plan.apply()
	p.push(bson.D{{Key: "$addFields", Value: body}})
	return p
}

func (p *Pipeline) compileAssignments(assignments []Assignment, plan *joinPlan) (bson.D, error) {
	body := make(bson.D, 0, len(assignments))
	for _, a := range assignments {
		resolved, err := p.resolveExpr(a.Value, plan)
		if err != nil {
			return nil, err
		}
		compiled, err := expr.Compile(resolved)
		if err != nil {
			return nil, err
		}
		body = append(body, bson.E{Key: a.Name, Value: compiled})
	}
	return body, nil
}

// ReplaceRoot appends a $replaceRoot stage promoting root to the document.
func (p *Pipeline) ReplaceRoot(root expr.Expr) *Pipeline {
	if p.err != nil {
		return p
	}

	plan := p.newJoinPlan()
	resolved, err := p.resolveExpr(root, plan)
	if err != nil {
		return p.fail(err)
	}
	compiled, err := expr.Compile(resolved)
	if err != nil {
		return p.fail(err)
	}

	plan.apply()
	p.push(bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: compiled}}}})
	return p
}

// ReplaceWith appends a $replaceWith stage. Defaults, when given, are
// merged under the new root with $mergeObjects, the root's keys winning.
func (p *Pipeline) ReplaceWith(root expr.Expr, defaults ...Assignment) *Pipeline {
	if p.err != nil {
		return p
	}

	plan := p.newJoinPlan()
	resolved, err := p.resolveExpr(root, plan)
	if err != nil {
		return p.fail(err)
	}
	compiled, err := expr.Compile(resolved)
	if err != nil {
		return p.fail(err)
	}

	var body interface{} = compiled
	if len(defaults) > 0 {
		defaultsDoc, err := p.compileAssignments(defaults, plan)
		if err != nil {
			return p.fail(err)
		}
		body = bson.D{{Key: "$mergeObjects", Value: bson.A{defaultsDoc, compiled}}}
	}

	plan.apply()
	p.push(bson.D{{Key: "$replaceWith", Value: body}})
	return p
}

// RedactDecision is a $redact branch outcome.
type RedactDecision string

const (
	Keep    RedactDecision = "KEEP"
	Prune   RedactDecision = "PRUNE"
	Descend RedactDecision = "DESCEND"
)

// Redact appends a $redact stage: documents where cond holds take the then
// decision, others take the otherwise decision.
func (p *Pipeline) Redact(cond expr.Expr, then, otherwise RedactDecision) *Pipeline {
	if p.err != nil {
		return p
	}

	plan := p.newJoinPlan()
	resolved, err := p.resolveExpr(cond, plan)
	if err != nil {
		return p.fail(err)
	}
	compiled, err := expr.Compile(resolved)
	if err != nil {
		return p.fail(err)
	}

	plan.apply()
	p.push(bson.D{{Key: "$redact", Value: bson.D{{Key: "$cond", Value: bson.D{
		{Key: "if", Value: compiled},
		{Key: "then", Value: "$$" + string(then)},
		{Key: "else", Value: "$$" + string(otherwise)},
	}}}}})
	return p
}

// Lookup appends a simple foreign-key join to target under the given alias:
// a $lookup matching localField against the target's primary key, followed
// by an $unwind that keeps documents with no match. Joining an alias that
// already exists with the same parameters is a no-op.
func (p *Pipeline) Lookup(target *model.Model, localField, as string) *Pipeline {
	if p.err != nil {
		return p
	}

	ref, err := p.base.Resolve(localField)
	if err != nil {
		return p.fail(err)
	}

	plan := p.newJoinPlan()
	hop := model.JoinSpec{
		From:         target.Collection(),
		LocalField:   ref.Path,
		ForeignField: target.PrimaryKey(),
		As:           as,
	}
	if err := plan.add([]model.JoinSpec{hop}); err != nil {
		return p.fail(err)
	}

	plan.apply()
	return p
}

// Let binds an outer field to a sub-pipeline variable of a parametrized
// lookup. Field resolves on the base model; the variable is referenced as
// expr.Var(Name) inside the sub-pipeline predicates.
type Let struct {
	Name  string
	Field string
}

// LookupPipeline appends a parametrized sub-pipeline join: a $lookup
// carrying the let bindings and one inner $match stage per predicate, each
// compiled in expression context against the target model. No unwind is
// emitted; the alias holds the matching documents as an array.
func (p *Pipeline) LookupPipeline(target *model.Model, as string, let []Let, preds ...expr.Pred) *Pipeline {
	if p.err != nil {
		return p
	}

	letDoc := make(bson.D, 0, len(let))
	for _, l := range let {
		ref, err := p.base.Resolve(l.Field)
		if err != nil {
			return p.fail(err)
		}
		if ref.Remote() {
			return p.fail(fmt.Errorf("let binding %q: %q is not a field of %q", l.Name, l.Field, p.base.Collection()))
		}
		letDoc = append(letDoc, bson.E{Key: l.Name, Value: "$" + ref.Path})
	}

	inner := make(bson.A, 0, len(preds))
	for _, q := range preds {
		resolved, err := resolveOnTarget(target, q)
		if err != nil {
			return p.fail(err)
		}
		compiled, err := expr.CompileAggExpr(resolved)
		if err != nil {
			return p.fail(err)
		}
		inner = append(inner, bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: compiled}}}})
	}

	body := bson.D{{Key: "from", Value: target.Collection()}}
	if len(letDoc) > 0 {
		body = append(body, bson.E{Key: "let", Value: letDoc})
	}
	body = append(body,
		bson.E{Key: "pipeline", Value: inner},
		bson.E{Key: "as", Value: as},
	)

	hop := model.JoinSpec{From: target.Collection(), As: as}
	plan := p.newJoinPlan()
	if err := plan.add([]model.JoinSpec{hop}); err != nil {
		return p.fail(err)
	}
	p.joined[as] = hop

	p.push(bson.D{{Key: "$lookup", Value: body}})
	return p
}

// resolveOnTarget resolves sub-pipeline predicate leaves against the lookup
// target. Paths crossing a further reference are rejected; a sub-pipeline
// sees only the target collection.
func resolveOnTarget(target *model.Model, q expr.Pred) (expr.Pred, error) {
	return expr.RewriteConditions(q, func(c *expr.Condition) (*expr.Condition, error) {
		ref, err := target.Resolve(c.Path)
		if err != nil {
			return nil, err
		}
		if ref.Remote() {
			return nil, fmt.Errorf("field %q: nested joins are not supported inside a lookup sub-pipeline", c.Path)
		}
		return &expr.Condition{Path: ref.Path, Op: c.Op, Value: c.Value}, nil
	})
}

// Unwind appends an $unwind stage for the given path, which may be a model
// field or the alias of an earlier lookup.
func (p *Pipeline) Unwind(path string, preserveEmpty bool) *Pipeline {
	if p.err != nil {
		return p
	}
	if _, ok := p.joined[path]; ok {
		p.push(unwindStage(path, preserveEmpty))
		return p
	}

	plan := p.newJoinPlan()
	ref, err := p.base.Resolve(path)
	if err != nil {
		return p.fail(err)
	}
	if err := plan.add(ref.Joins); err != nil {
		return p.fail(err)
	}

	plan.apply()
	p.push(unwindStage(ref.Path, preserveEmpty))
	return p
}

// Out appends an $out stage writing the pipeline result to coll, in another
// database when db is non-empty.
func (p *Pipeline) Out(db, coll string) *Pipeline {
	if p.err != nil {
		return p
	}
	if db == "" {
		p.push(bson.D{{Key: "$out", Value: coll}})
		return p
	}
	p.push(bson.D{{Key: "$out", Value: bson.D{
		{Key: "db", Value: db},
		{Key: "coll", Value: coll},
	}}})
	return p
}

// Raw appends a hand-built stage verbatim. Raw stages are opaque: they are
// never merged into, even when they are $match stages.
func (p *Pipeline) Raw(stage bson.D) *Pipeline {
	if p.err != nil {
		return p
	}
	p.push(stage)
	return p
}
