// Package mongopipe compiles chained declarative query operations into a
// MongoDB aggregation pipeline. A Pipeline is bound to a model descriptor;
// each operation resolves its field paths against the model, synthesizes any
// $lookup/$unwind pairs a cross-collection path requires, and appends one or
// more compiled stages. The compiled pipeline is an ordered []bson.D ready
// to hand to a driver.
//
// A Pipeline is a mutable builder with one logical owner at a time;
// concurrent use must be serialized by the caller. Failed operations append
// nothing: the first error is recorded, later calls become no-ops, and the
// pipeline stays in its last valid state.
package mongopipe

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongopipe/mongopipe/expr"
	"github.com/mongopipe/mongopipe/model"
)

// Pipeline accumulates compiled stages for one base model.
type Pipeline struct {
	base   *model.Model
	stages []bson.D
	joined map[string]model.JoinSpec

	// tailPred holds the predicate of the tail stage while that stage is a
	// $match eligible for conjunctive merging; any other append clears it.
	tailPred expr.Pred

	err error
}

// New starts an empty pipeline over the given model.
func New(base *model.Model) *Pipeline {
	return &Pipeline{
		base:   base,
		joined: make(map[string]model.JoinSpec),
	}
}

// Err returns the first error recorded by a failed operation, if any.
func (p *Pipeline) Err() error { return p.err }

// Stages returns the compiled stages in order, with the recorded error if
// any operation failed. The returned slice is a copy; appended stages are
// never mutated afterwards.
func (p *Pipeline) Stages() ([]bson.D, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([]bson.D, len(p.stages))
	copy(out, p.stages)
	return out, nil
}

func (p *Pipeline) fail(err error) *Pipeline {
	if p.err == nil {
		p.err = err
	}
	return p
}

// push appends a stage and closes the current merge window.
func (p *Pipeline) push(stage bson.D) {
	p.stages = append(p.stages, stage)
	p.tailPred = nil
}

// Filter appends (or merges) a $match stage for the conjunction of the
// given predicates. Leaf paths resolve against the model; a path that lands
// on a referenced collection synthesizes the join stages to reach it first.
// When the tail stage is already a match and this call needs no new join,
// the condition merges conjunctively into it instead of opening a new stage.
func (p *Pipeline) Filter(preds ...expr.Pred) *Pipeline {
	if p.err != nil || len(preds) == 0 {
		return p
	}

	combined := preds[0]
	for _, q := range preds[1:] {
		combined = expr.And(combined, q)
	}

	plan := p.newJoinPlan()
	resolved, err := p.resolvePred(combined, plan)
	if err != nil {
		return p.fail(err)
	}

	if len(plan.hops) == 0 && p.tailPred != nil {
		merged := expr.And(p.tailPred, resolved)
		body, err := expr.CompileMatch(merged)
		if err != nil {
			return p.fail(err)
		}
		p.stages[len(p.stages)-1] = matchStage(body)
		p.tailPred = merged
		return p
	}

	body, err := expr.CompileMatch(resolved)
	if err != nil {
		return p.fail(err)
	}
	plan.apply()
	p.push(matchStage(body))
	p.tailPred = resolved
	return p
}

func matchStage(body bson.D) bson.D {
	return bson.D{{Key: "$match", Value: body}}
}

// joinPlan stages the joins one operation needs so that nothing is appended
// until the whole operation has validated and compiled.
type joinPlan struct {
	p    *Pipeline
	hops []model.JoinSpec
	seen map[string]model.JoinSpec
}

func (p *Pipeline) newJoinPlan() *joinPlan {
	return &joinPlan{p: p, seen: make(map[string]model.JoinSpec)}
}

// add records the hops a resolved reference needs. A hop whose alias is
// already joined with identical parameters is reused silently; the same
// alias with different parameters is ambiguous.
func (jp *joinPlan) add(hops []model.JoinSpec) error {
	for _, hop := range hops {
		if existing, ok := jp.p.joined[hop.As]; ok {
			if existing != hop {
				return &AmbiguousJoinError{Alias: hop.As, Existing: existing, Requested: hop}
			}
			continue
		}
		if pending, ok := jp.seen[hop.As]; ok {
			if pending != hop {
				return &AmbiguousJoinError{Alias: hop.As, Existing: pending, Requested: hop}
			}
			continue
		}
		jp.seen[hop.As] = hop
		jp.hops = append(jp.hops, hop)
	}
	return nil
}

// apply registers the planned hops and appends their lookup/unwind pairs.
func (jp *joinPlan) apply() {
	for _, hop := range jp.hops {
		jp.p.joined[hop.As] = hop
		jp.p.push(lookupStage(hop))
		jp.p.push(unwindStage(hop.As, true))
	}
}

func lookupStage(h model.JoinSpec) bson.D {
	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: h.From},
		{Key: "localField", Value: h.LocalField},
		{Key: "foreignField", Value: h.ForeignField},
		{Key: "as", Value: h.As},
	}}}
}

func unwindStage(path string, preserveEmpty bool) bson.D {
	return bson.D{{Key: "$unwind", Value: bson.D{
		{Key: "path", Value: "$" + path},
		{Key: "preserveNullAndEmptyArrays", Value: preserveEmpty},
	}}}
}

// resolveLeafPath resolves a condition path. A path rooted at the alias of
// an earlier lookup bypasses the model and addresses the joined documents
// directly. A final segment that resolves on no model sits in operator
// position, so it reports an unsupported operator rather than an unknown
// field.
func (p *Pipeline) resolveLeafPath(path string) (model.FieldRef, error) {
	segments := model.SplitPath(path)
	if _, isField := p.base.Lookup(segments[0]); !isField {
		if _, ok := p.joined[segments[0]]; ok {
			return model.FieldRef{Path: strings.Join(segments, ".")}, nil
		}
	}

	ref, err := p.base.Resolve(path)
	if err != nil {
		var unknown *model.UnknownFieldError
		if errors.As(err, &unknown) {
			if len(segments) > 1 && unknown.Field == segments[len(segments)-1] {
				return model.FieldRef{}, &expr.UnsupportedOperatorError{Operator: unknown.Field}
			}
		}
		return model.FieldRef{}, err
	}
	return ref, nil
}

// resolvePred rewrites a predicate tree so every leaf path is a wire path,
// collecting required joins into the plan along the way.
func (p *Pipeline) resolvePred(q expr.Pred, plan *joinPlan) (expr.Pred, error) {
	return expr.RewriteConditions(q, func(c *expr.Condition) (*expr.Condition, error) {
		ref, err := p.resolveLeafPath(c.Path)
		if err != nil {
			return nil, err
		}
		if err := plan.add(ref.Joins); err != nil {
			return nil, err
		}

		value := c.Value
		if operand, ok := value.(expr.Expr); ok {
			value, err = p.resolveExpr(operand, plan)
			if err != nil {
				return nil, err
			}
		}
		return &expr.Condition{Path: ref.Path, Op: c.Op, Value: value}, nil
	})
}

// resolveExpr rewrites a value expression so every field reference is a
// wire path carrying its model-declared kind.
func (p *Pipeline) resolveExpr(e expr.Expr, plan *joinPlan) (expr.Expr, error) {
	return expr.RewriteFields(e, func(f *expr.FieldRef) (*expr.FieldRef, error) {
		ref, err := p.base.Resolve(f.Path)
		if err != nil {
			return nil, err
		}
		if err := plan.add(ref.Joins); err != nil {
			return nil, err
		}
		return &expr.FieldRef{Path: ref.Path, Array: ref.Array}, nil
	})
}
