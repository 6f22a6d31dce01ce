package mongopipe

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Run hands the compiled pipeline to the driver and returns its cursor. The
// compiler plays no part in execution beyond this call.
func (p *Pipeline) Run(ctx context.Context, coll *mongo.Collection, opts ...*options.AggregateOptions) (*mongo.Cursor, error) {
	stages, err := p.Stages()
	if err != nil {
		return nil, err
	}

	pipeline := make(mongo.Pipeline, len(stages))
	for i, s := range stages {
		pipeline[i] = s
	}
	return coll.Aggregate(ctx, pipeline, opts...)
}
