package mongopipe

import (
	"github.com/10gen/mongoast/parser"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ExtJSON round-trips the compiled pipeline through the aggregation AST and
// returns its canonical extended-JSON rendering. The round trip doubles as
// a well-formedness check: a stage the AST cannot parse is reported as an
// error rather than handed to a server.
func (p *Pipeline) ExtJSON() (string, error) {
	stages, err := p.Stages()
	if err != nil {
		return "", err
	}

	raw, err := marshalStages(stages)
	if err != nil {
		return "", err
	}

	pipeline, err := parser.ParsePipeline(raw)
	if err != nil {
		return "", err
	}

	deparsed, err := parser.DeparsePipelineErr(pipeline)
	if err != nil {
		return "", err
	}
	return deparsed.String(), nil
}

// marshalStages marshals the stages into a bsoncore array.
func marshalStages(stages []bson.D) (bsoncore.Array, error) {
	raw, err := bson.Marshal(bson.D{{Key: "pipeline", Value: stages}})
	if err != nil {
		return nil, err
	}
	// GODRIVER-1930: Lookup().Array() returns a Document.
	return bsoncore.Array(bsoncore.Document(raw).Lookup("pipeline").Array()), nil
}
