//go:build integration

package mongopipe_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mongopipe/mongopipe"
	"github.com/mongopipe/mongopipe/expr"
	"github.com/mongopipe/mongopipe/model"
)

// setUpMongoDB connects to a local MongoDB instance and returns the client.
func setUpMongoDB(t *testing.T) *mongo.Client {
	t.Helper()

	clientOptions := options.Client().ApplyURI("mongodb://localhost:27017")
	client, err := mongo.Connect(context.Background(), clientOptions)
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background(), nil))

	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})
	return client
}

func seedCollection(t *testing.T, coll *mongo.Collection, docs []interface{}) {
	t.Helper()
	require.NoError(t, coll.Drop(context.Background()))
	_, err := coll.InsertMany(context.Background(), docs)
	require.NoError(t, err)
}

func TestRunAgainstServer(t *testing.T) {
	client := setUpMongoDB(t)
	db := client.Database("mongopipe_test")

	accounts := db.Collection("account")
	posts := db.Collection("post")

	seedCollection(t, accounts, []interface{}{
		bson.D{{Key: "_id", Value: 1}, {Key: "username", Value: "john"}, {Key: "deleted_at", Value: nil}},
		bson.D{{Key: "_id", Value: 2}, {Key: "username", Value: "jane"}, {Key: "deleted_at", Value: "2024-01-01"}},
	})
	seedCollection(t, posts, []interface{}{
		bson.D{{Key: "_id", Value: 10}, {Key: "caption", Value: "hello world"}, {Key: "likes", Value: 3}, {Key: "owner_id", Value: 1}},
		bson.D{{Key: "_id", Value: 11}, {Key: "caption", Value: "HELLO again"}, {Key: "likes", Value: 7}, {Key: "owner_id", Value: 2}},
		bson.D{{Key: "_id", Value: 12}, {Key: "caption", Value: "unrelated"}, {Key: "likes", Value: 1}, {Key: "owner_id", Value: 1}},
	})

	account := model.New("account",
		model.Field{Name: "username"},
		model.Field{Name: "deleted_at"},
	)
	post := model.New("post",
		model.Field{Name: "caption"},
		model.Field{Name: "likes"},
		model.Field{Name: "owner", Storage: "owner_id", Ref: account},
	)

	t.Run("case-insensitive contains with a live join", func(t *testing.T) {
		p := mongopipe.New(post).
			Filter(
				expr.C("caption__contains", "hello"),
				expr.C("owner__deleted_at", nil),
			).
			Sort("-likes")

		cursor, err := p.Run(context.Background(), posts)
		require.NoError(t, err)

		var results []bson.M
		require.NoError(t, cursor.All(context.Background(), &results))

		require.Len(t, results, 1)
		assert.Equal(t, "hello world", results[0]["caption"])
	})

	t.Run("group totals per owner", func(t *testing.T) {
		p := mongopipe.New(post).Group("owner",
			mongopipe.Sum("total_likes", expr.F("likes")),
			mongopipe.Count("posts"),
		)

		cursor, err := p.Run(context.Background(), posts)
		require.NoError(t, err)

		var results []bson.M
		require.NoError(t, cursor.All(context.Background(), &results))
		assert.Len(t, results, 2)
	})

	t.Run("slice window", func(t *testing.T) {
		p := mongopipe.New(post).Sort("likes").Slice(1, 3)

		cursor, err := p.Run(context.Background(), posts)
		require.NoError(t, err)

		var results []bson.M
		require.NoError(t, cursor.All(context.Background(), &results))
		assert.Len(t, results, 2)
	})
}
