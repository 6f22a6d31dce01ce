package mongopipe_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/10gen/candiedyaml"
	"github.com/10gen/mongoast/parser"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongopipe/mongopipe"
	"github.com/mongopipe/mongopipe/expr"
	"github.com/mongopipe/mongopipe/model"
)

// scenarioFile mirrors testdata/scenarios.yaml: one builder per description,
// each expected pipeline given in extended JSON.
type scenarioFile struct {
	Tests []struct {
		Description string `yaml:"description"`
		SkipReason  string `yaml:"skip_reason"`
		Pipeline    string `yaml:"pipeline"`
	} `yaml:"tests"`
}

func loadScenarios(t *testing.T) scenarioFile {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "scenarios.yaml"))
	require.NoError(t, err)

	var f scenarioFile
	require.NoError(t, candiedyaml.Unmarshal(raw, &f))
	return f
}

func scenarioModels() (post, account *model.Model) {
	account = model.New("account",
		model.Field{Name: "username"},
		model.Field{Name: "deleted_at"},
	)
	post = model.New("post",
		model.Field{Name: "caption"},
		model.Field{Name: "location"},
		model.Field{Name: "likes"},
		model.Field{Name: "hashtags", Array: true},
		model.Field{Name: "owner", Storage: "owner_id", Ref: account},
	)
	return post, account
}

func scenarioBuilders() map[string]func() *mongopipe.Pipeline {
	post, account := scenarioModels()

	return map[string]func() *mongopipe.Pipeline{
		"filter on a joined collection synthesizes the lookup and unwind": func() *mongopipe.Pipeline {
			return mongopipe.New(post).Filter(expr.C("owner__deleted_at", nil))
		},
		"sequential filters collapse into one match": func() *mongopipe.Pipeline {
			return mongopipe.New(post).
				Filter(expr.C("caption", "hello")).
				Filter(expr.C("likes__gte", 10))
		},
		"repeated joins to the same target are inserted once": func() *mongopipe.Pipeline {
			return mongopipe.New(post).
				Filter(expr.C("owner__deleted_at", nil)).
				Filter(expr.C("owner__username", "john"))
		},
		"range slicing becomes skip and limit": func() *mongopipe.Pipeline {
			return mongopipe.New(post).
				Filter(expr.C("caption", "hello")).
				Slice(3, 10)
		},
		"grouping by a reference field uses its storage name": func() *mongopipe.Pipeline {
			return mongopipe.New(post).Group("owner",
				mongopipe.Sum("total_likes", expr.F("likes")),
				mongopipe.Count("posts"),
			)
		},
		"disjunction compiles to an explicit or": func() *mongopipe.Pipeline {
			return mongopipe.New(post).Filter(expr.Or(
				expr.C("caption", "hello"),
				expr.C("location", "paris"),
			))
		},
		"unwind then group over array elements": func() *mongopipe.Pipeline {
			return mongopipe.New(post).
				Unwind("hashtags", false).
				Group("hashtags", mongopipe.Count("uses"))
		},
		"parametrized lookup carries let bindings and an inner match": func() *mongopipe.Pipeline {
			return mongopipe.New(post).LookupPipeline(account, "authors",
				[]mongopipe.Let{{Name: "owner", Field: "owner"}},
				expr.And(
					expr.Where("_id", expr.Ne, expr.Var("owner")),
					expr.Where("username", expr.Ne, "seyed"),
				),
			)
		},
		"projecting a remote field keeps the joined path": func() *mongopipe.Pipeline {
			return mongopipe.New(post).Project(
				mongopipe.Include("caption"),
				mongopipe.Include("owner__username"),
			)
		},
		"sort descending then limit": func() *mongopipe.Pipeline {
			return mongopipe.New(post).Sort("-likes").Limit(5)
		},
	}
}

// normalizePipeline parses an extended JSON pipeline and deparses it back, so
// both sides of a comparison carry the same formatting and type spellings.
func normalizePipeline(t *testing.T, extJSON string) string {
	t.Helper()

	var wrapper bson.D
	require.NoError(t, bson.UnmarshalExtJSON([]byte(`{"pipeline": `+extJSON+`}`), false, &wrapper))

	raw, err := bson.Marshal(wrapper)
	require.NoError(t, err)

	// GODRIVER-1930.
	arr := bsoncore.Array(bsoncore.Document(raw).Lookup("pipeline").Array())

	parsed, err := parser.ParsePipeline(arr)
	require.NoError(t, err)

	deparsed, err := parser.DeparsePipelineErr(parsed)
	require.NoError(t, err)
	return deparsed.String()
}

func TestScenarios(t *testing.T) {
	scenarios := loadScenarios(t)
	builders := scenarioBuilders()

	seen := make(map[string]bool, len(scenarios.Tests))
	for _, sc := range scenarios.Tests {
		sc := sc
		seen[sc.Description] = true

		t.Run(sc.Description, func(t *testing.T) {
			if sc.SkipReason != "" {
				t.Skip(sc.SkipReason)
			}

			build, ok := builders[sc.Description]
			require.True(t, ok, "no builder for scenario %q", sc.Description)

			actual, err := build().ExtJSON()
			require.NoError(t, err)

			expected := normalizePipeline(t, sc.Pipeline)
			if !cmp.Equal(expected, actual) {
				t.Fatalf("\nexpected:\n %s\ngot:\n %s", expected, actual)
			}
		})
	}

	for desc := range builders {
		if !seen[desc] {
			t.Errorf("builder %q has no scenario in testdata/scenarios.yaml", desc)
		}
	}
}
