package model

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testModels() (post, account, company *Model) {
	company = New("company",
		Field{Name: "name"},
	)
	stats := New("",
		Field{Name: "views"},
		Field{Name: "shares"},
	)
	account = New("account",
		Field{Name: "username"},
		Field{Name: "deleted_at"},
		Field{Name: "company", Storage: "company_id", Ref: company},
	)
	post = New("post",
		Field{Name: "caption"},
		Field{Name: "owner", Storage: "owner_id", Ref: account},
		Field{Name: "hashtags", Array: true},
		Field{Name: "stats", Embedded: stats},
	)
	return post, account, company
}

func TestResolve(t *testing.T) {
	post, _, _ := testModels()

	tests := []struct {
		name string
		path string
		want FieldRef
	}{
		{
			name: "local field",
			path: "caption",
			want: FieldRef{Path: "caption"},
		},
		{
			name: "implicit primary key",
			path: "_id",
			want: FieldRef{Path: "_id"},
		},
		{
			name: "reference field addressed directly uses its storage name",
			path: "owner",
			want: FieldRef{Path: "owner_id"},
		},
		{
			name: "array field carries its kind",
			path: "hashtags",
			want: FieldRef{Path: "hashtags", Array: true},
		},
		{
			name: "embedded field is a dotted local path",
			path: "stats__views",
			want: FieldRef{Path: "stats.views"},
		},
		{
			name: "remote field needs one join hop",
			path: "owner__deleted_at",
			want: FieldRef{
				Path: "owner.deleted_at",
				Joins: []JoinSpec{
					{From: "account", LocalField: "owner_id", ForeignField: "_id", As: "owner"},
				},
			},
		},
		{
			name: "dotted separator is equivalent",
			path: "owner.deleted_at",
			want: FieldRef{
				Path: "owner.deleted_at",
				Joins: []JoinSpec{
					{From: "account", LocalField: "owner_id", ForeignField: "_id", As: "owner"},
				},
			},
		},
		{
			name: "two-hop path chains joins in order",
			path: "owner__company__name",
			want: FieldRef{
				Path: "owner.company.name",
				Joins: []JoinSpec{
					{From: "account", LocalField: "owner_id", ForeignField: "_id", As: "owner"},
					{From: "company", LocalField: "owner.company_id", ForeignField: "_id", As: "owner.company"},
				},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := post.Resolve(test.path)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", test.path, err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Fatalf("Resolve(%q) mismatch (-want +got):\n%s", test.path, diff)
			}
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	post, _, _ := testModels()

	first, err := post.Resolve("owner__company__name")
	if err != nil {
		t.Fatal(err)
	}
	second, err := post.Resolve("owner__company__name")
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(first, second) {
		t.Fatalf("resolution not deterministic:\n%s", cmp.Diff(first, second))
	}
}

func TestResolveUnknownField(t *testing.T) {
	post, _, _ := testModels()

	tests := []struct {
		name       string
		path       string
		collection string
		field      string
	}{
		{name: "unknown root segment", path: "bogus", collection: "post", field: "bogus"},
		{name: "unknown segment on referenced model", path: "owner__bogus", collection: "account", field: "bogus"},
		{name: "trailing segment on a plain field", path: "caption__size", collection: "post", field: "size"},
		{name: "unknown mid-path segment", path: "bogus__deleted_at", collection: "post", field: "bogus"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := post.Resolve(test.path)
			var unknown *UnknownFieldError
			if !errors.As(err, &unknown) {
				t.Fatalf("Resolve(%q) = %v, want UnknownFieldError", test.path, err)
			}
			if unknown.Collection != test.collection || unknown.Field != test.field {
				t.Fatalf("Resolve(%q) reported %q on %q, want %q on %q",
					test.path, unknown.Field, unknown.Collection, test.field, test.collection)
			}
		})
	}
}

func TestPrimaryKeyOverride(t *testing.T) {
	m := NewWithPrimaryKey("events", "event_id", Field{Name: "kind"})

	ref, err := m.Resolve("event_id")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Path != "event_id" {
		t.Fatalf("got %q, want event_id", ref.Path)
	}
	if m.PrimaryKey() != "event_id" {
		t.Fatalf("PrimaryKey() = %q", m.PrimaryKey())
	}
}
