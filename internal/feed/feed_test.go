package feed

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticefact/runtime/internal/spec"
)

func linearSpec() spec.Specification {
	return spec.Specification{
		Given: []spec.Given{{Label: "b", Type: "Blog"}},
		Matches: []spec.Match{{
			UnknownLabel: "p",
			UnknownType:  "Post",
			Conditions: []spec.Condition{{
				Kind: spec.ConditionPath,
				Path: &spec.PathCondition{
					Left:  spec.PathExpr{Label: "p", Roles: []string{"blog"}},
					Right: spec.PathExpr{Label: "b"},
				},
			}},
		}},
		Projection: spec.LabelProjection("p"),
	}
}

func TestBuild_LinearSpecificationYieldsOneFeed(t *testing.T) {
	feeds := Build(linearSpec())
	require.Len(t, feeds, 1)
	require.Len(t, feeds[0].Matches, 1)
}

func TestBuild_ExistentialConditionSpawnsAdditionalFeed(t *testing.T) {
	s := linearSpec()
	s.Matches[0].Conditions = append(s.Matches[0].Conditions, spec.Condition{
		Kind: spec.ConditionExistential,
		Existential: &spec.ExistentialCondition{
			Exists: false,
			Matches: []spec.Match{{
				UnknownLabel: "d",
				UnknownType:  "Post.Deleted",
				Conditions: []spec.Condition{{
					Kind: spec.ConditionPath,
					Path: &spec.PathCondition{
						Left:  spec.PathExpr{Label: "d", Roles: []string{"post"}},
						Right: spec.PathExpr{Label: "p"},
					},
				}},
			}},
		},
	})

	feeds := Build(s)
	require.Len(t, feeds, 2, "one feed for the linear chain, one for the existential branch")
}

func TestDescribe_IsStableAndInsensitiveToLabelNames(t *testing.T) {
	a := linearSpec()
	b := linearSpec()
	b.Given[0].Label = "blog0"
	b.Matches[0].UnknownLabel = "post0"
	b.Matches[0].Conditions[0].Path.Left.Label = "post0"
	b.Matches[0].Conditions[0].Path.Right.Label = "blog0"

	feedsA := Build(a)
	feedsB := Build(b)
	require.Equal(t, feedsA[0].Describe(), feedsB[0].Describe(), "alpha-renamed labels must describe identically")
}

func TestDescribe_DiffersForDifferentTypes(t *testing.T) {
	a := linearSpec()
	b := linearSpec()
	b.Matches[0].UnknownType = "Comment"

	feedsA := Build(a)
	feedsB := Build(b)
	require.NotEqual(t, feedsA[0].Describe(), feedsB[0].Describe())
}
