package inverse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticefact/runtime/internal/spec"
)

func blogPostSpec() spec.Specification {
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

func TestDerive_PlainMatchYieldsAddedOnlyInverse(t *testing.T) {
	invs := Derive(blogPostSpec())
	require.Len(t, invs, 1)
	require.Equal(t, "Post", invs[0].Type)
	require.Equal(t, "blog", invs[0].Role)
	require.Equal(t, "b", invs[0].AnchorLabel)
	require.True(t, invs[0].HasAdded())
	require.False(t, invs[0].HasRemoved())
}

func TestDerive_ExistsConditionYieldsAddedOnlyInverse(t *testing.T) {
	s := blogPostSpec()
	s.Matches[0].Conditions = append(s.Matches[0].Conditions, spec.Condition{
		Kind: spec.ConditionExistential,
		Existential: &spec.ExistentialCondition{
			Exists: true,
			Matches: []spec.Match{{
				UnknownLabel: "l",
				UnknownType:  "Post.Liked",
				Conditions: []spec.Condition{{
					Kind: spec.ConditionPath,
					Path: &spec.PathCondition{
						Left:  spec.PathExpr{Label: "l", Roles: []string{"post"}},
						Right: spec.PathExpr{Label: "p"},
					},
				}},
			}},
		},
	})

	invs := Derive(s)
	require.Len(t, invs, 2)

	var likedInv *Inverse
	for i := range invs {
		if invs[i].Type == "Post.Liked" {
			likedInv = &invs[i]
		}
	}
	require.NotNil(t, likedInv)
	require.True(t, likedInv.HasAdded(), "exists condition flips false->true on new facts, so it only adds results")
	require.False(t, likedInv.HasRemoved())
}

func TestDerive_NotExistsConditionYieldsRemovedOnlyInverse(t *testing.T) {
	s := blogPostSpec()
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

	invs := Derive(s)
	require.Len(t, invs, 2)

	var deletedInv *Inverse
	for i := range invs {
		if invs[i].Type == "Post.Deleted" {
			deletedInv = &invs[i]
		}
	}
	require.NotNil(t, deletedInv)
	require.False(t, deletedInv.HasAdded())
	require.True(t, deletedInv.HasRemoved(), "notExists flips true->false on new facts, so it only removes results")
	// The removed specification must have stripped the notExists condition,
	// leaving just the path condition, so re-running it surfaces the
	// now-excluded post.
	require.Len(t, deletedInv.Removed.Matches[0].Conditions, 1)
}
