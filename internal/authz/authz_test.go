package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/store"
)

func mustFact(t *testing.T, typ string, fields map[string]facts.FieldValue, preds map[string]facts.Predecessor) facts.Fact {
	t.Helper()
	f, err := facts.New(typ, fields, preds)
	require.NoError(t, err)
	return *f
}

func TestRegisterSelector_RejectsEmptyRoleChain(t *testing.T) {
	e := New()
	err := e.RegisterSelector("Post", Selector{})
	require.ErrorIs(t, err, ErrInvalidAuthorizationRule)
}

func TestAuthorizedPopulation_AnyRuleGrantsEveryone(t *testing.T) {
	e := New()
	e.RegisterAny("Comment")

	s := store.NewInMemory()
	f := mustFact(t, "Comment", nil, nil)

	pop, err := e.AuthorizedPopulation(context.Background(), s, f)
	require.NoError(t, err)
	require.True(t, pop.Everyone)
	require.True(t, pop.Allows("anyone's key"))
}

func TestAuthorizedPopulation_NoRuleMeansNobody(t *testing.T) {
	e := New()
	s := store.NewInMemory()
	f := mustFact(t, "Comment", nil, nil)

	pop, err := e.AuthorizedPopulation(context.Background(), s, f)
	require.NoError(t, err)
	require.False(t, pop.Everyone)
	require.False(t, pop.Allows("anyone"))
}

func TestAuthorize_SelectorGrantsOnlyResolvedAuthor(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemory()

	author := mustFact(t, "User", map[string]facts.FieldValue{"publicKey": "pem-author"}, nil)
	other := mustFact(t, "User", map[string]facts.FieldValue{"publicKey": "pem-other"}, nil)
	blog := mustFact(t, "Blog", nil, map[string]facts.Predecessor{"owner": facts.One(author.Reference())})
	post := mustFact(t, "Post", nil, map[string]facts.Predecessor{"blog": facts.One(blog.Reference())})

	_, err := s.Save(ctx, []facts.Envelope{{Fact: author}, {Fact: other}, {Fact: blog}, {Fact: post}})
	require.NoError(t, err)

	e := New()
	require.NoError(t, e.RegisterSelector("Post", Selector{Roles: []string{"blog", "owner"}}))

	ok, err := e.Authorize(ctx, s, post, "pem-author")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Authorize(ctx, s, post, "pem-other")
	require.NoError(t, err)
	require.False(t, ok)
}
