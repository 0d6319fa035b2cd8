// Package feed implements the Feed Builder (component C6): decomposing a
// specification into atomic feeds whose union of fact-reference sequences
// reproduces the original specification's result.
package feed

import (
	"sort"
	"strconv"
	"strings"

	"github.com/latticefact/runtime/internal/spec"
)

// Feed is one atomic streaming unit: a linear chain of matches (at most one
// existential branch point) plus the given roots it is anchored on. Two
// feeds derived from equivalent specifications normalize to the same
// Describe() string.
type Feed struct {
	Given   []spec.Given
	Matches []spec.Match
}

// Build decomposes s into its constituent feeds. A leading run of
// path-only matches (no existential sub-conditions) forms one feed; each
// match that carries an existential condition additionally spawns one feed
// per branch of that existential, derived from the ancestor chain up to and
// including the existential's own inner matches.
func Build(s spec.Specification) []Feed {
	var feeds []Feed
	var chain []spec.Match

	for _, m := range s.Matches {
		chain = append(chain, stripExistentials(m))
		for _, cond := range m.Conditions {
			if cond.Kind != spec.ConditionExistential {
				continue
			}
			feeds = append(feeds, buildExistentialFeeds(s.Given, chain, *cond.Existential)...)
		}
	}

	feeds = append([]Feed{{Given: s.Given, Matches: chain}}, feeds...)
	return feeds
}

// stripExistentials returns a copy of m with its existential conditions
// removed, leaving only path conditions: existential branches are realized
// as their own derived feeds, not as part of the linear chain.
func stripExistentials(m spec.Match) spec.Match {
	out := spec.Match{UnknownLabel: m.UnknownLabel, UnknownType: m.UnknownType}
	for _, c := range m.Conditions {
		if c.Kind == spec.ConditionPath {
			out.Conditions = append(out.Conditions, c)
		}
	}
	return out
}

// buildExistentialFeeds derives one feed per existential sub-block: the
// ancestor chain (given roots through the match that carries the
// existential) followed by the existential's own inner matches.
func buildExistentialFeeds(given []spec.Given, ancestorChain []spec.Match, ec spec.ExistentialCondition) []Feed {
	var feeds []Feed
	var inner []spec.Match
	for _, m := range ec.Matches {
		inner = append(inner, stripExistentials(m))
		for _, cond := range m.Conditions {
			if cond.Kind != spec.ConditionExistential {
				continue
			}
			nestedChain := append(append([]spec.Match(nil), ancestorChain...), inner...)
			feeds = append(feeds, buildExistentialFeeds(given, nestedChain, *cond.Existential)...)
		}
	}
	combined := append(append([]spec.Match(nil), ancestorChain...), inner...)
	feeds = append([]Feed{{Given: given, Matches: combined}}, feeds...)
	return feeds
}

// Describe produces a stable textual description of a feed: deterministic
// across processes, so that feeds derived from equivalent specifications
// yield identical strings. Labels are rendered positionally so that
// alpha-renaming of labels does not change the description.
func (f Feed) Describe() string {
	var b strings.Builder
	labelIndex := make(map[string]int)
	order := func(label string) int {
		if idx, ok := labelIndex[label]; ok {
			return idx
		}
		idx := len(labelIndex)
		labelIndex[label] = idx
		return idx
	}

	givenOrder := make([]spec.Given, len(f.Given))
	copy(givenOrder, f.Given)
	sort.Slice(givenOrder, func(i, j int) bool { return givenOrder[i].Label < givenOrder[j].Label })

	for _, g := range givenOrder {
		order(g.Label)
		b.WriteString("given#")
		b.WriteString(strconv.Itoa(labelIndex[g.Label]))
		b.WriteString(":")
		b.WriteString(g.Type)
		b.WriteString(";")
	}
	for _, m := range f.Matches {
		order(m.UnknownLabel)
		b.WriteString("match#")
		b.WriteString(strconv.Itoa(labelIndex[m.UnknownLabel]))
		b.WriteString(":")
		b.WriteString(m.UnknownType)
		b.WriteString("[")
		for _, c := range m.Conditions {
			if c.Kind != spec.ConditionPath {
				continue
			}
			b.WriteString(describePath(order, *c.Path))
			b.WriteString(",")
		}
		b.WriteString("];")
	}
	return b.String()
}

func describePath(order func(string) int, pc spec.PathCondition) string {
	return describeExpr(order, pc.Left) + "=" + describeExpr(order, pc.Right)
}

func describeExpr(order func(string) int, e spec.PathExpr) string {
	var b strings.Builder
	b.WriteString("#")
	b.WriteString(strconv.Itoa(order(e.Label)))
	for _, r := range e.Roles {
		b.WriteString(".")
		b.WriteString(r)
	}
	return b.String()
}

// ToSpecification reconstitutes a runnable specification from a feed, for
// use with internal/evaluator.
func (f Feed) ToSpecification(projectLabel string) spec.Specification {
	return spec.Specification{
		Given:      f.Given,
		Matches:    f.Matches,
		Projection: spec.LabelProjection(projectLabel),
	}
}
