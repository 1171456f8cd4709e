// Package hierarchy builds ancestry edges between resolved units and ranks
// the supertypes they converge on.
package hierarchy

import (
	"math"
	"sort"

	"github.com/phobologic/classfind/internal/model"
)

// Build creates extends and implements edges from resolved descriptors.
// Edges to the root sentinel are dropped; the result is deduplicated and
// sorted by source, target, then kind.
func Build(descs []*model.UnitDescriptor) []model.Edge {
	type edgeKey struct {
		src, tgt string
		kind     model.EdgeKind
	}
	seen := make(map[edgeKey]struct{})

	var edges []model.Edge
	add := func(src, tgt string, kind model.EdgeKind) {
		if tgt == "" || tgt == model.RootSentinel || src == tgt {
			return
		}
		key := edgeKey{src, tgt, kind}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		edges = append(edges, model.Edge{Source: src, Target: tgt, Kind: kind})
	}

	for _, d := range descs {
		if d == nil {
			continue
		}
		add(d.Name, d.Superclass, model.Extends)
		for _, iface := range d.Interfaces {
			add(d.Name, iface, model.ImplementsEdge)
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Kind < edges[j].Kind
	})

	return edges
}

// Ancestry returns the superclass chain of name as recorded in edges,
// nearest first. It stops at the first repeated name.
func Ancestry(edges []model.Edge, name string) []string {
	super := make(map[string]string)
	for _, e := range edges {
		if e.Kind == model.Extends {
			super[e.Source] = e.Target
		}
	}

	var chain []string
	seen := map[string]struct{}{name: {}}
	for cur := super[name]; cur != ""; cur = super[cur] {
		if _, dup := seen[cur]; dup {
			break
		}
		seen[cur] = struct{}{}
		chain = append(chain, cur)
	}
	return chain
}

// Reachable returns every name reachable from the given names by following
// edges toward supertypes, the starting names included.
func Reachable(edges []model.Edge, names []string) map[string]struct{} {
	out := make(map[string][]string)
	for _, e := range edges {
		out[e.Source] = append(out[e.Source], e.Target)
	}

	reached := make(map[string]struct{}, len(names))
	queue := append([]string(nil), names...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if _, ok := reached[n]; ok {
			continue
		}
		reached[n] = struct{}{}
		queue = append(queue, out[n]...)
	}
	return reached
}

// Ranked is a type with its PageRank score over the hierarchy.
type Ranked struct {
	Name string  `json:"name" yaml:"name"`
	Rank float64 `json:"rank" yaml:"rank"`
}

// Rank applies PageRank to the types named in edges, with rank flowing from
// subtypes to supertypes, and returns them sorted by rank descending. Types
// many units converge on score highest.
func Rank(edges []model.Edge) []Ranked {
	nodes := make(map[string]struct{})
	outEdges := make(map[string][]string)
	outDegree := make(map[string]int)
	for _, e := range edges {
		nodes[e.Source] = struct{}{}
		nodes[e.Target] = struct{}{}
		outEdges[e.Source] = append(outEdges[e.Source], e.Target)
		outDegree[e.Source]++
	}
	if len(nodes) == 0 {
		return nil
	}

	ranks := pageRank(nodes, outEdges, outDegree, 0.85, 100, 1e-6)

	out := make([]Ranked, 0, len(ranks))
	for name, r := range ranks {
		out = append(out, Ranked{Name: name, Rank: r})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func pageRank(
	nodes map[string]struct{},
	outEdges map[string][]string,
	outDegree map[string]int,
	alpha float64,
	maxIter int,
	tol float64,
) map[string]float64 {
	n := len(nodes)
	if n == 0 {
		return nil
	}

	rank := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for node := range nodes {
		rank[node] = initial
	}

	teleport := (1.0 - alpha) / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		newRank := make(map[string]float64, n)

		// Root types have no outgoing edges; spread their rank evenly.
		var danglingSum float64
		for node := range nodes {
			if outDegree[node] == 0 {
				danglingSum += rank[node]
			}
		}
		danglingContrib := alpha * danglingSum / float64(n)

		for node := range nodes {
			newRank[node] = teleport + danglingContrib
		}

		for src, targets := range outEdges {
			deg := float64(outDegree[src])
			contrib := alpha * rank[src] / deg
			for _, tgt := range targets {
				newRank[tgt] += contrib
			}
		}

		var diff float64
		for node := range nodes {
			diff += math.Abs(newRank[node] - rank[node])
		}

		rank = newRank

		if diff < tol {
			break
		}
	}

	return rank
}
