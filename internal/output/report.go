package output

import (
	"github.com/phobologic/classfind/internal/discover"
	"github.com/phobologic/classfind/internal/hierarchy"
	"github.com/phobologic/classfind/internal/model"
)

// Report is the serialisable view of a discovery result.
type Report struct {
	RunID       string                `json:"run_id" yaml:"run_id"`
	Namespace   string                `json:"namespace" yaml:"namespace"`
	Predicate   string                `json:"predicate" yaml:"predicate"`
	Kind        string                `json:"kind" yaml:"kind"`
	Matches     []Match               `json:"matches" yaml:"matches"`
	Diagnostics []discover.Diagnostic `json:"diagnostics" yaml:"diagnostics"`
	Hierarchy   []Edge                `json:"hierarchy,omitempty" yaml:"hierarchy,omitempty"`
	Supertypes  []hierarchy.Ranked    `json:"supertypes,omitempty" yaml:"supertypes,omitempty"`
	Stats       discover.Stats        `json:"stats" yaml:"stats"`
}

// Match is one matched unit. Members are only set for tagged-members runs.
type Match struct {
	Name string `json:"name" yaml:"name"`
	Via  string `json:"via,omitempty" yaml:"via,omitempty"`
	Self bool   `json:"self,omitempty" yaml:"self,omitempty"`
	// Ancestry is the superclass chain, nearest first, when the hierarchy
	// was requested.
	Ancestry []string `json:"ancestry,omitempty" yaml:"ancestry,omitempty"`
	Fields   []Member `json:"fields,omitempty" yaml:"fields,omitempty"`
	Methods  []Member `json:"methods,omitempty" yaml:"methods,omitempty"`
}

// Member is a matched field or method.
type Member struct {
	Name       string `json:"name" yaml:"name"`
	Descriptor string `json:"descriptor,omitempty" yaml:"descriptor,omitempty"`
}

// Edge is an ancestry edge.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Kind   string `json:"kind" yaml:"kind"`
}

// NewReport converts res into a Report. Handles are reported by name only.
func NewReport(res *discover.Result) *Report {
	rep := &Report{
		RunID:       res.RunID,
		Namespace:   res.Namespace,
		Predicate:   res.Predicate.String(),
		Kind:        res.Predicate.Kind.String(),
		Matches:     make([]Match, 0, len(res.Matches)),
		Diagnostics: res.Diagnostics,
		Supertypes:  res.Supertypes,
		Stats:       res.Stats,
	}
	if rep.Diagnostics == nil {
		rep.Diagnostics = []discover.Diagnostic{}
	}
	for _, rec := range res.Matches {
		m := Match{
			Name:    rec.Name,
			Via:     rec.Via,
			Self:    rec.SelfMatched,
			Fields:  members(rec.Fields),
			Methods: members(rec.Methods),
		}
		if len(res.Hierarchy) > 0 {
			m.Ancestry = hierarchy.Ancestry(res.Hierarchy, rec.Name)
		}
		if rec.Handle != nil {
			m.Name = rec.Handle.Name()
		}
		rep.Matches = append(rep.Matches, m)
	}
	for _, e := range res.Hierarchy {
		rep.Hierarchy = append(rep.Hierarchy, Edge{Source: e.Source, Target: e.Target, Kind: string(e.Kind)})
	}
	return rep
}

func members(hs []model.MemberHandle) []Member {
	if len(hs) == 0 {
		return nil
	}
	out := make([]Member, len(hs))
	for i, h := range hs {
		out[i] = Member{Name: h.Name, Descriptor: h.Descriptor}
	}
	return out
}
