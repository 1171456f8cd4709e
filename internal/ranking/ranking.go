// Package ranking narrows a discovery result down to the matches a caller
// asked to see.
package ranking

import (
	"strings"

	"github.com/phobologic/classfind/internal/discover"
	"github.com/phobologic/classfind/internal/hierarchy"
	"github.com/phobologic/classfind/internal/match"
	"github.com/phobologic/classfind/internal/model"
)

// Select returns a copy of res holding only the first limit matches. If
// limit is <= 0 or >= the number of matches, res is returned unchanged.
// Hierarchy edges and supertypes are trimmed to what the kept matches reach.
// Stats still describe the whole run.
func Select(res *discover.Result, limit int) *discover.Result {
	if limit <= 0 || limit >= len(res.Matches) {
		return res
	}
	return narrow(res, append([]match.Record(nil), res.Matches[:limit]...))
}

// FilterByName returns a copy of res with only the matches whose qualified
// name contains substr (case-insensitive).
//
// When withMembers is true and no match name contains substr, the filter
// falls back to member names: matches keep only the fields and methods
// whose name contains substr, and matches left without members are dropped.
func FilterByName(res *discover.Result, substr string, withMembers bool) *discover.Result {
	lower := strings.ToLower(substr)

	var kept []match.Record
	for _, rec := range res.Matches {
		if strings.Contains(strings.ToLower(rec.Name), lower) {
			kept = append(kept, rec)
		}
	}

	if withMembers && len(kept) == 0 {
		for _, rec := range res.Matches {
			rec.Fields = filterMembers(rec.Fields, lower)
			rec.Methods = filterMembers(rec.Methods, lower)
			if len(rec.Fields) > 0 || len(rec.Methods) > 0 {
				rec.SelfMatched = false
				kept = append(kept, rec)
			}
		}
	}

	return narrow(res, kept)
}

func filterMembers(hs []model.MemberHandle, lower string) []model.MemberHandle {
	var out []model.MemberHandle
	for _, h := range hs {
		if strings.Contains(strings.ToLower(h.Name), lower) {
			out = append(out, h)
		}
	}
	return out
}

func narrow(res *discover.Result, kept []match.Record) *discover.Result {
	out := *res
	out.Matches = kept

	if len(res.Hierarchy) == 0 {
		return &out
	}

	names := make([]string, len(kept))
	for i, rec := range kept {
		names[i] = rec.Name
	}
	reached := hierarchy.Reachable(res.Hierarchy, names)

	out.Hierarchy = nil
	for _, e := range res.Hierarchy {
		if _, ok := reached[e.Source]; ok {
			out.Hierarchy = append(out.Hierarchy, e)
		}
	}
	out.Supertypes = nil
	for _, r := range res.Supertypes {
		if _, ok := reached[r.Name]; ok {
			out.Supertypes = append(out.Supertypes, r)
		}
	}
	return &out
}
