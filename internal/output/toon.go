package output

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/phobologic/classfind/internal/match"
	"github.com/phobologic/classfind/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodeText converts a Report into TOON (Token-Oriented Object Notation):
// scalar lines followed by tabular sections of the form name[N]{col,...}:.
func EncodeText(rep *Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("run: %s", encodeValue(rep.RunID)))
	parts = append(parts, fmt.Sprintf("namespace: %s", encodeValue(rep.Namespace)))
	parts = append(parts, fmt.Sprintf("predicate: %s", encodeValue(rep.Predicate)))

	var matchRows [][]string
	for i := range rep.Matches {
		m := &rep.Matches[i]
		matchRows = append(matchRows, []string{m.Name, m.Via, yesNo(m.Self)})
	}
	parts = append(parts, formatTabular("matches", []string{"name", "via", "self"}, matchRows))

	if rep.Kind == match.KindTaggedMembers.String() {
		var memberRows [][]string
		for i := range rep.Matches {
			m := &rep.Matches[i]
			for _, f := range m.Fields {
				memberRows = append(memberRows, []string{m.Name, string(model.FieldMember), f.Name, f.Descriptor})
			}
			for _, meth := range m.Methods {
				memberRows = append(memberRows, []string{m.Name, string(model.MethodMember), meth.Name, meth.Descriptor})
			}
		}
		parts = append(parts, formatTabular("members", []string{"owner", "kind", "name", "descriptor"}, memberRows))
	}

	var diagRows [][]string
	for i := range rep.Diagnostics {
		d := &rep.Diagnostics[i]
		diagRows = append(diagRows, []string{string(d.Severity), d.Code, d.Unit, d.Path, d.Message})
	}
	parts = append(parts, formatTabular("diagnostics", []string{"severity", "code", "unit", "path", "message"}, diagRows))

	if len(rep.Hierarchy) > 0 {
		var edgeRows [][]string
		for _, e := range rep.Hierarchy {
			edgeRows = append(edgeRows, []string{e.Source, e.Target, e.Kind})
		}
		parts = append(parts, formatTabular("hierarchy", []string{"source", "target", "kind"}, edgeRows))
	}

	if len(rep.Supertypes) > 0 {
		var rankRows [][]string
		for _, r := range rep.Supertypes {
			rankRows = append(rankRows, []string{r.Name, fmt.Sprintf("%.4f", r.Rank)})
		}
		parts = append(parts, formatTabular("supertypes", []string{"name", "rank"}, rankRows))
	}

	s := rep.Stats
	parts = append(parts, formatTabular("stats",
		[]string{"roots", "indexed", "inspected", "matched", "diagnostics", "duration"},
		[][]string{{
			strconv.Itoa(s.Roots),
			strconv.Itoa(s.Indexed),
			strconv.Itoa(s.Inspected),
			strconv.Itoa(s.Matched),
			strconv.Itoa(s.Diagnostics),
			s.Duration.Round(time.Millisecond).String(),
		}}))

	return strings.Join(parts, "\n")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
