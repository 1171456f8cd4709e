package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/phobologic/classfind/internal/model"
)

// MaxDepth bounds ancestor walks when no other limit is configured.
const MaxDepth = 256

var (
	// ErrCyclicAncestry is returned when an ancestor walk revisits a unit or
	// exceeds the depth limit.
	ErrCyclicAncestry = errors.New("cyclic ancestry")
	// ErrAlreadyProcessed is returned when a unit is inspected twice.
	ErrAlreadyProcessed = errors.New("unit already processed")
)

// Helper is what the matcher needs from the resolution layer.
type Helper interface {
	Resolve(ctx context.Context, name string) (*model.UnitDescriptor, error)
	Materialize(d *model.UnitDescriptor) (model.Handle, error)
	TagTargets(ctx context.Context, tag model.TagRef) model.TargetSet
}

// Record is one confirmed match. Only tagged-members predicates fill
// SelfMatched, Fields and Methods.
type Record struct {
	Name   string
	Handle model.Handle
	// Via is the unit in the ancestry that satisfied the predicate; it
	// equals Name when the candidate matched by itself.
	Via         string
	SelfMatched bool
	Fields      []model.MemberHandle
	Methods     []model.MemberHandle
}

// Matcher applies one predicate to a stream of candidates and accumulates
// the matches of a run.
type Matcher struct {
	pred     Predicate
	maxDepth int

	records   []Record
	processed map[string]struct{}

	targets      model.TargetSet
	targetsKnown bool
}

// NewMatcher creates a Matcher. A maxDepth of zero or less means MaxDepth.
func NewMatcher(pred Predicate, maxDepth int) *Matcher {
	if maxDepth <= 0 {
		maxDepth = MaxDepth
	}
	return &Matcher{
		pred:      pred,
		maxDepth:  maxDepth,
		processed: make(map[string]struct{}),
	}
}

// Inspect tests one candidate and records it when it matches. Failures to
// resolve an ancestor or to materialize a match abort this candidate only.
func (m *Matcher) Inspect(ctx context.Context, d *model.UnitDescriptor, h Helper) (bool, error) {
	if _, seen := m.processed[d.Name]; seen {
		return false, fmt.Errorf("%w: %s", ErrAlreadyProcessed, d.Name)
	}
	m.processed[d.Name] = struct{}{}

	switch m.pred.Kind {
	case KindSubtype:
		target := m.pred.Target
		return m.walk(ctx, d, h, func(u *model.UnitDescriptor) bool {
			return u.Name == target || target == model.ObjectType || u.Superclass == target
		})
	case KindImplements:
		target := m.pred.Target
		return m.walk(ctx, d, h, func(u *model.UnitDescriptor) bool {
			return u.Implements(target)
		})
	case KindTaggedSelf:
		if !d.HasTag(m.pred.Tag.Name) {
			return false, nil
		}
		return m.record(Record{Name: d.Name, Via: d.Name}, d, h)
	case KindTaggedMembers:
		return m.inspectMembers(ctx, d, h)
	default:
		return false, fmt.Errorf("%w: unknown kind %d", ErrInvalidPredicate, int(m.pred.Kind))
	}
}

// walk tests the candidate and then each superclass in turn until one
// matches or the root is reached. Only the candidate is materialized.
func (m *Matcher) walk(ctx context.Context, candidate *model.UnitDescriptor, h Helper, isMatch func(*model.UnitDescriptor) bool) (bool, error) {
	visited := make(map[string]struct{})
	d := candidate
	for depth := 0; ; depth++ {
		if depth >= m.maxDepth {
			return false, fmt.Errorf("%w: %s: depth limit %d reached at %s", ErrCyclicAncestry, candidate.Name, m.maxDepth, d.Name)
		}
		if _, seen := visited[d.Name]; seen {
			return false, fmt.Errorf("%w: %s: %s appears twice", ErrCyclicAncestry, candidate.Name, d.Name)
		}
		visited[d.Name] = struct{}{}

		if isMatch(d) {
			return m.record(Record{Name: candidate.Name, Via: d.Name}, candidate, h)
		}
		if d.IsRoot() {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		next, err := h.Resolve(ctx, d.Superclass)
		if err != nil {
			return false, fmt.Errorf("resolving ancestor %s of %s: %w", d.Superclass, candidate.Name, err)
		}
		d = next
	}
}

func (m *Matcher) inspectMembers(ctx context.Context, d *model.UnitDescriptor, h Helper) (bool, error) {
	tag := m.pred.Tag.Name
	if !m.targetsKnown {
		m.targets = h.TagTargets(ctx, m.pred.Tag)
		m.targetsKnown = true
	}

	rec := Record{Name: d.Name, Via: d.Name}
	if m.targets.Allows(model.TargetType) && d.HasTag(tag) {
		rec.SelfMatched = true
	}
	if m.targets.Allows(model.TargetField) {
		rec.Fields = memberHandles(d.Name, model.FieldMember, d.Fields, tag)
	}
	if m.targets.Allows(model.TargetMethod) {
		rec.Methods = memberHandles(d.Name, model.MethodMember, d.Methods, tag)
	}
	if !rec.SelfMatched && len(rec.Fields) == 0 && len(rec.Methods) == 0 {
		return false, nil
	}
	return m.record(rec, d, h)
}

func memberHandles(owner string, kind model.MemberKind, members []model.Member, tag string) []model.MemberHandle {
	var out []model.MemberHandle
	for _, mem := range members {
		if !mem.HasTag(tag) {
			continue
		}
		out = append(out, model.MemberHandle{
			MemberRef:  model.MemberRef{Owner: owner, Kind: kind, Name: mem.Name},
			Descriptor: mem.Descriptor,
		})
	}
	return out
}

func (m *Matcher) record(rec Record, candidate *model.UnitDescriptor, h Helper) (bool, error) {
	handle, err := h.Materialize(candidate)
	if err != nil {
		return false, err
	}
	rec.Handle = handle
	m.records = append(m.records, rec)
	return true, nil
}

// Records returns the matches in the order they were confirmed.
func (m *Matcher) Records() []Record {
	return append([]Record(nil), m.records...)
}

// Len returns the number of matches.
func (m *Matcher) Len() int {
	return len(m.records)
}
