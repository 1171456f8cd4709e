// Package match decides which units satisfy a structural predicate and
// records the confirmed matches.
package match

import (
	"errors"
	"fmt"
	"strings"

	"github.com/phobologic/classfind/internal/model"
)

// ErrInvalidPredicate is returned for predicates without a usable target.
var ErrInvalidPredicate = errors.New("invalid predicate")

// Kind selects the predicate variant.
type Kind int

const (
	// KindSubtype matches units whose ancestry reaches a type.
	KindSubtype Kind = iota + 1
	// KindImplements matches units whose class chain declares an interface.
	KindImplements
	// KindTaggedSelf matches units that carry a tag themselves.
	KindTaggedSelf
	// KindTaggedMembers matches units whose type, fields or methods carry a
	// tag, recording which elements matched.
	KindTaggedMembers
)

var kindNames = map[Kind]string{
	KindSubtype:       "subtype-of",
	KindImplements:    "implements",
	KindTaggedSelf:    "annotated-with",
	KindTaggedMembers: "annotated-elements",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidPredicate, s)
}

// MarshalText renders the kind name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Predicate is one structural question asked of every unit.
type Predicate struct {
	Kind Kind
	// Target is the type or interface for KindSubtype and KindImplements.
	Target string
	// Tag is the tag kind for KindTaggedSelf and KindTaggedMembers.
	Tag model.TagRef
}

// SubtypeOf matches units whose class chain reaches name.
func SubtypeOf(name string) Predicate {
	return Predicate{Kind: KindSubtype, Target: name}
}

// Implements matches units whose class chain declares interface name.
func Implements(name string) Predicate {
	return Predicate{Kind: KindImplements, Target: name}
}

// AnnotatedWith matches units carrying tag on the type itself.
func AnnotatedWith(tag model.TagRef) Predicate {
	return Predicate{Kind: KindTaggedSelf, Tag: tag}
}

// AnnotatedElements matches units carrying tag on the type, a field or a
// method, as permitted by the tag's targets.
func AnnotatedElements(tag model.TagRef) Predicate {
	return Predicate{Kind: KindTaggedMembers, Tag: tag}
}

// New builds a predicate of kind about subject. targets only applies to the
// tag kinds.
func New(kind Kind, subject string, targets model.TargetSet) Predicate {
	switch kind {
	case KindTaggedSelf, KindTaggedMembers:
		return Predicate{Kind: kind, Tag: model.TagRef{Name: subject, Targets: targets}}
	default:
		return Predicate{Kind: kind, Target: subject}
	}
}

// Subject is the type or tag name the predicate is about.
func (p Predicate) Subject() string {
	switch p.Kind {
	case KindTaggedSelf, KindTaggedMembers:
		return p.Tag.Name
	default:
		return p.Target
	}
}

// Validate checks that the predicate has a kind and a subject.
func (p Predicate) Validate() error {
	if _, ok := kindNames[p.Kind]; !ok {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidPredicate, int(p.Kind))
	}
	if strings.TrimSpace(p.Subject()) == "" {
		return fmt.Errorf("%w: %s needs a qualified name", ErrInvalidPredicate, p.Kind)
	}
	return nil
}

func (p Predicate) String() string {
	s := p.Kind.String() + " " + p.Subject()
	if p.Kind == KindTaggedMembers && p.Tag.Targets != model.TargetsUnspecified {
		s += " [" + p.Tag.Targets.String() + "]"
	}
	return s
}
