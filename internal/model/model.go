// Package model defines core data structures for classfind.
package model

import (
	"strings"
)

// RootSentinel is the superclass name of the top of the hierarchy.
const RootSentinel = "<root>"

// ObjectType is the universal root type of the class hierarchy.
const ObjectType = "java.lang.Object"

// Access flags read from a compiled unit.
const (
	AccInterface  uint16 = 0x0200
	AccAbstract   uint16 = 0x0400
	AccAnnotation uint16 = 0x2000
	AccEnum       uint16 = 0x4000
)

// TargetSet is the set of element kinds a tag kind may be attached to.
type TargetSet uint8

const (
	TargetType TargetSet = 1 << iota
	TargetField
	TargetMethod
	// TargetDeclared records that the tag kind declares its targets, even
	// when none of them is a type, field or method.
	TargetDeclared

	// TargetsUnspecified means the tag kind declares no restriction.
	TargetsUnspecified TargetSet = 0
	// TargetAll allows every element kind.
	TargetAll = TargetType | TargetField | TargetMethod
)

// Allows reports whether t permits attachment to kind. An unspecified set allows everything.
func (t TargetSet) Allows(kind TargetSet) bool {
	if t == TargetsUnspecified {
		return true
	}
	return t&kind != 0
}

// String renders the set as a comma-separated list, e.g. "type,method".
func (t TargetSet) String() string {
	if t == TargetsUnspecified {
		return "unspecified"
	}
	var parts []string
	if t&TargetType != 0 {
		parts = append(parts, "type")
	}
	if t&TargetField != 0 {
		parts = append(parts, "field")
	}
	if t&TargetMethod != 0 {
		parts = append(parts, "method")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// ParseTargets parses a comma-separated target list ("type,field,method").
// Unknown names are returned in the second result.
func ParseTargets(s string) (TargetSet, []string) {
	var set TargetSet
	var unknown []string
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "type", "self", "class":
			set |= TargetType
		case "field":
			set |= TargetField
		case "method":
			set |= TargetMethod
		default:
			unknown = append(unknown, part)
		}
	}
	return set, unknown
}

// TagRef identifies a metadata tag kind by fully qualified name.
// Targets is the allowed-target set declared by the tag kind; zero means
// it has to be looked up from the tag kind's own descriptor.
type TagRef struct {
	Name    string
	Targets TargetSet
}

// MemberKind distinguishes fields from methods.
type MemberKind string

const (
	FieldMember  MemberKind = "field"
	MethodMember MemberKind = "method"
)

// MemberRef identifies a member of a compiled unit.
type MemberRef struct {
	Owner string
	Kind  MemberKind
	Name  string
}

// MemberHandle is a matched member. Descriptor is the JVM type descriptor,
// which tells overloaded methods apart.
type MemberHandle struct {
	MemberRef
	Descriptor string
}

// Member is a field or method as read from a compiled unit.
type Member struct {
	Name       string
	Descriptor string
	Tags       []string
}

// HasTag reports whether the member carries the named tag.
func (m Member) HasTag(name string) bool {
	return contains(m.Tags, name)
}

// UnitDescriptor is the structural summary of one compiled unit.
// It is immutable once parsed.
type UnitDescriptor struct {
	Name        string
	Superclass  string
	Interfaces  []string
	AccessFlags uint16
	SelfTags    []string
	Fields      []Member
	Methods     []Member
	// TagTargets is set when the unit is itself a tag kind (annotation type).
	TagTargets TargetSet
	// Origin is where the descriptor came from: a file path, an archive entry
	// or "platform".
	Origin string
}

// IsRoot reports whether the unit has no further ancestor.
func (d *UnitDescriptor) IsRoot() bool {
	return d.Superclass == RootSentinel || d.Superclass == ""
}

// IsInterface reports whether the unit is an interface (annotation types included).
func (d *UnitDescriptor) IsInterface() bool {
	return d.AccessFlags&AccInterface != 0
}

// Implements reports whether name is among the declared interfaces.
func (d *UnitDescriptor) Implements(name string) bool {
	return contains(d.Interfaces, name)
}

// HasTag reports whether the unit itself carries the named tag.
func (d *UnitDescriptor) HasTag(name string) bool {
	return contains(d.SelfTags, name)
}

// SimpleName returns the last segment of a qualified name.
func SimpleName(name string) string {
	if i := strings.LastIndexAny(name, ".$"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// PackageOf returns the namespace part of a qualified name, or "" for the
// default package.
func PackageOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i]
	}
	return ""
}

// Handle is the host's live representation of a unit, produced by a
// materializer for confirmed matches only.
type Handle interface {
	Name() string
}

// Edge is an ancestry relation between two resolved units.
type Edge struct {
	Source string
	Target string
	Kind   EdgeKind
}

// EdgeKind distinguishes superclass edges from interface edges.
type EdgeKind string

const (
	Extends        EdgeKind = "extends"
	ImplementsEdge EdgeKind = "implements"
)

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
