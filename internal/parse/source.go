package parse

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/classfind/internal/classfile"
	"github.com/phobologic/classfind/internal/lang"
	"github.com/phobologic/classfind/internal/model"
)

// ErrMalformed is returned for bytes that do not form a unit.
var ErrMalformed = classfile.ErrMalformed

const targetAnnotation = "java.lang.annotation.Target"

var targetConstRe = regexp.MustCompile(`\b(TYPE|ANNOTATION_TYPE|FIELD|METHOD)\b`)

// javaLang lists java.lang types that source files use without importing.
var javaLang = map[string]struct{}{
	"Object": {}, "String": {}, "Enum": {}, "Record": {}, "Number": {},
	"Boolean": {}, "Byte": {}, "Character": {}, "Short": {}, "Integer": {},
	"Long": {}, "Float": {}, "Double": {}, "Void": {}, "Class": {},
	"CharSequence": {}, "Comparable": {}, "Iterable": {}, "Runnable": {},
	"AutoCloseable": {}, "Cloneable": {}, "Thread": {}, "Throwable": {},
	"Exception": {}, "RuntimeException": {}, "Error": {},
	"Deprecated": {}, "Override": {}, "FunctionalInterface": {},
	"SuppressWarnings": {}, "SafeVarargs": {},
}

// Source parses a Java source file and returns the descriptor of its
// primary type: the top-level type named like the file, else the first
// top-level type. Nested types are not described.
func Source(data []byte, name string) (*model.UnitDescriptor, error) {
	l := lang.ForExtension(sourceSuffix)
	if l == nil {
		return nil, fmt.Errorf("no language registered for %s", sourceSuffix)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrMalformed)
	}
	query, err := l.GetContextQuery()
	if err != nil {
		return nil, err
	}

	tree, err := l.NewParser().ParseCtx(context.Background(), nil, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer tree.Close()
	root := tree.RootNode()

	q := newQualifier(l, query, root, data)

	var primary *sitter.Node
	want := model.SimpleName(name)
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if !l.IsTypeDeclaration(child.Type()) {
			continue
		}
		if primary == nil {
			primary = child
		}
		if n := child.ChildByFieldName("name"); n != nil && lang.NodeText(n, data) == want {
			primary = child
			break
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("%w: no type declaration", ErrMalformed)
	}
	return q.describe(primary), nil
}

// qualifier turns simple type names into qualified names using the
// compilation unit's package, imports and top-level declarations.
type qualifier struct {
	source   []byte
	pkg      string
	imports  map[string]string
	declared map[string]struct{}
}

func newQualifier(l *lang.Language, query *sitter.Query, root *sitter.Node, source []byte) *qualifier {
	q := &qualifier{
		source:   source,
		imports:  make(map[string]string),
		declared: make(map[string]struct{}),
	}

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)
	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range match.Captures {
			text := lang.NodeText(c.Node, source)
			switch query.CaptureNameForId(c.Index) {
			case "package":
				q.pkg = strings.Join(strings.Fields(text), "")
			case "import":
				q.addImport(text)
			}
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if !l.IsTypeDeclaration(child.Type()) {
			continue
		}
		if n := child.ChildByFieldName("name"); n != nil {
			q.declared[lang.NodeText(n, source)] = struct{}{}
		}
	}
	return q
}

func (q *qualifier) addImport(text string) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ";"))
	text = strings.TrimSpace(strings.TrimPrefix(text, "import"))
	if strings.HasPrefix(text, "static ") || strings.HasSuffix(text, "*") {
		return
	}
	qualified := strings.Join(strings.Fields(text), "")
	q.imports[model.SimpleName(qualified)] = qualified
}

func (q *qualifier) qualified(simple string) string {
	if q.pkg == "" {
		return simple
	}
	return q.pkg + "." + simple
}

// resolve qualifies a type name as written in source.
func (q *qualifier) resolve(name string) string {
	if i := strings.IndexAny(name, "<["); i >= 0 {
		name = name[:i]
	}
	name = strings.Join(strings.Fields(name), "")
	if name == "" {
		return ""
	}

	head, rest, nested := strings.Cut(name, ".")
	if nested {
		// Outer.Inner where Outer is a known simple name is a nested type.
		if outer, ok := q.lookupSimple(head); ok {
			return outer + "$" + strings.ReplaceAll(rest, ".", "$")
		}
		return name
	}
	if qualified, ok := q.lookupSimple(name); ok {
		return qualified
	}
	return q.qualified(name)
}

func (q *qualifier) lookupSimple(simple string) (string, bool) {
	if qualified, ok := q.imports[simple]; ok {
		return qualified, true
	}
	if _, ok := q.declared[simple]; ok {
		return q.qualified(simple), true
	}
	if _, ok := javaLang[simple]; ok {
		return "java.lang." + simple, true
	}
	return "", false
}

func (q *qualifier) describe(decl *sitter.Node) *model.UnitDescriptor {
	src := q.source
	d := &model.UnitDescriptor{}
	if n := decl.ChildByFieldName("name"); n != nil {
		d.Name = q.qualified(lang.NodeText(n, src))
	}

	switch decl.Type() {
	case "interface_declaration":
		d.AccessFlags = model.AccInterface | model.AccAbstract
		d.Superclass = model.ObjectType
	case "annotation_type_declaration":
		d.AccessFlags = model.AccInterface | model.AccAbstract | model.AccAnnotation
		d.Superclass = model.ObjectType
		d.Interfaces = []string{"java.lang.annotation.Annotation"}
	case "enum_declaration":
		d.AccessFlags = model.AccEnum
		d.Superclass = "java.lang.Enum"
	case "record_declaration":
		d.Superclass = "java.lang.Record"
	default:
		d.Superclass = model.ObjectType
	}

	for i := 0; i < int(decl.ChildCount()); i++ {
		child := decl.Child(i)
		switch child.Type() {
		case "modifiers":
			tags, targets := q.annotations(child)
			d.SelfTags = append(d.SelfTags, tags...)
			d.TagTargets |= targets
			if hasKeyword(child, "abstract") {
				d.AccessFlags |= model.AccAbstract
			}
		case "superclass":
			for _, t := range q.typeNames(child) {
				d.Superclass = t
			}
		case "super_interfaces", "extends_interfaces":
			d.Interfaces = append(d.Interfaces, q.typeNames(child)...)
		}
	}
	if d.Name == model.ObjectType {
		d.Superclass = model.RootSentinel
	}

	if body := decl.ChildByFieldName("body"); body != nil {
		q.members(body, d)
	}
	return d
}

// members collects fields and methods of a type body. Enum bodies nest
// their members in an enum_body_declarations node.
func (q *qualifier) members(body *sitter.Node, d *model.UnitDescriptor) {
	src := q.source
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "field_declaration", "constant_declaration":
			var tags []string
			if mods := firstChildOfType(member, "modifiers"); mods != nil {
				tags, _ = q.annotations(mods)
			}
			var typeText string
			if t := member.ChildByFieldName("type"); t != nil {
				typeText = lang.NodeText(t, src)
			}
			for _, decl := range lang.ChildrenOfType(member, "variable_declarator") {
				if n := decl.ChildByFieldName("name"); n != nil {
					d.Fields = append(d.Fields, model.Member{Name: lang.NodeText(n, src), Descriptor: typeText, Tags: tags})
				}
			}
		case "enum_constant":
			var tags []string
			if mods := firstChildOfType(member, "modifiers"); mods != nil {
				tags, _ = q.annotations(mods)
			}
			if n := member.ChildByFieldName("name"); n != nil {
				d.Fields = append(d.Fields, model.Member{Name: lang.NodeText(n, src), Descriptor: model.SimpleName(d.Name), Tags: tags})
			}
		case "method_declaration", "constructor_declaration", "annotation_type_element_declaration":
			var tags []string
			if mods := firstChildOfType(member, "modifiers"); mods != nil {
				tags, _ = q.annotations(mods)
			}
			name := "<init>"
			if member.Type() != "constructor_declaration" {
				if n := member.ChildByFieldName("name"); n != nil {
					name = lang.NodeText(n, src)
				}
			}
			params := "()"
			if p := member.ChildByFieldName("parameters"); p != nil {
				params = lang.CollapseWhitespace(lang.NodeText(p, src))
			}
			d.Methods = append(d.Methods, model.Member{Name: name, Descriptor: params, Tags: tags})
		case "enum_body_declarations":
			q.members(member, d)
		}
	}
}

// annotations returns the qualified names of the annotations in a
// modifiers node and, for @Target, the declared targets.
func (q *qualifier) annotations(mods *sitter.Node) ([]string, model.TargetSet) {
	var tags []string
	var targets model.TargetSet
	for i := 0; i < int(mods.NamedChildCount()); i++ {
		ann := mods.NamedChild(i)
		if ann.Type() != "marker_annotation" && ann.Type() != "annotation" {
			continue
		}
		n := ann.ChildByFieldName("name")
		if n == nil {
			continue
		}
		name := q.resolve(lang.NodeText(n, q.source))
		tags = append(tags, name)
		if name != targetAnnotation {
			continue
		}
		targets |= model.TargetDeclared
		if args := ann.ChildByFieldName("arguments"); args != nil {
			for _, c := range targetConstRe.FindAllString(lang.NodeText(args, q.source), -1) {
				switch c {
				case "TYPE", "ANNOTATION_TYPE":
					targets |= model.TargetType
				case "FIELD":
					targets |= model.TargetField
				case "METHOD":
					targets |= model.TargetMethod
				}
			}
		}
	}
	return tags, targets
}

// typeNames returns the qualified type names listed under a superclass or
// interfaces clause.
func (q *qualifier) typeNames(clause *sitter.Node) []string {
	var out []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "type_identifier", "scoped_type_identifier":
				out = append(out, q.resolve(lang.NodeText(child, q.source)))
			case "generic_type":
				if base := child.NamedChild(0); base != nil {
					out = append(out, q.resolve(lang.NodeText(base, q.source)))
				}
			case "type_list":
				visit(child)
			}
		}
	}
	visit(clause)
	return out
}

func firstChildOfType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		if child := node.Child(i); child.Type() == nodeType {
			return child
		}
	}
	return nil
}

func hasKeyword(mods *sitter.Node, keyword string) bool {
	for i := 0; i < int(mods.ChildCount()); i++ {
		if mods.Child(i).Type() == keyword {
			return true
		}
	}
	return false
}
