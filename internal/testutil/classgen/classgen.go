// Package classgen assembles minimal class files and archives for tests.
package classgen

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Access flags used by fixtures.
const (
	AccPublic     uint16 = 0x0001
	AccInterface  uint16 = 0x0200
	AccAbstract   uint16 = 0x0400
	AccAnnotation uint16 = 0x2000
	AccEnum       uint16 = 0x4000
)

// NoSuper marks a class without superclass (super_class index 0).
const NoSuper = "-"

// Annotation is a runtime-visible annotation on a class or member.
type Annotation struct {
	Type string
	// Targets become a @java.lang.annotation.Target value when Type is
	// java.lang.annotation.Target.
	Targets []string
	// Params adds a spread of element values (int, long, string, class,
	// array, nested annotation) so parsers have to walk them.
	Params bool
}

// Member is a field or method.
type Member struct {
	Name        string
	Descriptor  string
	Annotations []Annotation
}

// Class describes a class file to generate. Names are qualified with dots.
type Class struct {
	Name        string
	Super       string // "" means java.lang.Object, NoSuper means none
	Interfaces  []string
	Access      uint16
	Annotations []Annotation
	Fields      []Member
	Methods     []Member
}

// Tags builds marker annotations.
func Tags(types ...string) []Annotation {
	out := make([]Annotation, len(types))
	for i, t := range types {
		out[i] = Annotation{Type: t}
	}
	return out
}

// TagKind builds an annotation type restricted to the given ElementType
// constants (TYPE, FIELD, METHOD, ...). No targets means no @Target.
func TagKind(name string, targets ...string) Class {
	c := Class{
		Name:       name,
		Interfaces: []string{"java.lang.annotation.Annotation"},
		Access:     AccPublic | AccInterface | AccAbstract | AccAnnotation,
	}
	if len(targets) > 0 {
		c.Annotations = []Annotation{{Type: "java.lang.annotation.Target", Targets: targets}}
	}
	return c
}

type poolBuilder struct {
	buf   bytes.Buffer
	count uint16
	utf8  map[string]uint16
	class map[string]uint16
}

func newPool() *poolBuilder {
	return &poolBuilder{count: 1, utf8: map[string]uint16{}, class: map[string]uint16{}}
}

func (p *poolBuilder) Utf8(s string) uint16 {
	if idx, ok := p.utf8[s]; ok {
		return idx
	}
	p.buf.WriteByte(1)
	writeU2(&p.buf, uint16(len(s)))
	p.buf.WriteString(s)
	idx := p.count
	p.count++
	p.utf8[s] = idx
	return idx
}

func (p *poolBuilder) Class(qualified string) uint16 {
	internal := strings.ReplaceAll(qualified, ".", "/")
	if idx, ok := p.class[internal]; ok {
		return idx
	}
	nameIdx := p.Utf8(internal)
	p.buf.WriteByte(7)
	writeU2(&p.buf, nameIdx)
	idx := p.count
	p.count++
	p.class[internal] = idx
	return idx
}

func (p *poolBuilder) Integer(v int32) uint16 {
	p.buf.WriteByte(3)
	_ = binary.Write(&p.buf, binary.BigEndian, v)
	idx := p.count
	p.count++
	return idx
}

func (p *poolBuilder) Long(v int64) uint16 {
	p.buf.WriteByte(5)
	_ = binary.Write(&p.buf, binary.BigEndian, v)
	idx := p.count
	p.count += 2
	return idx
}

// Bytes renders the class file.
func (c Class) Bytes() []byte {
	p := newPool()
	var body bytes.Buffer

	access := c.Access
	if access == 0 {
		access = AccPublic
	}
	writeU2(&body, access)
	writeU2(&body, p.Class(c.Name))
	switch c.Super {
	case NoSuper:
		writeU2(&body, 0)
	case "":
		writeU2(&body, p.Class("java.lang.Object"))
	default:
		writeU2(&body, p.Class(c.Super))
	}
	writeU2(&body, uint16(len(c.Interfaces)))
	for _, iface := range c.Interfaces {
		writeU2(&body, p.Class(iface))
	}
	writeMembers(&body, p, c.Fields, "I")
	writeMembers(&body, p, c.Methods, "()V")

	attrs := [][]byte{}
	if len(c.Annotations) > 0 {
		attrs = append(attrs, annotationsAttribute(p, c.Annotations))
	}
	attrs = append(attrs, sourceFileAttribute(p, c.Name))
	writeU2(&body, uint16(len(attrs)))
	for _, a := range attrs {
		body.Write(a)
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.BigEndian, uint32(0xCAFEBABE))
	writeU2(&out, 0)
	writeU2(&out, 52)
	writeU2(&out, p.count)
	out.Write(p.buf.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeMembers(w *bytes.Buffer, p *poolBuilder, members []Member, defaultDesc string) {
	writeU2(w, uint16(len(members)))
	for _, m := range members {
		desc := m.Descriptor
		if desc == "" {
			desc = defaultDesc
		}
		writeU2(w, AccPublic)
		writeU2(w, p.Utf8(m.Name))
		writeU2(w, p.Utf8(desc))
		if len(m.Annotations) == 0 {
			writeU2(w, 0)
			continue
		}
		writeU2(w, 1)
		w.Write(annotationsAttribute(p, m.Annotations))
	}
}

func annotationsAttribute(p *poolBuilder, anns []Annotation) []byte {
	var info bytes.Buffer
	writeU2(&info, uint16(len(anns)))
	for _, a := range anns {
		writeAnnotation(&info, p, a)
	}
	var out bytes.Buffer
	writeU2(&out, p.Utf8("RuntimeVisibleAnnotations"))
	_ = binary.Write(&out, binary.BigEndian, uint32(info.Len()))
	out.Write(info.Bytes())
	return out.Bytes()
}

func writeAnnotation(w *bytes.Buffer, p *poolBuilder, a Annotation) {
	writeU2(w, p.Utf8("L"+strings.ReplaceAll(a.Type, ".", "/")+";"))
	pairs := 0
	if len(a.Targets) > 0 {
		pairs++
	}
	if a.Params {
		pairs += 5
	}
	writeU2(w, uint16(pairs))
	if len(a.Targets) > 0 {
		writeU2(w, p.Utf8("value"))
		w.WriteByte('[')
		writeU2(w, uint16(len(a.Targets)))
		for _, t := range a.Targets {
			w.WriteByte('e')
			writeU2(w, p.Utf8("Ljava/lang/annotation/ElementType;"))
			writeU2(w, p.Utf8(t))
		}
	}
	if a.Params {
		writeU2(w, p.Utf8("count"))
		w.WriteByte('I')
		writeU2(w, p.Integer(7))

		writeU2(w, p.Utf8("big"))
		w.WriteByte('J')
		writeU2(w, p.Long(1<<40))

		writeU2(w, p.Utf8("label"))
		w.WriteByte('s')
		writeU2(w, p.Utf8("hello"))

		writeU2(w, p.Utf8("kinds"))
		w.WriteByte('[')
		writeU2(w, 2)
		w.WriteByte('c')
		writeU2(w, p.Utf8("Ljava/lang/String;"))
		w.WriteByte('Z')
		writeU2(w, p.Integer(1))

		writeU2(w, p.Utf8("nested"))
		w.WriteByte('@')
		writeAnnotation(w, p, Annotation{Type: "test.Nested"})
	}
}

func sourceFileAttribute(p *poolBuilder, name string) []byte {
	var out bytes.Buffer
	writeU2(&out, p.Utf8("SourceFile"))
	_ = binary.Write(&out, binary.BigEndian, uint32(2))
	simple := name[strings.LastIndex(name, ".")+1:]
	writeU2(&out, p.Utf8(simple+".java"))
	return out.Bytes()
}

func writeU2(w *bytes.Buffer, v uint16) {
	_ = binary.Write(w, binary.BigEndian, v)
}

// Path returns the slash-separated entry path of a class ("a/b/C.class").
func Path(name string) string {
	return strings.ReplaceAll(name, ".", "/") + ".class"
}

// WriteDir writes each class below dir in its package directory.
func WriteDir(t testing.TB, dir string, classes ...Class) {
	t.Helper()
	for _, c := range classes {
		path := filepath.Join(dir, filepath.FromSlash(Path(c.Name)))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, c.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// WriteJar writes the classes into a zip archive at path. Extra entries are
// added verbatim (name → content).
func WriteJar(t testing.TB, path string, extra map[string][]byte, classes ...Class) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, c := range classes {
		w, err := zw.Create(Path(c.Name))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(c.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range extra {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}
