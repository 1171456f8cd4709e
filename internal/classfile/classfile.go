// Package classfile extracts structural descriptors from compiled class files
// without loading them.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/phobologic/classfind/internal/model"
)

// Magic is the leading word of every class file.
const Magic = 0xCAFEBABE

// ErrMalformed is returned for bytes that are not a well-formed class file.
var ErrMalformed = errors.New("malformed unit")

const (
	visibleAnnotations = "RuntimeVisibleAnnotations"
	targetAnnotation   = "java.lang.annotation.Target"
	elementTypeDesc    = "Ljava/lang/annotation/ElementType;"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

type constant struct {
	tag  uint8
	ref  uint16
	utf8 string
}

type pool []constant

func (p pool) utf8(idx uint16) (string, error) {
	if int(idx) <= 0 || int(idx) >= len(p) || p[idx].tag != tagUtf8 {
		return "", fmt.Errorf("%w: constant %d is not a utf8 entry", ErrMalformed, idx)
	}
	return p[idx].utf8, nil
}

func (p pool) className(idx uint16) (string, error) {
	if int(idx) <= 0 || int(idx) >= len(p) || p[idx].tag != tagClass {
		return "", fmt.Errorf("%w: constant %d is not a class entry", ErrMalformed, idx)
	}
	name, err := p.utf8(p[idx].ref)
	if err != nil {
		return "", err
	}
	return internalToQualified(name), nil
}

// Parse reads a class file and returns its descriptor. It never resolves
// other units.
func Parse(data []byte) (*model.UnitDescriptor, error) {
	r := &reader{data: data}
	if r.u4() != Magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	r.u2() // minor
	r.u2() // major

	cp, err := readPool(r)
	if err != nil {
		return nil, err
	}

	d := &model.UnitDescriptor{}
	d.AccessFlags = r.u2()
	thisIdx := r.u2()
	superIdx := r.u2()
	if r.err != nil {
		return nil, r.err
	}
	if d.Name, err = cp.className(thisIdx); err != nil {
		return nil, err
	}
	if superIdx == 0 {
		d.Superclass = model.RootSentinel
	} else if d.Superclass, err = cp.className(superIdx); err != nil {
		return nil, err
	}

	count := r.u2()
	for i := 0; i < int(count) && r.err == nil; i++ {
		name, err := cp.className(r.u2())
		if err != nil {
			return nil, err
		}
		d.Interfaces = append(d.Interfaces, name)
	}

	if d.Fields, err = readMembers(r, cp); err != nil {
		return nil, err
	}
	if d.Methods, err = readMembers(r, cp); err != nil {
		return nil, err
	}

	attrs, err := readAttributes(r, cp)
	if err != nil {
		return nil, err
	}
	d.SelfTags = attrs.tags
	d.TagTargets = attrs.targets
	if r.err != nil {
		return nil, r.err
	}
	return d, nil
}

func readPool(r *reader) (pool, error) {
	count := r.u2()
	if r.err != nil {
		return nil, r.err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty constant pool", ErrMalformed)
	}
	cp := make(pool, count)
	for i := 1; i < int(count); i++ {
		tag := r.u1()
		c := constant{tag: tag}
		switch tag {
		case tagUtf8:
			c.utf8 = decodeModifiedUTF8(r.bytes(int(r.u2())))
		case tagInteger, tagFloat:
			r.skip(4)
		case tagLong, tagDouble:
			r.skip(8)
			cp[i] = c
			i++ // eight-byte constants take two slots
			continue
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			c.ref = r.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			c.ref = r.u2()
			r.skip(2)
		case tagMethodHandle:
			r.skip(1)
			c.ref = r.u2()
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("%w: unknown constant tag %d at index %d", ErrMalformed, tag, i)
		}
		if r.err != nil {
			return nil, r.err
		}
		cp[i] = c
	}
	return cp, nil
}

func readMembers(r *reader, cp pool) ([]model.Member, error) {
	count := r.u2()
	members := make([]model.Member, 0, count)
	for i := 0; i < int(count); i++ {
		r.u2() // access flags
		nameIdx, descIdx := r.u2(), r.u2()
		if r.err != nil {
			return nil, r.err
		}
		name, err := cp.utf8(nameIdx)
		if err != nil {
			return nil, err
		}
		desc, err := cp.utf8(descIdx)
		if err != nil {
			return nil, err
		}
		attrs, err := readAttributes(r, cp)
		if err != nil {
			return nil, err
		}
		members = append(members, model.Member{Name: name, Descriptor: desc, Tags: attrs.tags})
	}
	return members, r.err
}

type attributes struct {
	tags    []string
	targets model.TargetSet
}

func readAttributes(r *reader, cp pool) (attributes, error) {
	var out attributes
	count := r.u2()
	for i := 0; i < int(count); i++ {
		nameIdx := r.u2()
		length := r.u4()
		body := r.bytes(int(length))
		if r.err != nil {
			return out, r.err
		}
		name, err := cp.utf8(nameIdx)
		if err != nil {
			return out, err
		}
		if name != visibleAnnotations {
			continue
		}
		ar := &annotationReader{reader: reader{data: body}, cp: cp}
		if err := ar.readAll(); err != nil {
			return out, err
		}
		out.tags = append(out.tags, ar.tags...)
		out.targets |= ar.targets
	}
	return out, nil
}

type annotationReader struct {
	reader
	cp      pool
	tags    []string
	targets model.TargetSet
}

func (a *annotationReader) readAll() error {
	n := a.u2()
	for i := 0; i < int(n) && a.err == nil; i++ {
		name, err := a.annotation()
		if err != nil {
			return err
		}
		a.tags = append(a.tags, name)
	}
	return a.err
}

// annotation reads one annotation structure and returns its type name.
func (a *annotationReader) annotation() (string, error) {
	typeDesc, err := a.cp.utf8(a.u2())
	if err != nil {
		return "", err
	}
	typeName := descriptorToQualified(typeDesc)
	if typeName == targetAnnotation {
		a.targets |= model.TargetDeclared
	}
	pairs := a.u2()
	for i := 0; i < int(pairs) && a.err == nil; i++ {
		elem, err := a.cp.utf8(a.u2())
		if err != nil {
			return "", err
		}
		capture := typeName == targetAnnotation && elem == "value"
		if err := a.elementValue(capture); err != nil {
			return "", err
		}
	}
	return typeName, a.err
}

func (a *annotationReader) elementValue(captureTargets bool) error {
	tag := a.u1()
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		a.skip(2)
	case 'e':
		typeDesc, err := a.cp.utf8(a.u2())
		if err != nil {
			return err
		}
		constName, err := a.cp.utf8(a.u2())
		if err != nil {
			return err
		}
		if captureTargets && typeDesc == elementTypeDesc {
			a.targets |= elementTypeTarget(constName)
		}
	case '@':
		if _, err := a.annotation(); err != nil {
			return err
		}
	case '[':
		n := a.u2()
		for i := 0; i < int(n) && a.err == nil; i++ {
			if err := a.elementValue(captureTargets); err != nil {
				return err
			}
		}
	default:
		if a.err != nil {
			return a.err
		}
		return fmt.Errorf("%w: unknown element value tag %q", ErrMalformed, tag)
	}
	return a.err
}

func elementTypeTarget(name string) model.TargetSet {
	switch name {
	case "TYPE", "ANNOTATION_TYPE":
		return model.TargetType
	case "FIELD":
		return model.TargetField
	case "METHOD":
		return model.TargetMethod
	}
	return 0
}

func internalToQualified(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}

// descriptorToQualified turns a field descriptor such as "Lcom/acme/Tag;"
// into "com.acme.Tag".
func descriptorToQualified(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		desc = desc[1 : len(desc)-1]
	}
	return internalToQualified(desc)
}

// decodeModifiedUTF8 handles the two-byte encoding of NUL used by class
// files; everything else in practice is plain UTF-8.
func decodeModifiedUTF8(b []byte) string {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == 0xC0 && b[i+1] == 0x80 {
			return strings.ReplaceAll(string(b), "\xC0\x80", "\x00")
		}
	}
	return string(b)
}

// reader is a bounds-checked big-endian cursor. The first overrun sets err
// and every later read returns zero values.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrMalformed, r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u1() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u2() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u4() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) bytes(n int) []byte {
	return r.take(n)
}

func (r *reader) skip(n int) {
	r.take(n)
}
