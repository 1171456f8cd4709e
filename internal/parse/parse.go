// Package parse turns the raw bytes of a unit into a structural descriptor.
// It holds the registry of unit formats: compiled class files and, via
// tree-sitter, Java source files.
package parse

import (
	"fmt"
	"sort"

	"github.com/phobologic/classfind/internal/classfile"
	"github.com/phobologic/classfind/internal/model"
)

// Func parses one unit. name is the qualified name the unit was indexed
// under; formats that can hold several types use it to pick one.
type Func func(data []byte, name string) (*model.UnitDescriptor, error)

// Format is a kind of unit file the scanner can index.
type Format struct {
	Name   string
	Suffix string
	Parse  Func
}

// Format names.
const (
	ClassFormat  = "class"
	SourceFormat = "source"
)

// sourceSuffix selects both the files of the source format and the
// tree-sitter language that parses them.
const sourceSuffix = ".java"

// Formats maps format names to their configuration.
var Formats = map[string]*Format{
	ClassFormat: {
		Name:   ClassFormat,
		Suffix: ".class",
		Parse: func(data []byte, _ string) (*model.UnitDescriptor, error) {
			return classfile.Parse(data)
		},
	},
	SourceFormat: {
		Name:   SourceFormat,
		Suffix: sourceSuffix,
		Parse:  Source,
	},
}

// Lookup returns the named format.
func Lookup(name string) (*Format, error) {
	if name == "" {
		name = ClassFormat
	}
	f, ok := Formats[name]
	if !ok {
		return nil, fmt.Errorf("unsupported unit format %q (want one of %v)", name, Names())
	}
	return f, nil
}

// Names returns the registered format names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Formats))
	for name := range Formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
