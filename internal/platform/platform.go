// Package platform provides structural facts about well-known standard
// library types so they can be resolved without parsing their class files.
package platform

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/phobologic/classfind/internal/model"
)

// Origin is recorded on descriptors built from the table.
const Origin = "platform"

//go:embed jdk.yaml
var jdkTable []byte

// Info is one entry of the type table.
type Info struct {
	Name       string   `yaml:"name"`
	Super      string   `yaml:"super,omitempty"`
	Interfaces []string `yaml:"interfaces,omitempty"`
	Interface  bool     `yaml:"interface,omitempty"`
	Annotation bool     `yaml:"annotation,omitempty"`
	// Targets lists the allowed targets of an annotation type
	// ("type", "field", "method"). Empty means unrestricted.
	Targets []string `yaml:"targets,omitempty"`
}

// Descriptor converts the entry into a unit descriptor.
func (i Info) Descriptor() *model.UnitDescriptor {
	d := &model.UnitDescriptor{
		Name:       i.Name,
		Superclass: i.Super,
		Interfaces: append([]string(nil), i.Interfaces...),
		Origin:     Origin,
	}
	switch {
	case i.Name == model.ObjectType:
		d.Superclass = model.RootSentinel
	case d.Superclass == "":
		// Interfaces and unlisted supers extend Object.
		d.Superclass = model.ObjectType
	}
	if i.Interface {
		d.AccessFlags |= model.AccInterface | model.AccAbstract
	}
	if i.Annotation {
		d.AccessFlags |= model.AccAnnotation
		if len(i.Targets) > 0 {
			d.TagTargets, _ = model.ParseTargets(strings.Join(i.Targets, ","))
			d.TagTargets |= model.TargetDeclared
		}
	}
	return d
}

type table struct {
	Version  string   `yaml:"version"`
	Prefixes []string `yaml:"prefixes"`
	Types    []Info   `yaml:"types"`
}

// Types is a lookup table of platform types together with the namespace
// prefixes that identify platform names.
type Types struct {
	version  string
	prefixes []string
	byName   map[string]Info
}

// Load parses a YAML type table.
func Load(data []byte) (*Types, error) {
	var tbl table
	if err := yaml.Unmarshal(data, &tbl); err != nil {
		return nil, fmt.Errorf("parse platform table: %w", err)
	}
	t := &Types{
		version:  tbl.Version,
		prefixes: tbl.Prefixes,
		byName:   make(map[string]Info, len(tbl.Types)),
	}
	for _, info := range tbl.Types {
		if info.Name == "" {
			return nil, fmt.Errorf("parse platform table: entry without name")
		}
		t.byName[info.Name] = info
	}
	return t, nil
}

// LoadFile reads a YAML type table from disk.
func LoadFile(path string) (*Types, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform table: %w", err)
	}
	return Load(data)
}

var (
	defaultOnce  sync.Once
	defaultTypes *Types
)

// Default returns the embedded JDK table.
func Default() *Types {
	defaultOnce.Do(func() {
		t, err := Load(jdkTable)
		if err != nil {
			panic(err)
		}
		defaultTypes = t
	})
	return defaultTypes
}

// Version is the platform release the table describes.
func (t *Types) Version() string {
	return t.version
}

// Len returns the number of known types.
func (t *Types) Len() int {
	return len(t.byName)
}

// Names returns every known type name in sorted order.
func (t *Types) Names() []string {
	return slices.Sorted(maps.Keys(t.byName))
}

// Prefixes returns the namespace prefixes treated as platform names.
func (t *Types) Prefixes() []string {
	return append([]string(nil), t.prefixes...)
}

// WithPrefixes returns a copy of the table that recognises a different set
// of platform prefixes. An empty list keeps the current ones.
func (t *Types) WithPrefixes(prefixes []string) *Types {
	if len(prefixes) == 0 {
		return t
	}
	return &Types{version: t.version, prefixes: append([]string(nil), prefixes...), byName: t.byName}
}

// Merge returns a table with the entries of other added. Entries of other
// win; prefixes are unioned.
func (t *Types) Merge(other *Types) *Types {
	if other == nil {
		return t
	}
	out := &Types{version: t.version, byName: make(map[string]Info, len(t.byName)+len(other.byName))}
	for k, v := range t.byName {
		out.byName[k] = v
	}
	for k, v := range other.byName {
		out.byName[k] = v
	}
	seen := make(map[string]struct{})
	for _, p := range append(t.Prefixes(), other.prefixes...) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out.prefixes = append(out.prefixes, p)
		}
	}
	return out
}

// IsPlatform reports whether name lives under one of the platform prefixes.
func (t *Types) IsPlatform(name string) bool {
	for _, p := range t.prefixes {
		if name == p || strings.HasPrefix(name, p+".") {
			return true
		}
	}
	return false
}

// Lookup returns the entry for name.
func (t *Types) Lookup(name string) (Info, bool) {
	info, ok := t.byName[name]
	return info, ok
}
