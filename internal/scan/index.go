package scan

import (
	"errors"
	"io"
)

// Entry is one unit file found under a root. The bytes are read lazily.
type Entry struct {
	Name    string // qualified unit name
	Root    string // scan root the entry was found under
	Path    string // file path, or entry name inside an archive
	Archive bool
	open    func() ([]byte, error)
}

// Location renders where the entry lives, using "archive!/entry" for
// archive members.
func (e Entry) Location() string {
	if e.Archive {
		return e.Root + "!/" + e.Path
	}
	return e.Path
}

// Read returns the entry's bytes.
func (e Entry) Read() ([]byte, error) {
	if e.open == nil {
		return nil, errors.New("entry has no content provider")
	}
	return e.open()
}

// NewEntry builds an entry backed by an arbitrary byte provider.
func NewEntry(name, root, path string, open func() ([]byte, error)) Entry {
	return Entry{Name: name, Root: root, Path: path, open: open}
}

// Index maps qualified names to entries. It keeps insertion order; putting
// an existing name replaces the entry in place (last write wins). The index
// owns the archive handles its entries read from.
type Index struct {
	order   []string
	entries map[string]Entry
	closers []io.Closer
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Put stores e under its name and reports whether an earlier entry was
// replaced.
func (ix *Index) Put(e Entry) bool {
	_, exists := ix.entries[e.Name]
	if !exists {
		ix.order = append(ix.order, e.Name)
	}
	ix.entries[e.Name] = e
	return exists
}

// Get returns the entry for name.
func (ix *Index) Get(name string) (Entry, bool) {
	e, ok := ix.entries[name]
	return e, ok
}

// Len returns the number of distinct names.
func (ix *Index) Len() int {
	return len(ix.order)
}

// Names returns the indexed names in insertion order.
func (ix *Index) Names() []string {
	return append([]string(nil), ix.order...)
}

// Entries returns the entries in insertion order.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, 0, len(ix.order))
	for _, name := range ix.order {
		out = append(out, ix.entries[name])
	}
	return out
}

// Merge copies the entries of other into ix and takes over its archive
// handles. With overwrite false, names already present are kept. It returns
// the number of names added or replaced.
func (ix *Index) Merge(other *Index, overwrite bool) int {
	if other == nil {
		return 0
	}
	n := 0
	for _, e := range other.Entries() {
		if _, exists := ix.entries[e.Name]; exists && !overwrite {
			continue
		}
		ix.Put(e)
		n++
	}
	ix.closers = append(ix.closers, other.closers...)
	other.closers = nil
	return n
}

// Clone returns a copy of the index that shares no handles with ix.
func (ix *Index) Clone() *Index {
	c := NewIndex()
	for _, e := range ix.Entries() {
		c.Put(e)
	}
	return c
}

func (ix *Index) own(c io.Closer) {
	ix.closers = append(ix.closers, c)
}

// Close releases every archive handle held by the index. Entries from
// archives cannot be read afterwards.
func (ix *Index) Close() error {
	var errs []error
	for _, c := range ix.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ix.closers = nil
	return errors.Join(errs...)
}
