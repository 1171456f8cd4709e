package scan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memEntry(name, root string) Entry {
	return NewEntry(name, root, name, func() ([]byte, error) { return []byte(root), nil })
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func TestIndexPutKeepsPosition(t *testing.T) {
	t.Parallel()

	ix := NewIndex()
	assert.False(t, ix.Put(memEntry("a", "r1")))
	assert.False(t, ix.Put(memEntry("b", "r1")))
	assert.True(t, ix.Put(memEntry("a", "r2")))

	assert.Equal(t, []string{"a", "b"}, ix.Names())
	e, ok := ix.Get("a")
	require.True(t, ok)
	data, err := e.Read()
	require.NoError(t, err)
	assert.Equal(t, "r2", string(data))
}

func TestIndexMerge(t *testing.T) {
	t.Parallel()

	base := NewIndex()
	base.Put(memEntry("a", "base"))

	ext := NewIndex()
	ext.Put(memEntry("a", "ext"))
	ext.Put(memEntry("b", "ext"))
	c := &closeCounter{}
	ext.own(c)

	assert.Equal(t, 1, base.Merge(ext, false))
	assert.Equal(t, []string{"a", "b"}, base.Names())
	e, _ := base.Get("a")
	assert.Equal(t, "base", e.Root)

	// Handles moved with the entries.
	require.NoError(t, ext.Close())
	assert.Zero(t, c.n)
	require.NoError(t, base.Close())
	assert.Equal(t, 1, c.n)

	over := NewIndex()
	over.Put(memEntry("a", "over"))
	assert.Equal(t, 1, base.Merge(over, true))
	e, _ = base.Get("a")
	assert.Equal(t, "over", e.Root)

	assert.Zero(t, base.Merge(nil, true))
}

func TestIndexClone(t *testing.T) {
	t.Parallel()

	ix := NewIndex()
	ix.Put(memEntry("a", "r"))
	c := &closeCounter{}
	ix.own(c)

	clone := ix.Clone()
	clone.Put(memEntry("b", "r"))
	require.NoError(t, clone.Close())

	assert.Zero(t, c.n)
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestEntryWithoutProvider(t *testing.T) {
	t.Parallel()

	_, err := Entry{Name: "x"}.Read()
	assert.Error(t, err)
	assert.Equal(t, "p/X.class", Entry{Path: "p/X.class"}.Location())
}

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("close failed") }

func TestIndexCloseJoinsErrors(t *testing.T) {
	t.Parallel()

	ix := NewIndex()
	ix.own(failingCloser{})
	ix.own(&closeCounter{})
	assert.Error(t, ix.Close())
	assert.NoError(t, ix.Close())
}
