package materialize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/classfind/internal/model"
)

func TestNames(t *testing.T) {
	t.Parallel()

	h, err := Names{}.Materialize("com.acme.A")
	require.NoError(t, err)
	assert.Equal(t, "com.acme.A", h.Name())
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterNames("b.B", "a.A")
	assert.Equal(t, []string{"a.A", "b.B"}, r.Names())

	h, err := r.Materialize("a.A")
	require.NoError(t, err)
	assert.Equal(t, "a.A", h.Name())

	_, err = r.Materialize("c.C")
	assert.ErrorIs(t, err, ErrHandleUnavailable)
}

func TestFunc(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var m Materializer = Func(func(name string) (model.Handle, error) {
		if name == "bad" {
			return nil, boom
		}
		return NameHandle(name), nil
	})

	_, err := m.Materialize("bad")
	assert.ErrorIs(t, err, boom)
	h, err := m.Materialize("good")
	require.NoError(t, err)
	assert.Equal(t, "good", h.Name())
}

func TestOrDefault(t *testing.T) {
	t.Parallel()

	assert.IsType(t, Names{}, OrDefault(nil))
	r := NewRegistry()
	assert.Same(t, r, OrDefault(r))
}
