package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) onChange(_ context.Context, changed []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, changed)
	r.mu.Unlock()
	r.fired <- struct{}{}
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func start(t *testing.T, w *Watcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})
	return cancel
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
}

func TestWatcherDebounce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	w, err := New(Config{Roots: []string{dir}, Debounce: 100 * time.Millisecond, OnChange: rec.onChange})
	require.NoError(t, err)
	start(t, w)

	for _, name := range []string{"A.class", "B.class", "C.class"} {
		writeFile(t, filepath.Join(dir, name))
		time.Sleep(10 * time.Millisecond)
	}

	rec.wait(t)
	time.Sleep(250 * time.Millisecond)

	calls := rec.snapshot()
	require.Len(t, calls, 1, "expected one debounced callback")
	for _, name := range []string{"A.class", "B.class", "C.class"} {
		assert.Contains(t, calls[0], filepath.Join(dir, name))
	}
	assert.True(t, slices.IsSorted(calls[0]))
}

func TestWatcherIgnoresIrrelevantFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	w, err := New(Config{
		Roots:    []string{dir},
		Ignore:   []string{"**/*Generated.class"},
		Debounce: 50 * time.Millisecond,
		OnChange: rec.onChange,
	})
	require.NoError(t, err)
	start(t, w)

	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, "FooGenerated.class"))
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	writeFile(t, filepath.Join(dir, "Foo.class"))
	rec.wait(t)
	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{filepath.Join(dir, "Foo.class")}, calls[0])
}

func TestWatcherNewDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	w, err := New(Config{Roots: []string{dir}, Debounce: 50 * time.Millisecond, OnChange: rec.onChange})
	require.NoError(t, err)
	start(t, w)

	sub := filepath.Join(dir, "com", "example")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(sub, "Late.class"))

	deadline := time.After(5 * time.Second)
	for {
		for _, call := range rec.snapshot() {
			if slices.Contains(call, filepath.Join(sub, "Late.class")) {
				return
			}
		}
		select {
		case <-rec.fired:
		case <-deadline:
			t.Fatalf("no callback for file in new directory, got %v", rec.snapshot())
		}
	}
}

func TestWatcherArchiveRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	jar := filepath.Join(dir, "lib.jar")
	writeFile(t, jar)

	rec := newRecorder()
	w, err := New(Config{Roots: []string{jar}, Debounce: 50 * time.Millisecond, OnChange: rec.onChange})
	require.NoError(t, err)
	start(t, w)

	writeFile(t, filepath.Join(dir, "other.jar"))
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "only the archive root itself should trigger")

	writeFile(t, jar)
	rec.wait(t)
	assert.Equal(t, []string{jar}, rec.snapshot()[0])
}

func TestWatcherSkipsIgnoredDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git", "objects"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "p"), 0o755))

	w, err := New(Config{Roots: []string{dir}})
	require.NoError(t, err)
	defer w.fsw.Close()

	watched := w.Watched()
	assert.Contains(t, watched, filepath.Join(dir, "p"))
	assert.NotContains(t, watched, filepath.Join(dir, ".git"))
	assert.NotContains(t, watched, filepath.Join(dir, ".git", "objects"))
}

func TestNewNoWatchableRoots(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Roots: []string{filepath.Join(t.TempDir(), "missing")}})
	require.ErrorIs(t, err, ErrNoWatchableRoots)
}

func TestNewInvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Roots: []string{t.TempDir()}, Patterns: []string{"[unclosed"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid watch pattern")
}

func TestRunTwice(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Roots: []string{t.TempDir()}})
	require.NoError(t, err)
	cancel := start(t, w)
	defer cancel()

	time.Sleep(20 * time.Millisecond)
	err = w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestRelevant(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := New(Config{Roots: []string{dir}})
	require.NoError(t, err)
	defer w.fsw.Close()

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(dir, "A.class"), true},
		{filepath.Join(dir, "p", "q", "B.class"), true},
		{filepath.Join(dir, "p", "B.java"), true},
		{filepath.Join(dir, "lib", "dep.jar"), true},
		{filepath.Join(dir, ".classfindignore"), true},
		{filepath.Join(dir, "README.md"), false},
		{filepath.Join(dir, ".git", "A.class"), false},
		{filepath.Join(dir, "A.class.swp"), false},
		{filepath.Join(filepath.Dir(dir), "elsewhere", "A.class"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.relevant(tt.path), tt.path)
	}
}
