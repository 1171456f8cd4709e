package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/classfind/internal/testutil/classgen"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func classScanner(roots ...string) *Scanner {
	return &Scanner{Roots: roots, Suffix: ".class"}
}

func TestNormalizeNamespace(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"com.acme":    "com/acme",
		"com/acme/":   "com/acme",
		"/com/acme":   "com/acme",
		" com.acme ":  "com/acme",
		"":            "",
		`com\acme\db`: "com/acme/db",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeNamespace(in), "input %q", in)
	}
}

func TestScanDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	classgen.WriteDir(t, dir,
		classgen.Class{Name: "com.acme.A"},
		classgen.Class{Name: "com.acme.sub.B"},
		classgen.Class{Name: "com.other.C"},
	)
	writeFile(t, dir, "com/acme/readme.txt", "hello")
	writeFile(t, dir, "com/acme/package-info.class", "x")
	writeFile(t, dir, "com/acme/.hidden/D.class", "x")

	ix, failures, err := classScanner(dir).Scan(context.Background(), "com.acme")
	require.NoError(t, err)
	defer ix.Close()
	assert.Empty(t, failures)

	assert.ElementsMatch(t, []string{"com.acme.A", "com.acme.sub.B"}, ix.Names())

	e, ok := ix.Get("com.acme.sub.B")
	require.True(t, ok)
	assert.False(t, e.Archive)
	assert.Equal(t, dir, e.Root)
	data, err := e.Read()
	require.NoError(t, err)
	assert.Equal(t, classgen.Class{Name: "com.acme.sub.B"}.Bytes(), data)
}

func TestScanEmptyNamespaceMeansEverything(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	classgen.WriteDir(t, dir, classgen.Class{Name: "a.A"}, classgen.Class{Name: "b.B"}, classgen.Class{Name: "Top"})

	ix, _, err := classScanner(dir).Scan(context.Background(), "")
	require.NoError(t, err)
	defer ix.Close()
	assert.ElementsMatch(t, []string{"a.A", "b.B", "Top"}, ix.Names())
}

func TestScanMissingNamespaceIsNotAFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	classgen.WriteDir(t, dir, classgen.Class{Name: "a.A"})

	ix, failures, err := classScanner(dir).Scan(context.Background(), "zzz")
	require.NoError(t, err)
	defer ix.Close()
	assert.Empty(t, failures)
	assert.Zero(t, ix.Len())
}

func TestScanArchive(t *testing.T) {
	t.Parallel()

	jar := filepath.Join(t.TempDir(), "lib.jar")
	classgen.WriteJar(t, jar, map[string][]byte{
		"META-INF/MANIFEST.MF":                  []byte("Manifest-Version: 1.0\n"),
		"META-INF/versions/11/com/acme/A.class": []byte("x"),
		"com/acme/module-info.class":            []byte("x"),
		"com/acme/notes.txt":                    []byte("x"),
		"com/acmeish/Trap.class":                []byte("x"),
	},
		classgen.Class{Name: "com.acme.A"},
		classgen.Class{Name: "com.acme.deep.B"},
	)

	ix, failures, err := classScanner(jar).Scan(context.Background(), "com.acme")
	require.NoError(t, err)
	defer ix.Close()
	assert.Empty(t, failures)
	assert.Equal(t, []string{"com.acme.A", "com.acme.deep.B"}, ix.Names())

	e, ok := ix.Get("com.acme.deep.B")
	require.True(t, ok)
	assert.True(t, e.Archive)
	assert.Equal(t, jar+"!/com/acme/deep/B.class", e.Location())
	data, err := e.Read()
	require.NoError(t, err)
	assert.Equal(t, classgen.Class{Name: "com.acme.deep.B"}.Bytes(), data)
}

func TestScanDirectoryAndArchiveTogether(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dir := filepath.Join(base, "classes")
	jar := filepath.Join(base, "lib.jar")
	classgen.WriteDir(t, dir, classgen.Class{Name: "p.FromDir"})
	classgen.WriteJar(t, jar, nil, classgen.Class{Name: "p.FromJar"})

	ix, _, err := classScanner(dir, jar).Scan(context.Background(), "p")
	require.NoError(t, err)
	defer ix.Close()
	assert.Equal(t, []string{"p.FromDir", "p.FromJar"}, ix.Names())
}

func TestScanLastRootWins(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	first := filepath.Join(base, "first")
	second := filepath.Join(base, "second.jar")
	classgen.WriteDir(t, first, classgen.Class{Name: "p.A"}, classgen.Class{Name: "p.B"})
	classgen.WriteJar(t, second, nil, classgen.Class{Name: "p.A", Super: "p.B"})

	ix, _, err := classScanner(first, second).Scan(context.Background(), "p")
	require.NoError(t, err)
	defer ix.Close()

	assert.Equal(t, 2, ix.Len())
	e, ok := ix.Get("p.A")
	require.True(t, ok)
	assert.Equal(t, second, e.Root)
	// The replaced name keeps its original position.
	assert.Equal(t, "p.A", ix.Names()[0])
}

func TestScanUnreadableRootIsSkipped(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	good := filepath.Join(base, "good")
	classgen.WriteDir(t, good, classgen.Class{Name: "p.A"})
	missing := filepath.Join(base, "missing")
	notZip := filepath.Join(base, "broken.jar")
	writeFile(t, base, "broken.jar", "not a zip")

	ix, failures, err := classScanner(missing, good, notZip).Scan(context.Background(), "p")
	require.NoError(t, err)
	defer ix.Close()

	assert.Equal(t, []string{"p.A"}, ix.Names())
	require.Len(t, failures, 2)
	assert.Equal(t, missing, failures[0].Root)
	assert.Equal(t, notZip, failures[1].Root)
	for _, f := range failures {
		assert.True(t, errors.Is(f, ErrUnreadableRoot))
	}
}

func TestScanNoReadableRoots(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "missing")
	ix, failures, err := classScanner(missing).Scan(context.Background(), "p")
	assert.Nil(t, ix)
	assert.ErrorIs(t, err, ErrNoReadableRoots)
	assert.Len(t, failures, 1)
}

func TestScanIgnoreFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	classgen.WriteDir(t, dir,
		classgen.Class{Name: "p.Keep"},
		classgen.Class{Name: "p.generated.Gen"},
		classgen.Class{Name: "p.KeepTest"},
	)
	writeFile(t, dir, IgnoreFileName, "p/generated/\n*Test.class\n")

	ix, _, err := classScanner(dir).Scan(context.Background(), "p")
	require.NoError(t, err)
	defer ix.Close()
	assert.Equal(t, []string{"p.Keep"}, ix.Names())
}

func TestScanIgnorePatterns(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dir := filepath.Join(base, "classes")
	jar := filepath.Join(base, "lib.jar")
	classgen.WriteDir(t, dir, classgen.Class{Name: "p.A"}, classgen.Class{Name: "p.AGenerated"})
	classgen.WriteJar(t, jar, nil, classgen.Class{Name: "p.B"}, classgen.Class{Name: "p.BGenerated"})

	s := classScanner(dir, jar)
	s.Ignore = []string{"*Generated.class"}
	ix, _, err := s.Scan(context.Background(), "p")
	require.NoError(t, err)
	defer ix.Close()
	assert.Equal(t, []string{"p.A", "p.B"}, ix.Names())
}

func TestScanGlobRoots(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	classgen.WriteJar(t, filepath.Join(base, "lib", "a", "one.jar"), nil, classgen.Class{Name: "p.One"})
	classgen.WriteJar(t, filepath.Join(base, "lib", "b", "two.jar"), nil, classgen.Class{Name: "p.Two"})

	ix, failures, err := classScanner(filepath.Join(base, "lib", "**", "*.jar")).Scan(context.Background(), "p")
	require.NoError(t, err)
	defer ix.Close()
	assert.Empty(t, failures)
	assert.ElementsMatch(t, []string{"p.One", "p.Two"}, ix.Names())
}

func TestScanGlobWithoutMatches(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	classgen.WriteDir(t, base, classgen.Class{Name: "p.A"})

	ix, failures, err := classScanner(base, filepath.Join(base, "*.jar")).Scan(context.Background(), "p")
	require.NoError(t, err)
	defer ix.Close()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrUnreadableRoot)
}

func TestScanSkipsSymlinkedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	classgen.WriteDir(t, dir, classgen.Class{Name: "p.Real"})
	target := filepath.Join(dir, "p", "Real.class")
	if err := os.Symlink(target, filepath.Join(dir, "p", "Link.class")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	ix, _, err := classScanner(dir).Scan(context.Background(), "p")
	require.NoError(t, err)
	defer ix.Close()
	assert.Equal(t, []string{"p.Real"}, ix.Names())
}

func TestScanCancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	classgen.WriteDir(t, dir, classgen.Class{Name: "p.A"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ix, _, err := classScanner(dir).Scan(ctx, "p")
	assert.Nil(t, ix)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexCloseReleasesArchives(t *testing.T) {
	t.Parallel()

	jar := filepath.Join(t.TempDir(), "lib.jar")
	classgen.WriteJar(t, jar, nil, classgen.Class{Name: "p.A"})

	ix, _, err := classScanner(jar).Scan(context.Background(), "p")
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	e, ok := ix.Get("p.A")
	require.True(t, ok)
	_, err = e.Read()
	assert.Error(t, err)
	// Closing twice is harmless.
	assert.NoError(t, ix.Close())
}
