// Package scan finds unit files below a namespace in directory and archive
// roots and indexes them by qualified name.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zip"
	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the top of every directory root. It uses
// gitignore syntax against paths relative to the root.
const IgnoreFileName = ".classfindignore"

var (
	// ErrUnreadableRoot marks a root that could not be walked or opened.
	ErrUnreadableRoot = errors.New("unreadable root")
	// ErrNoReadableRoots is returned when not a single root could be read.
	ErrNoReadableRoots = errors.New("no readable scan roots")
)

// RootError reports a skipped root.
type RootError struct {
	Root string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("%s: %v", e.Root, e.Err)
}

// Unwrap exposes both ErrUnreadableRoot and the underlying cause.
func (e *RootError) Unwrap() []error {
	return []error{ErrUnreadableRoot, e.Err}
}

var skipDirs = map[string]struct{}{
	"META-INF": {},
	".git":     {},
	".hg":      {},
	".svn":     {},
}

// skipUnits are per-package and per-module descriptors, not types.
var skipUnits = map[string]struct{}{
	"package-info": {},
	"module-info":  {},
}

// Scanner enumerates unit files. Roots may be directories, archives or
// doublestar glob patterns matching either.
type Scanner struct {
	Roots  []string
	Suffix string
	// Ignore holds extra gitignore-style patterns applied to every root.
	Ignore []string
	Logger *log.Logger
}

// NormalizeNamespace converts a dot- or slash-delimited namespace into
// slash form without leading or trailing separators.
func NormalizeNamespace(namespace string) string {
	ns := strings.ReplaceAll(strings.TrimSpace(namespace), ".", "/")
	ns = strings.ReplaceAll(ns, `\`, "/")
	return strings.Trim(ns, "/")
}

// Scan indexes every unit below namespace across all roots. Unreadable roots
// are skipped and reported; the error is ErrNoReadableRoots only when no root
// could be read at all. Roots are indexed in order, so a name found in a later
// root replaces the same name from an earlier one.
func (s *Scanner) Scan(ctx context.Context, namespace string) (*Index, []*RootError, error) {
	logger := s.logger()
	ns := NormalizeNamespace(namespace)
	ix := NewIndex()
	var failures []*RootError
	readable := 0

	extra := ignore.CompileIgnoreLines(s.Ignore...)

	for _, root := range s.expandRoots(&failures) {
		if err := ctx.Err(); err != nil {
			_ = ix.Close()
			return nil, failures, err
		}
		var err error
		info, statErr := os.Stat(root)
		switch {
		case statErr != nil:
			err = statErr
		case info.IsDir():
			err = s.scanDir(ctx, ix, root, ns, extra)
		default:
			err = s.scanArchive(ctx, ix, root, ns, extra)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				_ = ix.Close()
				return nil, failures, ctxErr
			}
			logger.Warn("skipping unreadable root", "root", root, "err", err)
			failures = append(failures, &RootError{Root: root, Err: err})
			continue
		}
		readable++
	}

	if readable == 0 {
		_ = ix.Close()
		return nil, failures, ErrNoReadableRoots
	}
	logger.Debug("scan complete", "namespace", namespace, "units", ix.Len(), "failed_roots", len(failures))
	return ix, failures, nil
}

func (s *Scanner) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.New(io.Discard)
}

// expandRoots resolves glob roots. Patterns that match nothing are recorded
// as failures.
func (s *Scanner) expandRoots(failures *[]*RootError) []string {
	var roots []string
	for _, root := range s.Roots {
		if !containsGlob(root) {
			roots = append(roots, root)
			continue
		}
		matches, err := doublestar.FilepathGlob(root)
		if err == nil && len(matches) == 0 {
			err = errors.New("no paths match pattern")
		}
		if err != nil {
			*failures = append(*failures, &RootError{Root: root, Err: err})
			continue
		}
		roots = append(roots, matches...)
	}
	return roots
}

func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func (s *Scanner) scanDir(ctx context.Context, ix *Index, root, ns string, extra *ignore.GitIgnore) error {
	start := filepath.Join(root, filepath.FromSlash(ns))
	if info, err := os.Stat(start); err != nil || !info.IsDir() {
		// The root is readable; the namespace is just not present in it.
		if _, err := os.ReadDir(root); err != nil {
			return err
		}
		return nil
	}
	gi := loadIgnoreFile(root)

	return filepath.WalkDir(start, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == start {
				return err
			}
			return nil // skip unreadable subtrees
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		name := d.Name()
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if p == start {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if ignored(gi, extra, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 || !strings.HasSuffix(name, s.Suffix) {
			return nil
		}
		if ignored(gi, extra, rel) {
			return nil
		}
		unit, ok := s.unitName(rel)
		if !ok {
			return nil
		}
		path := p
		s.put(ix, Entry{
			Name: unit,
			Root: root,
			Path: path,
			open: func() ([]byte, error) { return os.ReadFile(path) },
		})
		return nil
	})
}

func (s *Scanner) scanArchive(ctx context.Context, ix *Index, root, ns string, extra *ignore.GitIgnore) error {
	rc, err := zip.OpenReader(root)
	if err != nil {
		return err
	}

	prefix := ""
	if ns != "" {
		prefix = ns + "/"
	}
	found := 0
	for _, f := range rc.File {
		if err := ctx.Err(); err != nil {
			_ = rc.Close()
			return err
		}
		name := f.Name
		if strings.HasSuffix(name, "/") || !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.HasPrefix(name, "META-INF/") || !strings.HasSuffix(name, s.Suffix) {
			continue
		}
		if ignored(nil, extra, name) {
			continue
		}
		unit, ok := s.unitName(name)
		if !ok {
			continue
		}
		file := f
		s.put(ix, Entry{
			Name:    unit,
			Root:    root,
			Path:    name,
			Archive: true,
			open:    func() ([]byte, error) { return readZipEntry(file) },
		})
		found++
	}

	if found == 0 {
		return rc.Close()
	}
	ix.own(rc)
	return nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *Scanner) put(ix *Index, e Entry) {
	if ix.Put(e) {
		s.logger().Debug("duplicate unit, later root wins", "unit", e.Name, "location", e.Location())
	}
}

// unitName derives the qualified name from a slash-separated path relative
// to the root.
func (s *Scanner) unitName(rel string) (string, bool) {
	base := strings.TrimSuffix(path.Base(rel), s.Suffix)
	if _, skip := skipUnits[base]; skip || base == "" {
		return "", false
	}
	return strings.ReplaceAll(strings.TrimSuffix(rel, s.Suffix), "/", "."), true
}

func ignored(gi, extra *ignore.GitIgnore, rel string) bool {
	if gi != nil && gi.MatchesPath(rel) {
		return true
	}
	return extra != nil && extra.MatchesPath(rel)
}

func loadIgnoreFile(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil
	}
	return gi
}
