// Package resolve resolves qualified unit names to descriptors on demand.
// Descriptors are cached for the lifetime of a Resolver, which is meant to
// cover a single discovery run.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/phobologic/classfind/internal/materialize"
	"github.com/phobologic/classfind/internal/model"
	"github.com/phobologic/classfind/internal/parse"
	"github.com/phobologic/classfind/internal/platform"
	"github.com/phobologic/classfind/internal/scan"
)

var (
	// ErrUnitNotFound is returned when a name is neither cached, a known
	// platform type, nor present in the index after extending it.
	ErrUnitNotFound = errors.New("unit not found")
	// ErrHandleUnavailable is returned when a confirmed match cannot be
	// materialized.
	ErrHandleUnavailable = materialize.ErrHandleUnavailable
)

// Options configures a Resolver.
type Options struct {
	// Index seeds the resolver. The resolver works on its own copy, so
	// extensions never show up in the caller's index.
	Index *scan.Index
	// Scanner is used to extend the index with an ancestor's namespace.
	// Nil disables extension.
	Scanner *scan.Scanner
	// Parse turns unit bytes into a descriptor. Defaults to the class
	// file parser.
	Parse        parse.Func
	Platform     *platform.Types
	Materializer materialize.Materializer
	Logger       *log.Logger
}

// Stats counts how names were resolved.
type Stats struct {
	CacheHits    int `json:"cache_hits" yaml:"cache_hits"`
	PlatformHits int `json:"platform_hits" yaml:"platform_hits"`
	Parsed       int `json:"parsed" yaml:"parsed"`
	Extensions   int `json:"extensions" yaml:"extensions"`
	NotFound     int `json:"not_found" yaml:"not_found"`
}

// Resolver resolves names against a cache, the platform table and the
// artifact index, in that order. It is not safe for concurrent use.
type Resolver struct {
	index        *scan.Index
	scanner      *scan.Scanner
	parse        parse.Func
	platform     *platform.Types
	materializer materialize.Materializer
	logger       *log.Logger

	cache    map[string]*model.UnitDescriptor
	order    []string
	failed   map[string]error
	extended map[string]struct{}
	extOrder []string
	stats    Stats
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	r := &Resolver{
		scanner:      opts.Scanner,
		parse:        opts.Parse,
		platform:     opts.Platform,
		materializer: materialize.OrDefault(opts.Materializer),
		logger:       opts.Logger,
		cache:        make(map[string]*model.UnitDescriptor),
		failed:       make(map[string]error),
		extended:     make(map[string]struct{}),
	}
	if opts.Index != nil {
		r.index = opts.Index.Clone()
	} else {
		r.index = scan.NewIndex()
	}
	if r.parse == nil {
		r.parse = parse.Formats[parse.ClassFormat].Parse
	}
	if r.platform == nil {
		r.platform = platform.Default()
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	return r
}

// Resolve returns the descriptor for name.
//
// Platform names found in the platform table are answered from it without
// parsing. Other names are looked up in the index; when absent, the index is
// extended once with the name's own namespace from the scan roots and the
// lookup is retried. Extended entries are only ever resolved, never handed
// back as discovery candidates.
func (r *Resolver) Resolve(ctx context.Context, name string) (*model.UnitDescriptor, error) {
	if d, ok := r.cache[name]; ok {
		r.stats.CacheHits++
		return d, nil
	}
	if err, ok := r.failed[name]; ok {
		return nil, err
	}

	if r.platform.IsPlatform(name) {
		if info, ok := r.platform.Lookup(name); ok {
			d := info.Descriptor()
			r.store(name, d)
			r.stats.PlatformHits++
			return d, nil
		}
		r.logger.Debug("platform type not in table, trying index", "unit", name)
	}

	if e, ok := r.index.Get(name); ok {
		return r.Describe(e)
	}

	if r.extend(ctx, model.PackageOf(name)) {
		if e, ok := r.index.Get(name); ok {
			return r.Describe(e)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.stats.NotFound++
	err := fmt.Errorf("%w: %s", ErrUnitNotFound, name)
	r.failed[name] = err
	return nil, err
}

// Describe parses a scanned entry, caching the result under the entry's
// name. Entries already described are answered from the cache.
func (r *Resolver) Describe(e scan.Entry) (*model.UnitDescriptor, error) {
	if d, ok := r.cache[e.Name]; ok {
		r.stats.CacheHits++
		return d, nil
	}
	if err, ok := r.failed[e.Name]; ok {
		return nil, err
	}

	d, err := r.describe(e)
	if err != nil {
		r.failed[e.Name] = err
		return nil, err
	}
	r.stats.Parsed++
	r.store(e.Name, d)
	return d, nil
}

func (r *Resolver) describe(e scan.Entry) (*model.UnitDescriptor, error) {
	data, err := e.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", e.Location(), err)
	}
	d, err := r.parse(data, e.Name)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", e.Location(), err)
	}
	if d.Name != e.Name {
		r.logger.Debug("unit declares a different name than its path", "path", e.Location(), "declared", d.Name)
	}
	d.Origin = e.Location()
	return d, nil
}

func (r *Resolver) store(name string, d *model.UnitDescriptor) {
	r.cache[name] = d
	r.order = append(r.order, name)
}

// extend scans namespace across the scan roots and adds names not yet known
// to the index. It reports whether anything was added. Each namespace is
// scanned at most once.
func (r *Resolver) extend(ctx context.Context, namespace string) bool {
	if r.scanner == nil {
		return false
	}
	if namespace == "" {
		// The default package would rescan every root in full.
		return false
	}
	if _, done := r.extended[namespace]; done {
		return false
	}
	r.extended[namespace] = struct{}{}
	r.extOrder = append(r.extOrder, namespace)
	r.stats.Extensions++

	ext, failures, err := r.scanner.Scan(ctx, namespace)
	if err != nil {
		r.logger.Debug("extension scan failed", "namespace", namespace, "err", err)
		return false
	}
	for _, f := range failures {
		r.logger.Debug("extension scan skipped root", "root", f.Root, "err", f.Err)
	}
	added := r.index.Merge(ext, false)
	r.logger.Debug("extended index", "namespace", namespace, "added", added)
	return added > 0
}

// Materialize produces the live handle for a confirmed match.
func (r *Resolver) Materialize(d *model.UnitDescriptor) (model.Handle, error) {
	h, err := r.materializer.Materialize(d.Name)
	if err != nil {
		if errors.Is(err, ErrHandleUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrHandleUnavailable, d.Name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s: no handle returned", ErrHandleUnavailable, d.Name)
	}
	return h, nil
}

// TagTargets returns the element kinds tag may be attached to. Explicit
// targets on the reference win; otherwise the tag kind's own descriptor is
// consulted. An unresolvable tag kind, or one without a target declaration,
// is unrestricted.
func (r *Resolver) TagTargets(ctx context.Context, tag model.TagRef) model.TargetSet {
	if tag.Targets != model.TargetsUnspecified {
		return tag.Targets
	}
	d, err := r.Resolve(ctx, tag.Name)
	if err != nil {
		r.logger.Debug("tag kind unresolved, allowing all targets", "tag", tag.Name, "err", err)
		return model.TargetAll
	}
	if d.TagTargets == model.TargetsUnspecified {
		return model.TargetAll
	}
	return d.TagTargets
}

// Extensions returns the namespaces the index was extended with, in the
// order they were scanned.
func (r *Resolver) Extensions() []string {
	return append([]string(nil), r.extOrder...)
}

// Descriptors returns every resolved descriptor in resolution order.
func (r *Resolver) Descriptors() []*model.UnitDescriptor {
	out := make([]*model.UnitDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.cache[name])
	}
	return out
}

// Stats returns resolution counters.
func (r *Resolver) Stats() Stats {
	return r.stats
}

// Close releases archive handles opened by extension scans.
func (r *Resolver) Close() error {
	return r.index.Close()
}
