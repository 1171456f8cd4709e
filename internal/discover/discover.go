// Package discover runs one predicate over every unit below a namespace and
// collects the matches together with the failures it had to skip.
package discover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/phobologic/classfind/internal/hierarchy"
	"github.com/phobologic/classfind/internal/match"
	"github.com/phobologic/classfind/internal/materialize"
	"github.com/phobologic/classfind/internal/metrics"
	"github.com/phobologic/classfind/internal/model"
	"github.com/phobologic/classfind/internal/parse"
	"github.com/phobologic/classfind/internal/platform"
	"github.com/phobologic/classfind/internal/resolve"
	"github.com/phobologic/classfind/internal/scan"
)

// ErrNotInterface is returned when an implements predicate names a type
// that resolves to a class.
var ErrNotInterface = errors.New("implements target is not an interface")

// CodeUnreadableUnit marks a unit whose bytes could not be read.
const CodeUnreadableUnit = "unreadable_unit"

// Options configures a run. Zero values fall back to defaults.
type Options struct {
	Roots []string
	// Format selects the unit format ("class" or "source").
	Format string
	// Ignore holds gitignore-style patterns excluded from every root.
	Ignore   []string
	Platform *platform.Types
	// PlatformPrefixes overrides the prefixes of the platform table.
	PlatformPrefixes []string
	// Materializer produces handles for matches. Defaults to name-only
	// handles.
	Materializer  materialize.Materializer
	Logger        *log.Logger
	Metrics       *metrics.Metrics
	MaxDepth      int
	WithHierarchy bool
}

// Stats summarises a run.
type Stats struct {
	Roots       int           `json:"roots" yaml:"roots"`
	FailedRoots int           `json:"failed_roots" yaml:"failed_roots"`
	Indexed     int           `json:"indexed" yaml:"indexed"`
	Inspected   int           `json:"inspected" yaml:"inspected"`
	Matched     int           `json:"matched" yaml:"matched"`
	Diagnostics int           `json:"diagnostics" yaml:"diagnostics"`
	Resolve     resolve.Stats `json:"resolve" yaml:"resolve"`
	// Extensions lists namespaces scanned only to resolve ancestors.
	Extensions []string      `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Result is the outcome of one run.
type Result struct {
	RunID       string
	Namespace   string
	Predicate   match.Predicate
	Matches     []match.Record
	Diagnostics []Diagnostic
	Stats       Stats
	// Hierarchy and Supertypes are filled when Options.WithHierarchy is set.
	Hierarchy  []model.Edge
	Supertypes []hierarchy.Ranked
}

// Names returns the qualified names of the matches.
func (r *Result) Names() []string {
	out := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Name
	}
	return out
}

// Discover scans namespace across the configured roots and applies pred to
// every unit found there exactly once. Per-unit and per-root failures are
// reported as diagnostics; the returned error is reserved for an invalid
// predicate or format, roots of which none could be read, and cancellation.
func Discover(ctx context.Context, pred match.Predicate, namespace string, opts Options) (*Result, error) {
	start := time.Now()
	kind := pred.Kind.String()

	if err := pred.Validate(); err != nil {
		return nil, err
	}
	format, err := parse.Lookup(opts.Format)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	logger = logger.With("run", runID)

	res := &Result{RunID: runID, Namespace: namespace, Predicate: pred}
	fail := func(err error) (*Result, error) {
		outcome := metrics.OutcomeFailed
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCancelled
		}
		opts.Metrics.RunFinished(kind, outcome, time.Since(start))
		return nil, err
	}

	scanner := &scan.Scanner{
		Roots:  opts.Roots,
		Suffix: format.Suffix,
		Ignore: opts.Ignore,
		Logger: logger,
	}
	logger.Debug("scanning", "namespace", namespace, "roots", len(opts.Roots), "format", format.Name)
	ix, failures, err := scanner.Scan(ctx, namespace)
	for _, f := range failures {
		res.addDiagnostic(opts.Metrics, newDiagnostic("", f.Root, f))
	}
	if err != nil {
		return fail(fmt.Errorf("scanning %s: %w", namespace, err))
	}
	defer ix.Close()

	types := opts.Platform
	if types == nil {
		types = platform.Default()
	}
	r := resolve.New(resolve.Options{
		Index:        ix,
		Scanner:      scanner,
		Parse:        format.Parse,
		Platform:     types.WithPrefixes(opts.PlatformPrefixes),
		Materializer: opts.Materializer,
		Logger:       logger,
	})
	defer r.Close()

	if pred.Kind == match.KindImplements {
		if err := checkInterface(ctx, r, pred.Target, logger); err != nil {
			return fail(err)
		}
	}

	matcher := match.NewMatcher(pred, opts.MaxDepth)
	for _, e := range ix.Entries() {
		if err := ctx.Err(); err != nil {
			logger.Debug("discovery cancelled", "inspected", res.Stats.Inspected)
			return fail(err)
		}

		d, err := r.Describe(e)
		if err != nil {
			diag := newDiagnostic(e.Name, e.Location(), err)
			if !errors.Is(err, parse.ErrMalformed) {
				diag.Code = CodeUnreadableUnit
			}
			logger.Warn("skipping unit", "unit", e.Name, "path", e.Location(), "err", err)
			res.addDiagnostic(opts.Metrics, diag)
			continue
		}

		res.Stats.Inspected++
		opts.Metrics.Inspected()
		matched, err := matcher.Inspect(ctx, d, r)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(ctxErr)
			}
			logger.Warn("candidate dropped", "unit", d.Name, "err", err)
			res.addDiagnostic(opts.Metrics, newDiagnostic(d.Name, e.Location(), err))
			continue
		}
		if matched {
			opts.Metrics.Matched(kind)
			logger.Debug("match", "unit", d.Name)
		}
	}

	res.Matches = matcher.Records()
	if opts.WithHierarchy {
		res.Hierarchy = hierarchy.Build(r.Descriptors())
		res.Supertypes = hierarchy.Rank(res.Hierarchy)
	}

	rs := r.Stats()
	res.Stats.Roots = len(opts.Roots)
	res.Stats.FailedRoots = len(failures)
	res.Stats.Indexed = ix.Len()
	res.Stats.Matched = matcher.Len()
	res.Stats.Resolve = rs
	res.Stats.Extensions = r.Extensions()
	res.Stats.Duration = time.Since(start)

	opts.Metrics.Indexed(ix.Len())
	opts.Metrics.Resolutions("cache", rs.CacheHits)
	opts.Metrics.Resolutions("platform", rs.PlatformHits)
	opts.Metrics.Resolutions("parsed", rs.Parsed)
	opts.Metrics.Resolutions("not_found", rs.NotFound)
	opts.Metrics.RunFinished(kind, metrics.OutcomeOK, res.Stats.Duration)

	logger.Info("discovery complete",
		"predicate", pred.String(),
		"namespace", namespace,
		"indexed", res.Stats.Indexed,
		"matches", res.Stats.Matched,
		"diagnostics", res.Stats.Diagnostics,
		"duration", res.Stats.Duration.Round(time.Millisecond),
	)
	return res, nil
}

// checkInterface rejects an implements target that resolves to a class. A
// target that cannot be resolved is accepted.
func checkInterface(ctx context.Context, r *resolve.Resolver, target string, logger *log.Logger) error {
	d, err := r.Resolve(ctx, target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Debug("implements target not resolvable, matching by name", "target", target, "err", err)
		return nil
	}
	if !d.IsInterface() {
		return fmt.Errorf("%w: %s", ErrNotInterface, target)
	}
	return nil
}

func (r *Result) addDiagnostic(m *metrics.Metrics, d Diagnostic) {
	r.Diagnostics = append(r.Diagnostics, d)
	r.Stats.Diagnostics++
	m.Diagnostic(d.Code)
}
