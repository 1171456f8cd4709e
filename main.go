// classfind finds the compiled units below a namespace that extend a type,
// implement an interface or carry an annotation.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/phobologic/classfind/internal/config"
	"github.com/phobologic/classfind/internal/discover"
	"github.com/phobologic/classfind/internal/match"
	"github.com/phobologic/classfind/internal/metrics"
	"github.com/phobologic/classfind/internal/model"
	"github.com/phobologic/classfind/internal/output"
	"github.com/phobologic/classfind/internal/platform"
	"github.com/phobologic/classfind/internal/ranking"
	"github.com/phobologic/classfind/internal/watch"
)

var version = "dev"

// errNoRoots is returned when neither flags, environment nor config name a root.
var errNoRoots = errors.New("no roots: pass --root or set roots in classfind.yaml")

// errNoPredicate is returned when neither a flag nor the config names a predicate.
var errNoPredicate = errors.New("no predicate: pass one of --subtype-of, --implements, --annotated-with, --annotated-elements or set predicate in classfind.yaml")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runContext(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	return runContext(context.Background(), args, stdout, stderr)
}

func runContext(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

type rootFlags struct {
	configFile        string
	subtypeOf         string
	implements        string
	annotatedWith     string
	annotatedElements string
	tagTargets        string
	filter            string
	members           bool
	verbose           bool
	quiet             bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var rf rootFlags

	cmd := &cobra.Command{
		Use:   "classfind [flags] [namespace]",
		Short: "Find compiled units by supertype, interface or annotation",
		Long: `classfind scans the units of a namespace across class directories and
archives and reports those that satisfy one predicate:

  --subtype-of T           T itself, its direct subclasses, or anything when T is java.lang.Object
  --implements I           units whose superclass chain declares I
  --annotated-with A       units carrying A themselves
  --annotated-elements A   units whose type, fields or methods carry A

Without a predicate flag, the predicate saved under "predicate:" in
classfind.yaml is used.

Ancestors outside the namespace are resolved lazily, from the platform table
or by scanning their package. Units that cannot be read or resolved are
reported as diagnostics without stopping the run.`,
		Example: `  classfind -r build/classes -r 'lib/*.jar' --subtype-of com.example.Plugin com.example
  classfind -r target/classes --annotated-elements javax.inject.Inject --tag-targets field,method com.acme
  classfind -r src/main/java --format source --implements java.lang.Runnable -o json org.demo`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			namespace := ""
			if len(args) > 0 {
				namespace = args[0]
			}
			return runDiscover(cmd, rf, namespace, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("classfind {{.Version}}\n")

	d := config.Default()
	f := cmd.Flags()
	f.StringVar(&rf.configFile, "config", "", "config file (default: ./classfind.yaml, then the user config dir)")
	f.StringSliceP("root", "r", nil, "class directory, archive or glob to scan (repeatable; later roots win)")
	f.String("format", d.Format, "unit format: class or source")
	f.StringP("output", "o", d.Output, "output format: "+strings.Join(output.Formats(), ", "))
	f.StringSlice("ignore", nil, "gitignore-style pattern to skip (repeatable)")
	f.StringSlice("platform-prefix", nil, "namespace prefix answered from the platform table (repeatable)")
	f.String("platform-table", "", "YAML file of extra platform types")
	f.Int("max-depth", d.MaxDepth, "maximum ancestry depth before a chain is reported as cyclic")
	f.Bool("hierarchy", false, "include ancestry edges and ranked supertypes")
	f.IntP("limit", "n", 0, "maximum number of matches to print")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.BoolP("watch", "w", false, "rerun when units below the roots change")
	f.Duration("debounce", d.Watch.Debounce, "quiet period before a watch rerun")
	f.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
	f.String("log-format", d.Log.Format, "log format: text, json or logfmt")

	f.StringVar(&rf.subtypeOf, "subtype-of", "", "match subtypes of this class")
	f.StringVar(&rf.implements, "implements", "", "match implementors of this interface")
	f.StringVar(&rf.annotatedWith, "annotated-with", "", "match units carrying this annotation")
	f.StringVar(&rf.annotatedElements, "annotated-elements", "", "match units whose type, fields or methods carry this annotation")
	f.StringVar(&rf.tagTargets, "tag-targets", "", "element kinds the annotation applies to: type, field, method (default: read from the annotation)")
	f.StringVar(&rf.filter, "filter", "", "only print matches whose name contains this substring")
	f.BoolVar(&rf.members, "members", false, "with --filter, fall back to member names when no match name contains the substring")
	f.BoolVarP(&rf.verbose, "verbose", "v", false, "log at debug level")
	f.BoolVarP(&rf.quiet, "quiet", "q", false, "only log errors")

	cmd.MarkFlagsMutuallyExclusive("subtype-of", "implements", "annotated-with", "annotated-elements")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newInitCmd(stdout, stderr))
	cmd.AddCommand(newPlatformCmd(stdout))

	return cmd
}

func runDiscover(cmd *cobra.Command, rf rootFlags, namespace string, stdout, stderr io.Writer) error {
	cfg, cfgPath, err := config.Load(config.LoadOptions{File: rf.configFile, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(stderr)
	switch {
	case rf.verbose:
		logger.SetLevel(log.DebugLevel)
	case rf.quiet:
		logger.SetLevel(log.ErrorLevel)
	}
	if cfgPath != "" {
		logger.Debug("loaded config", "path", cfgPath)
	}

	if len(cfg.Roots) == 0 {
		return errNoRoots
	}

	pred, err := rf.predicate(cfg.Predicate)
	if err != nil {
		return err
	}

	types := platform.Default()
	if cfg.PlatformTable != "" {
		extra, err := platform.LoadFile(cfg.PlatformTable)
		if err != nil {
			return err
		}
		types = types.Merge(extra)
	}

	ctx := cmd.Context()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		shutdown, err := serveMetrics(cfg.MetricsAddr, m, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	opts := discover.Options{
		Roots:            cfg.Roots,
		Format:           cfg.Format,
		Ignore:           cfg.Ignore,
		Platform:         types,
		PlatformPrefixes: cfg.PlatformPrefixes,
		Logger:           logger,
		Metrics:          m,
		MaxDepth:         cfg.MaxDepth,
		WithHierarchy:    cfg.Hierarchy,
	}

	once := func(ctx context.Context) error {
		res, err := discover.Discover(ctx, pred, namespace, opts)
		if err != nil {
			return err
		}
		if rf.filter != "" {
			res = ranking.FilterByName(res, rf.filter, rf.members)
		}
		res = ranking.Select(res, cfg.Limit)
		return output.Encode(stdout, output.NewReport(res), cfg.Output)
	}

	if err := once(ctx); err != nil {
		return err
	}
	if !cfg.Watch.Enabled {
		return nil
	}

	w, err := watch.New(watch.Config{
		Roots:    cfg.Roots,
		Ignore:   cfg.Ignore,
		Debounce: cfg.Watch.Debounce,
		Logger:   logger,
		OnChange: func(ctx context.Context, changed []string) error {
			logger.Debug("rerunning", "changed", changed)
			return once(ctx)
		},
	})
	if err != nil {
		return err
	}
	logger.Info("watching for changes", "roots", len(cfg.Roots))
	return w.Run(ctx)
}

// predicate builds the predicate named by at most one of the predicate
// flags, falling back to the saved query in the configuration.
func (rf rootFlags) predicate(saved config.PredicateConfig) (match.Predicate, error) {
	choices := []struct {
		kind    match.Kind
		subject string
	}{
		{match.KindSubtype, rf.subtypeOf},
		{match.KindImplements, rf.implements},
		{match.KindTaggedSelf, rf.annotatedWith},
		{match.KindTaggedMembers, rf.annotatedElements},
	}
	for _, c := range choices {
		if c.subject == "" {
			continue
		}
		var targets model.TargetSet
		if rf.tagTargets != "" {
			set, unknown := model.ParseTargets(rf.tagTargets)
			if len(unknown) > 0 {
				return match.Predicate{}, fmt.Errorf("unknown tag targets: %s", strings.Join(unknown, ", "))
			}
			targets = set
		}
		return match.New(c.kind, c.subject, targets), nil
	}

	if saved.Kind == "" {
		return match.Predicate{}, errNoPredicate
	}
	if rf.tagTargets != "" {
		saved.TagTargets = rf.tagTargets
	}
	return saved.Build()
}

// serveMetrics exposes m on addr until the returned function is called.
func serveMetrics(addr string, m *metrics.Metrics, logger *log.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}, nil
}
