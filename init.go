package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/classfind/internal/config"
)

const configHeader = `# classfind configuration.
# Flags and CLASSFIND_* environment variables override these values.
`

// buildDirs are the class output directories of common build tools, in the
// order they are proposed as roots.
var buildDirs = []string{
	"build/classes/java/main",
	"build/classes/kotlin/main",
	"target/classes",
	"out/production",
	"bin",
}

func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var dryRun, force bool

	cmd := &cobra.Command{
		Use:   "init [path-to-classfind.yaml]",
		Short: "Write a starter config file",
		Long: `Write a classfind.yaml holding the default settings. Class output
directories of common build tools found next to the file are proposed as
roots. An existing file is left alone unless --force is given.

path-to-classfind.yaml defaults to ./classfind.yaml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FileName + ".yaml"
			if len(args) > 0 {
				path = args[0]
			}

			content, err := generateConfig(filepath.Dir(path))
			if err != nil {
				return err
			}

			if dryRun {
				_, _ = fmt.Fprint(stdout, content)
				return nil
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("checking %s: %w", path, err)
				}
			}

			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			_, _ = fmt.Fprintf(stderr, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the file instead of writing it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// generateConfig renders the default configuration with roots detected
// below dir.
func generateConfig(dir string) (string, error) {
	cfg := config.Default()
	cfg.Roots = detectRoots(dir)
	if cfg.Roots == nil {
		cfg.Roots = []string{}
	}
	cfg.Ignore = []string{}
	cfg.PlatformPrefixes = []string{}

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("rendering config: %w", err)
	}
	return configHeader + string(body), nil
}

// detectRoots returns the entries of buildDirs that exist below dir.
func detectRoots(dir string) []string {
	var roots []string
	for _, rel := range buildDirs {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
		if err == nil && info.IsDir() {
			roots = append(roots, rel)
		}
	}
	return roots
}
