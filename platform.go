package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/classfind/internal/platform"
)

func newPlatformCmd(stdout io.Writer) *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "platform",
		Short: "List the platform types resolved without reading class files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types := platform.Default()
			if table != "" {
				extra, err := platform.LoadFile(table)
				if err != nil {
					return err
				}
				types = types.Merge(extra)
			}

			_, _ = fmt.Fprintf(stdout, "platform %s (prefixes: %s)\n", types.Version(), strings.Join(types.Prefixes(), ", "))
			for _, name := range types.Names() {
				info, _ := types.Lookup(name)
				kind := "class"
				switch {
				case info.Annotation:
					kind = "annotation"
				case info.Interface:
					kind = "interface"
				}
				_, _ = fmt.Fprintf(stdout, "%s\t%s\n", name, kind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "platform-table", "", "YAML file of extra platform types")
	return cmd
}
