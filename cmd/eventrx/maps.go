package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rbaliyan/eventrx"
	"github.com/rbaliyan/eventrx/internal/config"
	"github.com/spf13/cobra"
)

func newMapsCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "maps",
		Short:   "List the registered event maps",
		Example: "  eventrx maps --file maps.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := eventrx.NewRegistry()
			for _, m := range eventrx.PredefinedMaps() {
				if err := reg.Register(m); err != nil {
					return err
				}
			}
			if cfg.MapsFile != "" {
				f, err := os.Open(cfg.MapsFile)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := reg.Load(f); err != nil {
					return fmt.Errorf("load %s: %w", cfg.MapsFile, err)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tNEXTS\tERRORS\tCOMPLETES")
			for _, name := range reg.Names() {
				m, err := reg.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, list(m.Nexts), list(m.Errors), list(m.Completes))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&cfg.MapsFile, "file", "f", cfg.MapsFile, "YAML file of event maps to load (defaults EVENTRX_MAPS_FILE)")
	return cmd
}

func list(events []string) string {
	if len(events) == 0 {
		return "-"
	}
	return strings.Join(events, ",")
}
