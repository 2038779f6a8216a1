package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/pool"
)

func poolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "Show persisted pool state",
		Long:  "Inspect the pool state directory: wrappers on disk and how many of them still report RUNNING",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			stats, err := pool.ReadStats(cfg.StateDir)
			if err != nil {
				return fmt.Errorf("read pool state: %w", err)
			}

			switch outputFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			case "yaml":
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				return enc.Encode(stats)
			default:
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tWRAPPERS\tRUNNING\tPERSIST")
				for _, st := range stats {
					fmt.Fprintf(w, "%s\t%d\t%d\t%t\n", st.Name, st.Wrappers, st.Running, st.Persist)
				}
				return w.Flush()
			}
		},
	}
}
