package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cached entry and hit totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openCache(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			stats, err := s.cache.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Vector store:\t%s\n", s.cfg.Cache.VectorStore)
			fmt.Fprintf(w, "Entries:\t%d\n", stats.TotalCached)
			fmt.Fprintf(w, "Hits:\t%d\n", stats.TotalHits)
			fmt.Fprintf(w, "Avg hits/entry:\t%.2f\n", stats.AvgHitsPerEntry)
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print stats as JSON")
	return cmd
}
