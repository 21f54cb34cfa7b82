package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic"
)

const previewLen = 120

type lookupReport struct {
	Outcome     string  `json:"outcome"`
	Threshold   float64 `json:"threshold"`
	Similarity  float64 `json:"similarity,omitempty"`
	EntryID     int64   `json:"entryId,omitempty"`
	Question    string  `json:"question,omitempty"`
	Answer      string  `json:"answer,omitempty"`
	HitCount    int64   `json:"hitCount,omitempty"`
	Unavailable string  `json:"error,omitempty"`
}

// newLookupCmd previews what the chat endpoint would answer from the cache.
// It never records a hit.
func newLookupCmd(opts *rootOptions) *cobra.Command {
	var (
		threshold float64
		asJSON    bool
		full      bool
	)

	cmd := &cobra.Command{
		Use:   "lookup <question>",
		Short: "Preview the cache decision for a question without recording a hit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question must not be empty")
			}

			s, err := opts.openCache(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if !cmd.Flags().Changed("threshold") {
				threshold = s.cfg.Cache.SimilarityThreshold
			}
			if !semantic.ValidThreshold(threshold) {
				return fmt.Errorf("threshold must be within [0, 1], got %v", threshold)
			}

			emb, err := s.embedder.Embed(cmd.Context(), question)
			if err != nil {
				return fmt.Errorf("%w: %w", semantic.ErrEmbeddingUnavailable, err)
			}

			res := s.cache.Lookup(cmd.Context(), emb, threshold)
			report := lookupReport{
				Outcome:   res.Outcome.String(),
				Threshold: threshold,
			}
			if res.HasNeighbor {
				report.Similarity = res.Similarity
			}
			if res.Err != nil {
				report.Unavailable = res.Err.Error()
			}
			if res.IsHit() {
				report.EntryID = res.Entry.ID
				report.Question = res.Entry.Question
				report.Answer = res.Entry.Answer
				report.HitCount = res.Entry.HitCount
				if !full {
					report.Answer = preview(report.Answer, previewLen)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(report)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Outcome:\t%s\n", report.Outcome)
			fmt.Fprintf(w, "Threshold:\t%.4f\n", report.Threshold)
			if res.HasNeighbor {
				fmt.Fprintf(w, "Similarity:\t%.4f\n", report.Similarity)
			}
			if report.Unavailable != "" {
				fmt.Fprintf(w, "Error:\t%s\n", report.Unavailable)
			}
			if res.IsHit() {
				fmt.Fprintf(w, "Entry:\t%d (hits %d)\n", report.EntryID, report.HitCount)
				fmt.Fprintf(w, "Question:\t%s\n", report.Question)
				fmt.Fprintf(w, "Answer:\t%s\n", report.Answer)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "similarity threshold (defaults to the configured one)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&full, "full", false, "print the whole cached answer")
	return cmd
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
