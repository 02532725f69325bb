// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/capsule-engine/internal/index"
	"github.com/pdiddy/capsule-engine/internal/research"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored capsules by similarity",
	Long: `Search looks up capsules similar to the query. Vector search is used when
embedding is enabled; otherwise, or with --keyword, stored capsules are
scored by the fraction of query words they contain.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		keyword, _ := cmd.Flags().GetBool("keyword")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		return withEngine(cmd, func(e *engine) error {
			if topK <= 0 {
				topK = e.cfg.Index.TopK
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = e.cfg.Index.SimilarityThreshold
			}

			var hits []types.SearchHit
			if keyword {
				hits = index.KeywordSearch(e.store.IndexEntries(), query, topK, threshold)
			} else {
				hits = e.index.Search(cmd.Context(), query, topK, threshold)
			}
			if jsonOutput {
				return writeJSON(os.Stdout, hits)
			}
			formatHits(os.Stdout, hits)
			return nil
		})
	},
}

func formatHits(w io.Writer, hits []types.SearchHit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No matching capsules.")
		return
	}
	fmt.Fprintf(w, "%-4s  %-16s  %-10s  %-7s  %-11s  %s\n", "Rank", "ID", "Similarity", "Method", "Type", "Query")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for i, h := range hits {
		fmt.Fprintf(w, "%-4d  %-16s  %-10.3f  %-7s  %-11s  %s\n",
			i+1, h.CapsuleID, h.Similarity, h.Method, h.ReasoningType, clip(h.Query, 40))
	}
	fmt.Fprintf(w, "\n%d results\n", len(hits))
}

var researchCmd = &cobra.Command{
	Use:   "research <query>",
	Short: "Run the research stage and print the research context",
	Long: `Research searches stored capsules and, when too few match, the web
backends (DuckDuckGo, Wikipedia, and optionally Semantic Scholar). The
markdown context handed to the reasoning stage is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return withEngine(cmd, func(e *engine) error {
			res := e.researcher.Research(cmd.Context(), query)
			if jsonOutput {
				return writeJSON(os.Stdout, res)
			}
			fmt.Print(research.Format(res))
			for _, be := range res.BackendErrors {
				fmt.Fprintf(os.Stderr, "warning: %s\n", be)
			}
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of capsule-engine",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("capsule-engine %s\n", version)
	},
}

func init() {
	searchCmd.Flags().Int("top-k", 0, "maximum results (0 = index.top_k)")
	searchCmd.Flags().Float64("threshold", 0, "minimum similarity (default: index.similarity_threshold)")
	searchCmd.Flags().Bool("keyword", false, "force keyword search over stored capsules")
	searchCmd.Flags().Bool("json", false, "output hits as JSON")
	researchCmd.Flags().Bool("json", false, "output the research result as JSON")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(versionCmd)
}
