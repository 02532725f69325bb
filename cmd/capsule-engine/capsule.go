// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

var capsuleCmd = &cobra.Command{
	Use:   "capsule",
	Short: "Manage the knowledge capsule store (list, retrieve, stats, export, reindex)",
	Long: `Capsule manages the local store of validated knowledge capsules. Each
capsule is a JSON document under <data-dir>/capsules/; the similarity
index lives beside it in capsules.index.`,
}

// --- list subcommand ---

var capsuleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored capsules, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return withEngine(cmd, func(e *engine) error {
			rows := e.store.ListSummaries()
			if jsonOutput {
				return writeJSON(os.Stdout, rows)
			}
			formatSummaries(os.Stdout, rows, limit)
			return nil
		})
	},
}

func formatSummaries(w io.Writer, rows []types.CapsuleSummary, limit int) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No capsules stored.")
		return
	}
	fmt.Fprintf(w, "%-16s  %-11s  %-6s  %-9s  %-20s  %s\n",
		"ID", "Type", "Conf", "Retrieved", "Created", "Query")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for i, r := range rows {
		if limit > 0 && i == limit {
			fmt.Fprintf(w, "... and %d more\n", len(rows)-limit)
			break
		}
		fmt.Fprintf(w, "%-16s  %-11s  %-6.2f  %-9d  %-20s  %s\n",
			r.CapsuleID, r.ReasoningType, r.Confidence, r.RetrievalCount,
			r.CreatedAt.Format("2006-01-02 15:04:05"), clip(r.Query, 40))
	}
	fmt.Fprintf(w, "\n%d capsules\n", len(rows))
}

// --- retrieve subcommand ---

var capsuleRetrieveCmd = &cobra.Command{
	Use:   "retrieve <id>",
	Short: "Print a capsule and record the retrieval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return withEngine(cmd, func(e *engine) error {
			c, ok := e.store.Retrieve(args[0])
			if !ok {
				return fmt.Errorf("capsule %s: %w", args[0], types.ErrNotFound)
			}
			if jsonOutput {
				return writeJSON(os.Stdout, c)
			}
			formatCapsule(os.Stdout, c)
			return nil
		})
	},
}

func formatCapsule(w io.Writer, c types.KnowledgeCapsule) {
	fmt.Fprintf(w, "ID:         %s\n", c.CapsuleID)
	fmt.Fprintf(w, "Query:      %s\n", c.Query)
	fmt.Fprintf(w, "Type:       %s\n", c.ReasoningType)
	fmt.Fprintf(w, "Concepts:   %s\n", strings.Join(c.KeyConcepts, ", "))
	fmt.Fprintf(w, "Confidence: %.2f\n", c.Confidence)
	fmt.Fprintf(w, "Created:    %s\n", c.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Retrieved:  %d times\n", c.UsageStats.RetrievalCount)
	if len(c.UsageStats.ReferencedBy) > 0 {
		fmt.Fprintf(w, "Used by:    %s\n", strings.Join(c.UsageStats.ReferencedBy, ", "))
	}
	proof := c.ValidationProof
	if proof.AutoApproved {
		fmt.Fprintf(w, "Proof:      %s (auto-approved)\n", proof.ProofID)
	} else {
		fmt.Fprintf(w, "Proof:      %s (%s, avg %.2f)\n", proof.ProofID, proof.Outcome.Status, proof.Outcome.AverageScore)
	}
	fmt.Fprintf(w, "\n%s\n", c.ReasoningChain.ReasoningSteps)
}

// --- stats subcommand ---

var capsuleStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print store and index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *engine) error {
			st := e.store.Stats()
			fmt.Printf("Total capsules:    %d\n", st.TotalCapsules)
			fmt.Printf("Total retrievals:  %d\n", st.TotalRetrievals)
			fmt.Printf("Store created:     %s\n", st.CreatedAt.Format("2006-01-02 15:04:05"))
			if st.LastCapsuleCreated != nil {
				fmt.Printf("Last capsule:      %s\n", st.LastCapsuleCreated.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Indexed vectors:   %d\n", e.index.Len())
			fmt.Printf("Vector dimensions: %d\n", e.index.Dimensions())
			return nil
		})
	},
}

// --- export subcommand ---

var capsuleExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every capsule to YAML or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		return withEngine(cmd, func(e *engine) error {
			if out == "" {
				out = e.store.Dir()
			}
			var (
				path string
				err  error
			)
			switch format {
			case "yaml", "":
				path, err = e.store.ExportYAML(out)
			case "json":
				path, err = e.store.ExportJSON(out)
			default:
				return fmt.Errorf("unsupported format %q: use yaml or json", format)
			}
			if err != nil {
				return err
			}
			fmt.Println("Exported to", path)
			return nil
		})
	},
}

// --- reindex subcommand ---

var capsuleReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the similarity index from the stored capsules",
	Long: `Reindex discards the stored vectors and embeds every capsule again, in
creation order. It needs the embedding capability; capsules that fail to
embed are reported and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *engine) error {
			n, err := e.index.Rebuild(cmd.Context(), e.store.All(), os.Stdout)
			if err != nil {
				return err
			}
			fmt.Printf("\n%d capsule(s) indexed\n", n)
			return nil
		})
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	capsuleListCmd.Flags().Int("limit", 20, "maximum rows to print (0 = all)")
	capsuleListCmd.Flags().Bool("json", false, "output rows as JSON")
	capsuleRetrieveCmd.Flags().Bool("json", false, "output the capsule as JSON")
	capsuleExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	capsuleExportCmd.Flags().String("out", "", "output directory (default: the data directory)")

	capsuleCmd.AddCommand(capsuleListCmd)
	capsuleCmd.AddCommand(capsuleRetrieveCmd)
	capsuleCmd.AddCommand(capsuleStatsCmd)
	capsuleCmd.AddCommand(capsuleExportCmd)
	capsuleCmd.AddCommand(capsuleReindexCmd)

	rootCmd.AddCommand(capsuleCmd)
}
