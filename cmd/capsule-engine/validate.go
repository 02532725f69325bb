// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/capsule-engine/internal/validate"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Run consensus validation on a reasoning chain file",
	Long: `Validate reads a reasoning chain from a YAML or JSON file, scores it
with the logic, source, and completeness validators, and prints the
consensus outcome. With --store a verified chain is stored as a capsule.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	store, _ := cmd.Flags().GetBool("store")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	chain, err := loadChain(args[0])
	if err != nil {
		return err
	}

	if !store {
		cfg, err := loadConfig(cmd, viper.GetViper(), logger)
		if err != nil {
			return err
		}
		outcome := validate.NewCoordinator(cfg.Pipeline.MixedPolicy, logger).Validate(chain)
		return printOutcome(os.Stdout, outcome, jsonOutput)
	}

	return withEngine(cmd, func(e *engine) error {
		outcome := e.validator.Validate(chain)
		if err := printOutcome(os.Stdout, outcome, jsonOutput); err != nil {
			return err
		}
		proof, err := e.validator.Prove(outcome, chain)
		if err != nil {
			return err
		}
		c, indexed, ok := e.handler.Store(cmd.Context(), chain, proof)
		if !ok {
			return fmt.Errorf("storing capsule for %q failed", chain.Query)
		}
		fmt.Fprintf(os.Stderr, "stored capsule %s (indexed: %t)\n", c.CapsuleID, indexed)
		return nil
	})
}

// loadChain decodes a reasoning chain from a .json, .yaml, or .yml file.
func loadChain(path string) (types.ReasoningChain, error) {
	var chain types.ReasoningChain
	data, err := os.ReadFile(path)
	if err != nil {
		return chain, fmt.Errorf("reading chain: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &chain)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &chain)
	default:
		return chain, fmt.Errorf("unsupported chain file %q: use .json, .yaml, or .yml", path)
	}
	if err != nil {
		return chain, fmt.Errorf("parsing %s: %w", path, err)
	}
	if strings.TrimSpace(chain.ReasoningSteps) == "" {
		return chain, fmt.Errorf("%s: reasoning_steps: %w", path, types.ErrMissingInput)
	}
	return chain, nil
}

func printOutcome(w io.Writer, o types.ConsensusOutcome, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, o)
	}
	fmt.Fprintf(w, "%-14s  %-15s  %-6s  %s\n", "Validator", "Decision", "Score", "Feedback")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, name := range types.ValidatorOrder {
		r, ok := o.PerValidator[name]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%-14s  %-15s  %-6.2f  %s\n", name, r.Decision, r.Score, r.Feedback)
	}
	fmt.Fprintf(w, "\nStatus: %s (%d approve, %d revise, %d reject; avg %.2f)\n",
		o.Status, o.Approvals, o.Revisions, o.Rejections, o.AverageScore)
	if o.Caution {
		fmt.Fprintln(w, "Caution: validators disagreed")
	}
	fmt.Fprintln(w, o.Message)
	return nil
}

func init() {
	validateCmd.Flags().Bool("store", false, "store the chain as a capsule when verified")
	validateCmd.Flags().Bool("json", false, "output the outcome as JSON")
	rootCmd.AddCommand(validateCmd)
}
