// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the capsule-engine CLI.
// Each stage of the pipeline is reachable on its own: ask runs the full
// pipeline, search and research run the lookup stages, validate runs the
// consensus check, and capsule manages the store.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/internal/secrets"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// logger is built in PersistentPreRunE from --log-level.
var logger = logging.Discard()

// rootCmd is the base command for the capsule-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "capsule-engine",
	Short: "Validated reasoning stored as reusable knowledge capsules",
	Long: `capsule-engine answers questions with a research, reasoning, and
consensus validation pipeline. Answers that pass validation are stored as
knowledge capsules and indexed for similarity search, so later questions
can reuse them.

Subcommands expose the pipeline (ask), its stages (search, research,
validate), and the capsule store (capsule).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		logger = logging.New(os.Stderr, level)
		if f := viper.ConfigFileUsed(); f != "" {
			logger.Debug("using config file", "path", f)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./capsule-engine.yaml or ~/.config/capsule-engine/capsule-engine.yaml)")
	pf.String("data-dir", "", "capsule data directory (overrides capsule.data_dir)")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	pf.String("secrets-dir", ".secrets", "directory of API key files")

	_ = viper.BindPFlag("capsule.data_dir", pf.Lookup("data-dir"))
	_ = viper.BindPFlag("metrics.addr", pf.Lookup("metrics-addr"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("capsule-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "capsule-engine"))
		}
	}

	setDefaults(viper.GetViper())
	viper.SetEnvPrefix("CAPSULE_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// setDefaults registers every config key so environment overrides reach
// keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("capabilities.embedding", false)
	v.SetDefault("capabilities.vector_search", true)
	v.SetDefault("capabilities.llm", true)
	v.SetDefault("capabilities.web_search", true)

	v.SetDefault("capsule.data_dir", filepath.Join("data", "knowledge_capsules"))
	v.SetDefault("capsule.list_limit", 20)

	v.SetDefault("index.top_k", 5)
	v.SetDefault("index.similarity_threshold", 0.6)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.timeout", "30s")

	v.SetDefault("llm.model", "asi1-mini")
	v.SetDefault("llm.base_url", "https://api.asi1.ai/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.user_agent", "capsule-engine/"+version)

	v.SetDefault("research.timeout", "10s")
	v.SetDefault("research.user_agent", "capsule-engine/"+version)
	v.SetDefault("research.min_capsule_hits", 2)
	v.SetDefault("research.max_web_results", 3)
	v.SetDefault("research.enable_duckduckgo", true)
	v.SetDefault("research.enable_wikipedia", true)
	v.SetDefault("research.enable_semantic_scholar", false)
	v.SetDefault("research.semantic_scholar_api_key", "")

	v.SetDefault("pipeline.auto_approve", false)
	v.SetDefault("pipeline.auto_approve_threshold", 0.9)
	v.SetDefault("pipeline.max_revision_attempts", 2)
	v.SetDefault("pipeline.mixed_policy", string(types.MixedVerifyWithCaution))
	v.SetDefault("pipeline.reply_timeout", "2m")

	v.SetDefault("metrics.addr", "")
}

// loadConfig decodes the merged configuration and fills missing API keys
// from the secrets directory.
func loadConfig(cmd *cobra.Command, v *viper.Viper, l *log.Logger) (types.EngineConfig, error) {
	var cfg types.EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	dir, _ := cmd.Flags().GetString("secrets-dir")
	s, err := secrets.Load(dir, l)
	if err != nil {
		return cfg, err
	}
	secrets.Apply(&cfg, s)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
