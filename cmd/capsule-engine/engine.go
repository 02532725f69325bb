// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/capsule-engine/internal/capsule"
	"github.com/pdiddy/capsule-engine/internal/embed"
	"github.com/pdiddy/capsule-engine/internal/index"
	"github.com/pdiddy/capsule-engine/internal/llm"
	"github.com/pdiddy/capsule-engine/internal/metrics"
	"github.com/pdiddy/capsule-engine/internal/pipeline"
	"github.com/pdiddy/capsule-engine/internal/reason"
	"github.com/pdiddy/capsule-engine/internal/research"
	"github.com/pdiddy/capsule-engine/internal/validate"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// engine holds every component built from the configuration. It is
// constructed once per command and closed when the command returns.
type engine struct {
	cfg        types.EngineConfig
	logger     *log.Logger
	store      *capsule.Store
	index      *index.Index
	handler    *capsule.Handler
	llm        *llm.Client
	researcher *research.Researcher
	reasoner   *reason.Reasoner
	validator  *validate.Coordinator
	service    *pipeline.Service
	metricsSrv *http.Server
}

// openEngine loads the configuration and wires the components.
func openEngine(cmd *cobra.Command) (*engine, error) {
	cfg, err := loadConfig(cmd, viper.GetViper(), logger)
	if err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg, logger: logger}
	rec := metrics.Nop()
	if cfg.Metrics.Addr != "" {
		prom, srv, err := metrics.Enable(cfg.Metrics.Addr)
		if err != nil {
			return nil, fmt.Errorf("enabling metrics: %w", err)
		}
		rec = prom
		e.metricsSrv = srv
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	e.store, err = capsule.Open(capsule.Options{Dir: cfg.Capsule.DataDir, Logger: logger, Metrics: rec})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("opening capsule store: %w", err)
	}

	var embedder embed.Provider
	if cfg.Capabilities.Embedding {
		embedder, err = embed.New(cfg.Embedding)
		if err != nil {
			logger.Warn("embedding disabled", "err", err)
			embedder = nil
		}
	}
	e.index, err = index.Open(index.Options{
		Dir:          cfg.Capsule.DataDir,
		Embedder:     embedder,
		Capabilities: cfg.Capabilities,
		Corpus:       e.store.IndexEntries,
		EmbedTimeout: cfg.Embedding.Timeout,
		Logger:       logger,
		Metrics:      rec,
	})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("opening capsule index: %w", err)
	}
	e.handler = capsule.NewHandler(e.store, e.index, cfg.Capsule.ListLimit, logger)

	e.llm = llm.New(cfg.LLM, cfg.Capabilities, logger).WithMetrics(rec)

	var backends []research.Backend
	if cfg.Capabilities.WebSearch {
		backends = research.BackendsFor(cfg.Research, research.NewHTTPClient(cfg.Research.HTTPConfig), logger)
	}
	e.researcher = research.New(research.Options{
		Index:          e.index,
		Backends:       backends,
		Summarizer:     e.llm,
		TopK:           cfg.Index.TopK,
		Threshold:      cfg.Index.SimilarityThreshold,
		MinCapsuleHits: cfg.Research.MinCapsuleHits,
		MaxWebResults:  cfg.Research.MaxWebResults,
		Timeout:        cfg.Research.Timeout,
		Logger:         logger,
	})
	e.reasoner = reason.New(e.llm, nil, logger)
	e.validator = validate.NewCoordinator(cfg.Pipeline.MixedPolicy, logger).WithMetrics(rec)

	e.service = pipeline.NewService(pipeline.Deps{
		Classifier: e.llm,
		Researcher: e.researcher,
		Reasoner:   e.reasoner,
		Validator:  e.validator,
		Capsules:   e.handler,
		Library:    e.store,
		Config:     cfg.Pipeline,
		Logger:     logger,
		Metrics:    rec,
	})
	logger.Debug("engine ready",
		"data_dir", cfg.Capsule.DataDir,
		"embedding", embedder != nil,
		"llm", e.llm.Enabled(),
		"web_backends", len(backends),
		"indexed", e.index.Len())
	return e, nil
}

// Close releases the index and stops the metrics server.
func (e *engine) Close() {
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			e.logger.Warn("closing index", "err", err)
		}
	}
	if e.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.metricsSrv.Shutdown(ctx)
	}
}

// withEngine runs fn with an open engine and closes it afterwards.
func withEngine(cmd *cobra.Command, fn func(e *engine) error) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}
