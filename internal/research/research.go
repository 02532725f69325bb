// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package research gathers context for a query before reasoning: verified
// capsules from the index first, then web sources when too few capsules
// match. Web results are summarized by the language model, or concatenated
// when the model is unavailable, and everything is rendered as a markdown
// research context.
package research

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/capsule-engine/internal/llm"
	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Defaults for the research stage.
const (
	DefaultTopK           = 5
	DefaultThreshold      = 0.6
	DefaultMinCapsuleHits = 2
	DefaultMaxWebResults  = 3
	DefaultTimeout        = 10 * time.Second

	defaultUserAgent = "capsule-engine/0.1"
	webRetries       = 2

	maxContextContent = 1000
)

// CapsuleSearcher looks up stored capsules similar to a query.
type CapsuleSearcher interface {
	Search(ctx context.Context, text string, topK int, threshold float64) []types.SearchHit
}

// Summarizer condenses web sources into an answer.
type Summarizer interface {
	Summarize(ctx context.Context, query string, sources []types.WebResult) (string, error)
}

// Options configures a Researcher. Zero values take the package defaults.
type Options struct {
	Index          CapsuleSearcher
	Backends       []Backend
	Summarizer     Summarizer
	TopK           int
	Threshold      float64
	MinCapsuleHits int
	MaxWebResults  int
	Timeout        time.Duration
	Logger         *log.Logger
}

// Result is the outcome of researching one query.
type Result struct {
	Query         string            `json:"query" yaml:"query"`
	Capsules      []types.SearchHit `json:"capsules" yaml:"capsules"`
	Web           []types.WebResult `json:"web,omitempty" yaml:"web,omitempty"`
	Summary       string            `json:"summary,omitempty" yaml:"summary,omitempty"`
	Summarized    bool              `json:"summarized" yaml:"summarized"`
	BackendErrors []string          `json:"backend_errors,omitempty" yaml:"backend_errors,omitempty"`
}

// Sources counts capsules and web results.
func (r Result) Sources() int {
	return len(r.Capsules) + len(r.Web)
}

// CapsuleIDs returns the ids of the capsules found, in rank order.
func (r Result) CapsuleIDs() []string {
	ids := make([]string, 0, len(r.Capsules))
	for _, h := range r.Capsules {
		ids = append(ids, h.CapsuleID)
	}
	return ids
}

// Researcher runs the research stage.
type Researcher struct {
	opts   Options
	logger *log.Logger
}

// New returns a researcher.
func New(opts Options) *Researcher {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MinCapsuleHits <= 0 {
		opts.MinCapsuleHits = DefaultMinCapsuleHits
	}
	if opts.MaxWebResults <= 0 {
		opts.MaxWebResults = DefaultMaxWebResults
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Researcher{opts: opts, logger: logging.OrDiscard(opts.Logger).WithPrefix("research")}
}

// Research looks up capsules and, when fewer than MinCapsuleHits match,
// searches the web. It never fails; unavailable collaborators shrink the
// result.
func (r *Researcher) Research(ctx context.Context, query string) Result {
	res := Result{Query: query}
	if r.opts.Index != nil {
		res.Capsules = r.opts.Index.Search(ctx, query, r.opts.TopK, r.opts.Threshold)
	}
	r.logger.Info("capsule lookup", "found", len(res.Capsules))

	if len(res.Capsules) < r.opts.MinCapsuleHits && len(r.opts.Backends) > 0 {
		webCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		out := WebSearch(webCtx, query, r.opts.Backends, r.opts.MaxWebResults)
		cancel()
		res.Web = out.Results
		res.BackendErrors = out.BackendErrors
		for _, e := range out.BackendErrors {
			r.logger.Warn("web backend failed", "err", e)
		}
		r.logger.Info("web fallback", "found", len(res.Web), "duplicates", out.DupsRemoved)
	}

	if len(res.Web) > 0 {
		res.Summary, res.Summarized = r.summarize(ctx, query, res.Web)
	}
	return res
}

func (r *Researcher) summarize(ctx context.Context, query string, web []types.WebResult) (string, bool) {
	if r.opts.Summarizer != nil {
		s, err := r.opts.Summarizer.Summarize(ctx, query, web)
		if err == nil && strings.TrimSpace(s) != "" {
			return s, true
		}
		if err != nil {
			r.logger.Warn("summary unavailable, concatenating sources", "err", err)
		}
	}
	return llm.FallbackSummary(web), false
}

// Format renders a result as the markdown research context handed to the
// reasoning stage.
func Format(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Context for Query: %s\n\n", res.Query)

	if res.Summary != "" {
		if res.Summarized {
			b.WriteString("## Summary\n\n")
		} else {
			b.WriteString("## Source Excerpts\n\n")
		}
		b.WriteString(res.Summary)
		b.WriteString("\n\n---\n\n")
	}

	b.WriteString("## Verified Knowledge Capsules\n\n")
	if len(res.Capsules) == 0 {
		b.WriteString("_No relevant verified capsules found._\n\n")
	}
	for i, h := range res.Capsules {
		fmt.Fprintf(&b, "### Capsule %d (Similarity: %.2f)\n", i+1, h.Similarity)
		fmt.Fprintf(&b, "**Query:** %s\n", h.Query)
		fmt.Fprintf(&b, "**Type:** %s\n", h.ReasoningType)
		fmt.Fprintf(&b, "**Content:** %s\n", truncate(h.Content, maxContextContent))
		fmt.Fprintf(&b, "**Confidence:** %.2f\n", h.Confidence)
		fmt.Fprintf(&b, "**Created:** %s\n\n", h.Timestamp.Format(time.RFC3339))
	}

	b.WriteString("## External Sources\n\n")
	if len(res.Web) == 0 {
		b.WriteString("_Web search disabled or no results found._\n\n")
	}
	for i, w := range res.Web {
		fmt.Fprintf(&b, "### Source %d: %s\n", i+1, w.Title)
		fmt.Fprintf(&b, "**Snippet:** %s\n", w.Snippet)
		fmt.Fprintf(&b, "**URL:** %s\n\n", w.URL)
	}

	recommendation := "Generate new reasoning from external sources"
	if len(res.Capsules) > 0 {
		recommendation = "Use verified capsules as foundation"
	}
	b.WriteString("## Research Summary\n\n")
	fmt.Fprintf(&b, "- **Capsules Found:** %d\n", len(res.Capsules))
	fmt.Fprintf(&b, "- **External Sources:** %d\n", len(res.Web))
	fmt.Fprintf(&b, "- **Recommendation:** %s\n", recommendation)
	return b.String()
}

// NewHTTPClient returns the client shared by web backends.
func NewHTTPClient(cfg types.HTTPConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func setHeaders(req *http.Request, userAgent string) {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
}
