// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Reply renders the user-facing answer for a finished query.
func (r Result) Reply() string {
	var b strings.Builder
	switch r.State {
	case StateAnswered:
		fmt.Fprintf(&b, "VERIFIED KNOWLEDGE FOUND (%d capsule(s))\n\n", len(r.Answers))
		for i, c := range r.Answers {
			fmt.Fprintf(&b, "%d. %s [%s]\n", i+1, c.Query, c.CapsuleID)
			fmt.Fprintf(&b, "   Type: %s | Confidence: %.2f%% | Retrieved: %d times\n\n",
				c.ReasoningType, c.Confidence*100, c.UsageStats.RetrievalCount)
		}
		if len(r.Answers) > 0 {
			b.WriteString("Top answer:\n")
			b.WriteString(r.Answers[0].ReasoningChain.ReasoningSteps)
		}

	case StateStored:
		b.WriteString("VERIFIED ANSWER\n\n")
		b.WriteString(r.Chain.ReasoningSteps)
		b.WriteString("\n\n")
		writeVerdict(&b, r)
		fmt.Fprintf(&b, "Capsule ID: %s\n", r.Capsule.CapsuleID)
		indexed := "no"
		if r.Indexed {
			indexed = "yes"
		}
		fmt.Fprintf(&b, "Indexed: %s\n", indexed)

	case StateDropped:
		b.WriteString("UNVERIFIED ANSWER\n\n")
		if r.Chain != nil {
			b.WriteString(r.Chain.ReasoningSteps)
			b.WriteString("\n\n")
		}
		writeVerdict(&b, r)
		fmt.Fprintf(&b, "Not stored: %s\n", r.DropReason)
		if r.Outcome != nil {
			if fb := r.Outcome.Feedback(); len(fb) > 0 {
				b.WriteString("\nValidator feedback:\n")
				for _, f := range fb {
					fmt.Fprintf(&b, "- %s\n", f)
				}
			}
		}

	default:
		fmt.Fprintf(&b, "Query stopped in state %s\n", r.State)
	}
	return b.String()
}

func writeVerdict(b *strings.Builder, r Result) {
	if r.Chain != nil {
		fmt.Fprintf(b, "Reasoning: %s | Confidence: %.2f | Attempts: %d\n",
			r.Chain.ReasoningType, r.Chain.Confidence, r.Attempts)
	}
	switch {
	case r.Proof != nil && r.Proof.AutoApproved:
		fmt.Fprintf(b, "Validation: auto-approved\n")
	case r.Outcome != nil:
		o := r.Outcome
		fmt.Fprintf(b, "Validation: %s (%d approve, %d revise, %d reject; avg %.2f)\n",
			o.Status, o.Approvals, o.Revisions, o.Rejections, o.AverageScore)
		if o.Caution {
			b.WriteString("Caution: validators disagreed\n")
		}
		for _, name := range types.ValidatorOrder {
			if v, ok := o.PerValidator[name]; ok {
				fmt.Fprintf(b, "  %-12s %-14s %.2f\n", name, v.Decision, v.Score)
			}
		}
	}
}
