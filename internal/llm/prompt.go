// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"text/template"

	"github.com/pdiddy/capsule-engine/pkg/types"
)

var classifyPromptTmpl = template.Must(template.New("classify").Parse(`Classify the following query into ONE of these categories:
1. simple_factual - Direct factual questions that can be answered with information retrieval
2. complex_reasoning - Questions requiring multi-step logical reasoning or analysis
3. validation_request - Requests for expert validation or verification
4. capsule_lookup - Searching for previously validated knowledge or existing answers

Query: {{.Query}}

Respond with ONLY the category name (simple_factual, complex_reasoning, validation_request, or capsule_lookup).
`))

var reasoningTypePromptTmpl = template.Must(template.New("reasoning-type").Parse(`Classify the following query into ONE reasoning type:
- deductive: Logical deduction from premises to conclusion
- inductive: Pattern recognition from examples to general rule
- abductive: Best explanation for observed phenomenon
- comparative: Comparing multiple options or concepts
- causal: Explaining cause-and-effect relationships

Query: {{.Query}}

Respond with ONLY the reasoning type (one word).
`))

var conceptsPromptTmpl = template.Must(template.New("concepts").Parse(`Extract the key technical concepts from this query as a comma-separated list.
Focus on main topics, not common words.

Query: {{.Query}}

Respond with ONLY the comma-separated concepts.
`))

var summaryPromptTmpl = template.Must(template.New("summary").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`Based on the following search results, provide a clear, concise answer to the user's question.

Question: {{.Query}}

Search Results:
{{range $i, $r := .Sources}}
Source {{inc $i}}: {{$r.Title}}
{{$r.Snippet}}
{{end}}
Provide a comprehensive answer synthesizing the information above. Be factual and cite sources when relevant.
`))

type queryData struct {
	Query string
}

type summaryData struct {
	Query   string
	Sources []types.WebResult
}

// renderPrompt executes tmpl with data.
func renderPrompt(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
