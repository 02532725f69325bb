// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reason

import (
	"bytes"
	"text/template"
)

// maxPromptContext caps how much research context is sent to the model.
const maxPromptContext = 2000

var reasoningPromptTmpl = template.Must(template.New("reasoning").Parse(`Answer the question below with explicit, step-by-step {{.Type}} reasoning.

Question: {{.Query}}

Key concepts: {{range $i, $c := .Concepts}}{{if $i}}, {{end}}{{$c}}{{end}}
Suggested structure: {{.Template}}
{{- if .Patterns}}

Reasoning patterns:
{{range .Patterns}}- {{.}}
{{end}}
{{- end}}
{{- if .Rules}}

Domain rules:
{{range .Rules}}- {{.}}
{{end}}
{{- end}}
{{- if .Context}}

Research context:
{{.Context}}
{{- end}}
{{- if .Feedback}}

A reviewer asked for changes to a previous answer. Address each point:
{{range .Feedback}}- {{.}}
{{end}}
{{- end}}

Write numbered steps that connect premises to the conclusion using words such as because, therefore, and then.
Mention every key concept. End with a paragraph that starts with "In conclusion".
On the final line write "Confidence: " followed by a number between 0 and 1.
`))

type reasoningData struct {
	Query    string
	Type     string
	Concepts []string
	Template string
	Patterns []string
	Rules    []string
	Context  string
	Feedback []string
}

func renderPrompt(data reasoningData) (string, error) {
	if len(data.Context) > maxPromptContext {
		data.Context = data.Context[:maxPromptContext]
	}
	var buf bytes.Buffer
	if err := reasoningPromptTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
