// Package assets embeds the classifier prompts and the built-in post
// templates.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// ScoreSystemPrompt frames the classifier as a photo editor. The response
// contract is a single JSON object with score and reasoning.
//
//go:embed prompts/score-system.txt
var ScoreSystemPrompt string

//go:embed prompts/score-candidate.txt
var scoreCandidateTemplate string

var scoreCandidateTmpl = template.Must(template.New("score-candidate").Parse(scoreCandidateTemplate))

// ScorePromptData is the per-candidate data injected into the scoring prompt.
type ScorePromptData struct {
	Context  string
	Kind     string
	Title    string
	Source   string
	Metadata string
}

// RenderScorePrompt renders the per-candidate scoring prompt.
func RenderScorePrompt(data ScorePromptData) string {
	data.Context = strings.TrimSpace(data.Context)
	var buf bytes.Buffer
	// Execution can only fail on a writer error, which bytes.Buffer never returns.
	_ = scoreCandidateTmpl.Execute(&buf, data)
	return buf.String()
}
