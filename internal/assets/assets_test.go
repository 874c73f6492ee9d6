package assets

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRenderScorePrompt(t *testing.T) {
	p := RenderScorePrompt(ScorePromptData{
		Context: "  Mumbai braces for heavy rain \n",
		Kind:    "image",
		Title:   "Rain over Marine Drive",
	})
	for _, want := range []string{"Post text:\nMumbai braces for heavy rain\n", "Candidate image\nTitle: Rain over Marine Drive", "Score this candidate."} {
		if !strings.Contains(p, want) {
			t.Errorf("RenderScorePrompt() missing %q:\n%s", want, p)
		}
	}
	for _, absent := range []string{"Source:", "Metadata:"} {
		if strings.Contains(p, absent) {
			t.Errorf("RenderScorePrompt() should omit empty %q:\n%s", absent, p)
		}
	}
}

func TestScoreSystemPrompt(t *testing.T) {
	if !strings.Contains(ScoreSystemPrompt, `"score"`) {
		t.Error("system prompt does not state the response contract")
	}
}

func TestPostTemplate(t *testing.T) {
	names := PostTemplateNames()
	if len(names) == 0 {
		t.Fatal("no built-in templates")
	}
	for _, name := range names {
		def, markup, err := PostTemplate(name)
		if err != nil {
			t.Fatalf("PostTemplate(%q) error = %v", name, err)
		}
		if !json.Valid(def) {
			t.Errorf("%s definition is not valid JSON", name)
		}
		if !strings.Contains(markup, `class="container"`) || !strings.Contains(markup, "{background}") {
			t.Errorf("%s markup lacks the capture container or background slot", name)
		}
	}
}

func TestPostTemplate_Unknown(t *testing.T) {
	_, _, err := PostTemplate("missing")
	if err == nil || !strings.Contains(err.Error(), "news-card") {
		t.Errorf("PostTemplate() error = %v, want list of known templates", err)
	}
}
