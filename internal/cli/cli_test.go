package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/post-composer/internal/asset"
	"github.com/fpang/post-composer/internal/compositor"
	"github.com/fpang/post-composer/internal/pipeline"
	"github.com/fpang/post-composer/internal/render"
	"github.com/fpang/post-composer/internal/scoring"
	"github.com/fpang/post-composer/internal/selection"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{850 * time.Millisecond, "850ms"},
		{5 * time.Second, "0:05"},
		{65 * time.Second, "1:05"},
		{3725 * time.Second, "1:02:05"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 << 20, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	res := &pipeline.Result{
		SessionID:   "abc",
		Output:      make([]byte, 2048),
		ContentType: "image/png",
		Candidates:  4,
		Chosen: &selection.Result{
			Candidate: scoring.ScoredCandidate{
				Candidate: asset.Candidate{SourceSite: "example.com", CitationLink: "https://example.com/a"},
				Score:     0.45,
			},
			Position: 2,
			Fallback: true,
		},
	}
	got := Summary(res, "out.png", 3*time.Second)
	for _, want := range []string{"out.png (image/png, 2.0 KiB) in 0:03", "candidate 3 of 4, score 0.45", "best available", "<https://example.com/a>", "Session: abc"} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() missing %q:\n%s", want, got)
		}
	}
}

func TestPromptForQuery(t *testing.T) {
	var out strings.Builder
	if got := PromptForQuery(strings.NewReader("  storm warning \n"), &out, "rain"); got != "storm warning" {
		t.Errorf("PromptForQuery() = %q", got)
	}
	if !strings.Contains(out.String(), "[rain]") {
		t.Errorf("prompt = %q, want default shown", out.String())
	}
	if got := PromptForQuery(strings.NewReader("\n"), &out, "rain"); got != "rain" {
		t.Errorf("empty answer = %q, want default", got)
	}
	if got := PromptForQuery(strings.NewReader(""), &out, "rain"); got != "rain" {
		t.Errorf("EOF = %q, want default", got)
	}
}

func TestLoadPost(t *testing.T) {
	dir := t.TempDir()
	markup := `<div class="container">{headline}</div>`
	if err := os.WriteFile(filepath.Join(dir, "card.html"), []byte(markup), 0o644); err != nil {
		t.Fatal(err)
	}
	postJSON := `{
		"markup_file": "card.html",
		"template": {
			"required_slots": ["headline"],
			"slots": {"headline": {"kind": "rich_text", "tag": "h1"}, "tw": {"kind": "flag", "flag_markup": "<b>TW</b>"}},
			"allowed_crop_types": ["cover"]
		},
		"fields": {"headline": {"kind": "rich_text", "text": "Hello **world**"}},
		"edits": {"crop_type": "cover", "add_gradient": true}
	}`
	path := filepath.Join(dir, "news-card.json")
	if err := os.WriteFile(path, []byte(postJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	post, err := LoadPost(path)
	if err != nil {
		t.Fatalf("LoadPost() error = %v", err)
	}
	if post.Template.Name != "news-card" || post.Template.Markup != markup {
		t.Errorf("template = %+v", post.Template)
	}
	if post.Fields["headline"].Text != "Hello **world**" {
		t.Errorf("fields = %+v", post.Fields)
	}
	if post.Edits.CropType != compositor.CropCover || !post.Edits.AddGradient {
		t.Errorf("edits = %+v", post.Edits)
	}
	if err := post.Template.Validate(post.Fields); err != nil {
		t.Errorf("loaded post does not validate: %v", err)
	}
}

func TestLoadPost_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadPost(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadPost() should fail for a missing file")
	}
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{"), 0o644)
	if _, err := LoadPost(bad); err == nil {
		t.Error("LoadPost() should fail for invalid JSON")
	}
	noMarkup := filepath.Join(dir, "nomarkup.json")
	os.WriteFile(noMarkup, []byte(`{"markup_file": "gone.html"}`), 0o644)
	if _, err := LoadPost(noMarkup); err == nil {
		t.Error("LoadPost() should fail for a missing markup file")
	}
}

func TestApplyFieldFlags(t *testing.T) {
	post := pipeline.Post{Template: render.TemplateSpec{Slots: map[string]render.SlotSpec{
		"tw":    {Kind: render.KindFlag},
		"crop":  {Kind: render.KindChoice, Choices: []string{"fill", "crop"}},
		"label": {Kind: render.KindText},
	}}}

	err := ApplyFieldFlags(&post, []string{"tw=true", "crop=fill", "label=a=b", "headline=Big **news**"})
	if err != nil {
		t.Fatalf("ApplyFieldFlags() error = %v", err)
	}
	want := render.FieldSet{
		"tw":       render.Flag(true),
		"crop":     render.Choice("fill"),
		"label":    render.Text("a=b"),
		"headline": render.RichText("Big **news**"),
	}
	for name, f := range want {
		if post.Fields[name] != f {
			t.Errorf("field %s = %+v, want %+v", name, post.Fields[name], f)
		}
	}

	if err := ApplyFieldFlags(&post, []string{"tw=maybe"}); err == nil {
		t.Error("bad flag value should fail")
	}
	if err := ApplyFieldFlags(&post, []string{"novalue"}); err == nil {
		t.Error("missing = should fail")
	}
}

func TestLoadBuiltinPost(t *testing.T) {
	post, err := LoadBuiltinPost("news-card")
	if err != nil {
		t.Fatalf("LoadBuiltinPost() error = %v", err)
	}
	if post.Template.Name != "news-card" || !strings.Contains(post.Template.Markup, "{headline}") {
		t.Errorf("template = %q with %d bytes of markup", post.Template.Name, len(post.Template.Markup))
	}
	if err := ApplyFieldFlags(&post, []string{"headline=Rain **again**", "trigger_warning=true"}); err != nil {
		t.Fatalf("ApplyFieldFlags() error = %v", err)
	}
	if err := post.Template.Validate(post.Fields); err != nil {
		t.Errorf("built-in post does not validate: %v", err)
	}
	if !post.Edits.AddGradient {
		t.Error("built-in edits not loaded")
	}

	if _, err := LoadBuiltinPost("nope"); err == nil {
		t.Error("LoadBuiltinPost() should fail for an unknown name")
	}
}
