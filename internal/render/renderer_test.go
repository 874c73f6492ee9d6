package render

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fpang/post-composer/internal/scratch"
)

// fakeEngine reads the page it is asked to capture and returns fixed bytes.
type fakeEngine struct {
	calls    int
	document string
	selector string
	err      error
}

func (f *fakeEngine) CaptureElement(ctx context.Context, pageURL, selector string, settle time.Duration) ([]byte, error) {
	f.calls++
	f.selector = selector
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, err
	}
	f.document = string(data)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("\x89PNG fake"), nil
}

func newSession(t *testing.T) *scratch.Session {
	t.Helper()
	sess, err := scratch.NewJanitor(t.TempDir()).Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(sess.Close)
	return sess
}

var postTemplate = TemplateSpec{
	Name: "post",
	Markup: `<html><head><style>.container {{ width: 1080px; }}</style></head>
<body style="background:url('{background}')"><div class="container">{trigger}{headline}{subtext}<p class="source">{source}</p></div></body></html>`,
	RequiredSlots: []string{"subtext"},
	Slots: map[string]SlotSpec{
		"headline": {Kind: KindRichText, Tag: "h1", Default: &Field{Kind: KindRichText}},
		"subtext":  {Kind: KindRichText, Tag: "p", Class: "subtext"},
		"trigger":  {Kind: KindFlag, FlagMarkup: `<div class="trigger-warning">Trigger Warning</div>`, Default: &Field{Kind: KindFlag}},
		"crop":     {Kind: KindChoice, Choices: []string{"fill", "crop"}},
	},
	CaptureSelector:  ".container",
	AllowedCropTypes: []string{"cover"},
}

func TestRender(t *testing.T) {
	sess := newSession(t)
	eng := &fakeEngine{}
	r := NewRenderer(eng, Options{})

	png, err := r.Render(context.Background(), postTemplate, FieldSet{
		"headline": RichText("**India Post** goes digital"),
		"subtext":  RichText("No more snail mail.\nA smarter era <begins>."),
		"trigger":  Flag(true),
		"source":   Text("Financial Express"),
	}, map[string]Asset{"background": {Data: []byte("\x89PNG\r\n\x1a\nxxxx")}}, sess)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if string(png) != "\x89PNG fake" {
		t.Errorf("Render() returned %q", png)
	}
	if eng.calls != 1 || eng.selector != ".container" {
		t.Errorf("engine calls = %d selector = %q", eng.calls, eng.selector)
	}

	for _, want := range []string{
		`.container { width: 1080px; }`,
		`<h1><span class="yellow">India Post</span> goes digital</h1>`,
		`<p class="subtext">No more snail mail.<br />A smarter era &lt;begins&gt;.</p>`,
		`<div class="trigger-warning">Trigger Warning</div>`,
		`<p class="source">Financial Express</p>`,
		"url('file://",
	} {
		if !strings.Contains(eng.document, want) {
			t.Errorf("document missing %q:\n%s", want, eng.document)
		}
	}

	var sawAsset, sawDoc bool
	for _, f := range sess.Files() {
		sawAsset = sawAsset || strings.HasSuffix(f, ".png")
		sawDoc = sawDoc || strings.HasSuffix(f, ".html")
	}
	if !sawAsset || !sawDoc {
		t.Errorf("session files = %v, want asset and document registered", sess.Files())
	}
}

func TestRender_DefaultsApply(t *testing.T) {
	eng := &fakeEngine{}
	_, err := NewRenderer(eng, Options{}).Render(context.Background(), postTemplate,
		FieldSet{"subtext": RichText("only subtext")}, nil, newSession(t))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(eng.document, "trigger-warning") {
		t.Error("unset flag should render empty")
	}
	if !strings.Contains(eng.document, "<h1></h1>") {
		t.Errorf("default headline not rendered:\n%s", eng.document)
	}
}

func TestRender_ValidationFailsBeforeEngine(t *testing.T) {
	tests := []struct {
		name   string
		fields FieldSet
		kind   ErrorKind
	}{
		{"missing required slot", FieldSet{"headline": RichText("x")}, MissingSlot},
		{"choice not allowed", FieldSet{"subtext": RichText("x"), "crop": Choice("stretch")}, InvalidField},
		{"kind mismatch", FieldSet{"subtext": Flag(true)}, InvalidField},
		{"unknown kind", FieldSet{"subtext": {Kind: "slider"}}, InvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			_, err := NewRenderer(eng, Options{}).Render(context.Background(), postTemplate, tt.fields, nil, newSession(t))
			if !IsKind(err, tt.kind) {
				t.Fatalf("Render() error = %v, want kind %s", err, tt.kind)
			}
			if eng.calls != 0 {
				t.Errorf("engine called %d times, want 0", eng.calls)
			}
		})
	}
}

func TestRender_SelectorMissingInDocument(t *testing.T) {
	spec := postTemplate
	spec.CaptureSelector = ".card"
	eng := &fakeEngine{}

	_, err := NewRenderer(eng, Options{}).Render(context.Background(), spec,
		FieldSet{"subtext": RichText("x")}, nil, newSession(t))

	var re *RenderError
	if !errors.As(err, &re) || re.Kind != SelectorNotFound || re.Selector != ".card" {
		t.Fatalf("Render() error = %v, want SelectorNotFound for .card", err)
	}
	if eng.calls != 0 {
		t.Error("engine should not be launched for a missing selector")
	}
}

func TestRender_EngineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"element not found", ErrElementNotFound, SelectorNotFound},
		{"crash", errors.New("chrome exited"), EngineFailure},
		{"timeout", context.DeadlineExceeded, EngineFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{err: tt.err}
			png, err := NewRenderer(eng, Options{}).Render(context.Background(), postTemplate,
				FieldSet{"subtext": RichText("x")}, nil, newSession(t))
			if png != nil {
				t.Error("Render() returned bytes on failure")
			}
			if !IsKind(err, tt.kind) || !errors.Is(err, tt.err) {
				t.Errorf("Render() error = %v, want kind %s wrapping %v", err, tt.kind, tt.err)
			}
			if eng.calls != 1 {
				t.Errorf("engine calls = %d, want exactly 1", eng.calls)
			}
		})
	}
}

func TestRender_PathAsset(t *testing.T) {
	eng := &fakeEngine{}
	_, err := NewRenderer(eng, Options{}).Render(context.Background(), postTemplate,
		FieldSet{"subtext": RichText("x")},
		map[string]Asset{"background": {Path: "/srv/assets/bg.jpg"}}, newSession(t))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(eng.document, "file:///srv/assets/bg.jpg") {
		t.Errorf("path asset not referenced:\n%s", eng.document)
	}
}

func TestAllowsCrop(t *testing.T) {
	if !postTemplate.AllowsCrop("cover") || postTemplate.AllowsCrop("contain") {
		t.Error("AllowsCrop() should honour AllowedCropTypes")
	}
	if !(TemplateSpec{}).AllowsCrop("contain") {
		t.Error("empty AllowedCropTypes should allow any crop")
	}
}
