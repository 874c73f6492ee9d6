// Package render turns a markup template and field values into a PNG of one
// element of the rendered page.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/fpang/post-composer/internal/metrics"
	"github.com/fpang/post-composer/internal/scratch"
)

// Engine loads a page and captures one element as PNG.
type Engine interface {
	// CaptureElement returns ErrElementNotFound when selector matches nothing.
	CaptureElement(ctx context.Context, pageURL, selector string, settle time.Duration) ([]byte, error)
}

// Asset is a file the template references by name. Exactly one of Data or
// Path is set; Data is written into the session first.
type Asset struct {
	Data []byte
	// Ext names the file type for Data, e.g. ".png". Sniffed when empty.
	Ext  string
	Path string
}

// Options tunes a Renderer.
type Options struct {
	SettleDelay time.Duration
	Timeout     time.Duration
}

// Renderer renders templates through an Engine.
type Renderer struct {
	engine  Engine
	settle  time.Duration
	timeout time.Duration
}

// NewRenderer creates a Renderer.
func NewRenderer(engine Engine, opts Options) *Renderer {
	r := &Renderer{engine: engine, settle: opts.SettleDelay, timeout: opts.Timeout}
	if r.timeout <= 0 {
		r.timeout = 60 * time.Second
	}
	return r
}

// Render validates fields, writes the filled document into sess, and returns
// the captured element as PNG bytes. Every file it writes is registered with
// sess.
func (r *Renderer) Render(ctx context.Context, spec TemplateSpec, fields FieldSet, assets map[string]Asset, sess *scratch.Session) ([]byte, error) {
	if err := spec.Validate(fields); err != nil {
		return nil, err
	}

	values := spec.values(fields)
	for name, a := range assets {
		ref, err := materialize(sess, name, a)
		if err != nil {
			return nil, fmt.Errorf("materialize asset %s: %w", name, err)
		}
		values[name] = ref
	}

	document := Substitute(spec.Markup, values)
	selector := spec.selector()
	if err := checkSelector(document, selector); err != nil {
		return nil, err
	}

	path, err := sess.WriteFile("template_"+spec.Name, ".html", []byte(document))
	if err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	png, err := r.engine.CaptureElement(ctx, fileURL(path), selector, r.settle)
	m := metrics.New("render").
		Dimension("Template", spec.Name).
		Since("RenderLatencyMs", start).
		Count("RenderCaptures")
	if err != nil {
		m.Count("RenderErrors").Flush()
		if errors.Is(err, ErrElementNotFound) {
			return nil, &RenderError{Kind: SelectorNotFound, Selector: selector, Err: err}
		}
		return nil, &RenderError{Kind: EngineFailure, Selector: selector, Err: err}
	}
	m.Metric("RenderBytes", float64(len(png)), metrics.UnitBytes).Flush()

	log.Debug().
		Str("template", spec.Name).
		Str("selector", selector).
		Int("bytes", len(png)).
		Dur("elapsed", time.Since(start)).
		Msg("Template rendered")
	return png, nil
}

// checkSelector parses the document and confirms the capture element exists,
// so an obviously broken template never reaches the browser.
func checkSelector(document, selector string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return &RenderError{Kind: InvalidField, Err: fmt.Errorf("parse document: %w", err)}
	}
	if doc.Find(selector).Length() == 0 {
		return &RenderError{Kind: SelectorNotFound, Selector: selector, Err: ErrElementNotFound}
	}
	return nil
}

func materialize(sess *scratch.Session, name string, a Asset) (string, error) {
	if a.Data == nil {
		if a.Path == "" {
			return "", errors.New("asset has neither data nor path")
		}
		abs, err := filepath.Abs(a.Path)
		if err != nil {
			return "", err
		}
		return fileURL(abs), nil
	}

	ext := a.Ext
	if ext == "" {
		ext = sniffExt(a.Data)
	}
	path, err := sess.WriteFile("asset_"+name, ext, a.Data)
	if err != nil {
		return "", err
	}
	return fileURL(path), nil
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

var extByType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

func sniffExt(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if ext, ok := extByType[ct]; ok {
		return ext
	}
	return ".bin"
}
