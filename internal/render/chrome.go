package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the headless browser.
type ChromeOptions struct {
	// ExecPath overrides Chrome discovery.
	ExecPath string
	Width    int
	Height   int
}

// ChromeEngine captures elements with headless Chrome. Each capture starts
// its own browser, so concurrent captures share nothing.
type ChromeEngine struct {
	opts ChromeOptions
}

// NewChromeEngine creates a ChromeEngine. Zero dimensions default to a
// 1080x1350 viewport.
func NewChromeEngine(opts ChromeOptions) *ChromeEngine {
	if opts.Width <= 0 {
		opts.Width = 1080
	}
	if opts.Height <= 0 {
		opts.Height = 1350
	}
	return &ChromeEngine{opts: opts}
}

// CaptureElement implements Engine.
func (e *ChromeEngine) CaptureElement(ctx context.Context, pageURL, selector string, settle time.Duration) ([]byte, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(e.opts.Width, e.opts.Height),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("allow-file-access-from-files", true),
	)
	if e.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(e.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var nodes []*cdp.Node
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(settle),
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}
	if len(nodes) == 0 {
		return nil, ErrElementNotFound
	}

	var buf []byte
	if err := chromedp.Run(browserCtx,
		chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", selector, err)
	}
	return buf, nil
}
