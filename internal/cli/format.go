package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fpang/post-composer/internal/pipeline"
)

// FormatDurationShort renders d as M:SS or H:MM:SS, or in milliseconds when
// under a second.
func FormatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	total := int(d.Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// Summary describes a composed result for terminal output.
func Summary(res *pipeline.Result, path string, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wrote %s (%s, %s) in %s\n", path, res.ContentType, FormatBytes(len(res.Output)), FormatDurationShort(elapsed))
	if c := res.Chosen; c != nil {
		fmt.Fprintf(&b, "Background: candidate %d of %d, score %.2f", c.Position+1, res.Candidates, c.Candidate.Score)
		if c.Fallback {
			b.WriteString(" (below threshold, best available)")
		}
		b.WriteString("\n")
		if c.Candidate.SourceSite != "" {
			fmt.Fprintf(&b, "Source: %s", c.Candidate.SourceSite)
			if c.Candidate.CitationLink != "" {
				fmt.Fprintf(&b, " <%s>", c.Candidate.CitationLink)
			}
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "Session: %s\n", res.SessionID)
	return b.String()
}
