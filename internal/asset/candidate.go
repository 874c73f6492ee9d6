// Package asset sources candidate background media for a post. A Provider
// lists media references for a query; the Fetcher pages through it,
// downloads each reference under its own timeout, and keeps only downloads
// whose declared content type matches the wanted media family.
package asset

import (
	"strings"
	"time"
)

// Kind is the media family of a candidate.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// KindOf derives the media family from a content type.
func KindOf(contentType string) Kind {
	if strings.HasPrefix(strings.ToLower(contentType), "video/") {
		return KindVideo
	}
	return KindImage
}

// Candidate is a downloaded, content-type-validated media item. Candidates
// are passed by value and not modified after the Fetcher builds them.
type Candidate struct {
	Index        int    `json:"index"`
	SourceURL    string `json:"sourceUrl"`
	Title        string `json:"title,omitempty"`
	SourceSite   string `json:"sourceSite,omitempty"`
	CitationLink string `json:"citationLink,omitempty"`
	ContentType  string `json:"contentType"`
	Kind         Kind   `json:"kind"`
	Data         []byte `json:"-"`

	Metadata Metadata `json:"metadata"`
}

// Metadata holds best-effort provenance facts read from the media itself.
type Metadata struct {
	CapturedAt  time.Time `json:"capturedAt,omitzero"`
	CameraMake  string    `json:"cameraMake,omitempty"`
	CameraModel string    `json:"cameraModel,omitempty"`
}

// Describe renders metadata as short prompt context, or "" when empty.
func (m Metadata) Describe() string {
	var parts []string
	if !m.CapturedAt.IsZero() {
		parts = append(parts, "captured "+m.CapturedAt.Format("2006-01-02"))
	}
	if camera := strings.TrimSpace(m.CameraMake + " " + m.CameraModel); camera != "" {
		parts = append(parts, "camera "+camera)
	}
	return strings.Join(parts, ", ")
}
