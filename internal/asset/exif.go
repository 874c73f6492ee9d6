package asset

import (
	"bytes"
	"strings"

	"github.com/evanoberholster/imagemeta"
)

// readMetadata pulls capture date and camera from EXIF-bearing images
// (JPEG, HEIC, TIFF). Images without EXIF yield zero Metadata.
func readMetadata(data []byte) (m Metadata) {
	defer func() {
		if recover() != nil {
			m = Metadata{}
		}
	}()

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return Metadata{}
	}

	switch {
	case !exifData.DateTimeOriginal().IsZero():
		m.CapturedAt = exifData.DateTimeOriginal()
	case !exifData.CreateDate().IsZero():
		m.CapturedAt = exifData.CreateDate()
	}
	m.CameraMake = strings.TrimSpace(exifData.Make)
	m.CameraModel = strings.TrimSpace(exifData.Model)
	return m
}
