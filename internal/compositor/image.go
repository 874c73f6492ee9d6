// Package compositor crops stills, builds overlay layers and composites
// rendered overlays onto video.
package compositor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, invalid("empty image")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, invalid("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, invalid("%s image has zero size", format)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// CropWindow returns the width of a srcW x srcH image scaled to targetH and
// the left edge of the targetW-wide window at the given bias (0 = left,
// 1 = right). It fails with ErrTooNarrow when the scaled width is below
// targetW.
func CropWindow(srcW, srcH, targetW, targetH int, bias float64) (scaledW, left int, err error) {
	if srcW <= 0 || srcH <= 0 || targetW <= 0 || targetH <= 0 {
		return 0, 0, invalid("non-positive dimensions %dx%d -> %dx%d", srcW, srcH, targetW, targetH)
	}
	scaledW = int(math.Round(float64(srcW) * float64(targetH) / float64(srcH)))
	if scaledW < targetW {
		return scaledW, 0, &CompositeError{Kind: InvalidInput, Err: fmt.Errorf("%w: %d < %d", ErrTooNarrow, scaledW, targetW)}
	}
	if math.IsNaN(bias) {
		bias = 0.5
	}
	bias = math.Max(0, math.Min(1, bias))
	left = int(math.Round(bias * float64(scaledW-targetW)))
	return scaledW, left, nil
}

// CropToAspect scales the image to targetH, cuts a targetW-wide window at
// bias and returns it as PNG. The result is exactly targetW x targetH.
func CropToAspect(pixels []byte, targetW, targetH int, bias float64) ([]byte, error) {
	src, err := decode(pixels)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	scaledW, left, err := CropWindow(b.Dx(), b.Dy(), targetW, targetH, bias)
	if err != nil {
		return nil, err
	}

	// Scale only the part of the source that lands in the window.
	srcLeft := b.Min.X + int(math.Round(float64(left)*float64(b.Dx())/float64(scaledW)))
	srcRight := b.Min.X + int(math.Round(float64(left+targetW)*float64(b.Dx())/float64(scaledW)))
	if srcRight > b.Max.X {
		srcRight = b.Max.X
	}
	if srcRight <= srcLeft {
		srcRight = srcLeft + 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, image.Rect(srcLeft, b.Min.Y, srcRight, b.Max.Y), draw.Src, nil)
	return encodePNG(dst)
}
