package compositor

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// TransparentBlack returns a copy of img in which every pure black pixel is
// fully transparent. Other pixels are unchanged.
func TransparentBlack(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		p := out.Pix[i : i+4 : i+4]
		if p[0] == 0 && p[1] == 0 && p[2] == 0 {
			p[3] = 0
		}
	}
	return out
}

// ExtractTransparency keys pure black out of a rendered overlay and, when
// width and height are positive, Lanczos-resizes it to that size. The result
// is PNG.
func ExtractTransparency(pixels []byte, width, height int) ([]byte, error) {
	src, err := decode(pixels)
	if err != nil {
		return nil, err
	}
	out := TransparentBlack(src)
	if width > 0 && height > 0 && (out.Rect.Dx() != width || out.Rect.Dy() != height) {
		out = imaging.Resize(out, width, height, imaging.Lanczos)
	}
	return encodePNG(out)
}

// Gradient returns a width x height layer that is transparent except for
// the bottom ratio of rows, which fade linearly from transparent to opaque
// black.
func Gradient(width, height int, ratio float64) *image.NRGBA {
	img := imaging.New(width, height, color.NRGBA{})
	ratio = math.Max(0, math.Min(1, ratio))
	rows := int(float64(height) * ratio)
	for y := 0; y < rows; y++ {
		alpha := uint8(255)
		if rows > 1 {
			alpha = uint8(y * 255 / (rows - 1))
		}
		row := height - rows + y
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, row, color.NRGBA{A: alpha})
		}
	}
	return img
}

// GradientPNG is Gradient encoded as PNG.
func GradientPNG(width, height int, ratio float64) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, invalid("gradient size %dx%d", width, height)
	}
	return encodePNG(Gradient(width, height, ratio))
}
