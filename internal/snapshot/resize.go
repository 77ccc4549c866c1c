package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Fit is the result of a cover-fit calculation: the source is scaled to
// ScaledW x ScaledH and the target-sized window at (OffsetX, OffsetY) is kept.
type Fit struct {
	Scale   float64
	ScaledW int
	ScaledH int
	OffsetX int
	OffsetY int
}

// CoverFit scales a sw x sh source so it fully covers a tw x th target and
// centers the crop window.
func CoverFit(sw, sh, tw, th int) Fit {
	if sw <= 0 || sh <= 0 || tw <= 0 || th <= 0 {
		return Fit{}
	}
	scale := math.Max(float64(tw)/float64(sw), float64(th)/float64(sh))
	w := int(math.Round(float64(sw) * scale))
	h := int(math.Round(float64(sh) * scale))
	// Rounding must never leave the scaled image smaller than the target.
	w = max(w, tw)
	h = max(h, th)
	return Fit{
		Scale:   scale,
		ScaledW: w,
		ScaledH: h,
		OffsetX: (w - tw) / 2,
		OffsetY: (h - th) / 2,
	}
}

// Resize decodes an image (png, jpeg, gif or webp), cover-fits it to
// width x height and encodes it as JPEG.
func Resize(data []byte, width, height, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	fit := CoverFit(b.Dx(), b.Dy(), width, height)
	if fit.ScaledW == 0 {
		return nil, fmt.Errorf("resize: empty image or target")
	}

	scaled := imaging.Resize(src, fit.ScaledW, fit.ScaledH, imaging.Lanczos)
	cropped := imaging.Crop(scaled, image.Rect(fit.OffsetX, fit.OffsetY, fit.OffsetX+width, fit.OffsetY+height))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
