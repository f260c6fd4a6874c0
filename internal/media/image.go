package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	// decoders registered for image.Decode
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MaxLongEdge   = 1568
	MinEdge       = 200
	MaxMegapixels = 1.15
	// MaxSourcePixels bounds the decoded size of an incoming image.
	MaxSourcePixels = 50_000_000

	jpegQuality = 85
)

// TargetDimensions returns the size an image of w x h is scaled to before
// classification. The aspect ratio is preserved; the long edge is capped
// first, then the pixel count, and the minimum edge floor is applied last
// so tiny images may end up above the megapixel ceiling. Neither edge ever
// exceeds MaxLongEdge, so strips thinner than MaxLongEdge/MinEdge are
// squeezed rather than stretched along their long edge.
func TargetDimensions(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	aspect := float64(w) / float64(h)
	nw, nh := w, h

	if nw > MaxLongEdge || nh > MaxLongEdge {
		if nw >= nh {
			nw = MaxLongEdge
			nh = int(float64(nw) / aspect)
		} else {
			nh = MaxLongEdge
			nw = int(float64(nh) * aspect)
		}
	}

	mp := float64(nw) * float64(nh) / 1_000_000
	if mp > MaxMegapixels {
		scale := math.Sqrt(MaxMegapixels / mp)
		nw = int(float64(nw) * scale)
		nh = int(float64(nh) * scale)
	}

	if nw < MinEdge {
		nw = MinEdge
		nh = int(float64(nw) / aspect)
	}
	if nh < MinEdge {
		nh = MinEdge
		nw = int(float64(nh) * aspect)
	}
	return min(max(nw, 1), MaxLongEdge), min(max(nh, 1), MaxLongEdge)
}

// NormalizeImage rescales data to TargetDimensions and re-encodes it as
// JPEG. Images already at their target size are returned untouched along
// with their sniffed MIME type.
func NormalizeImage(data []byte) ([]byte, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels",
			ErrUnsupportedImage, cfg.Width, cfg.Height, MaxSourcePixels)
	}

	w, h := TargetDimensions(cfg.Width, cfg.Height)
	if w == cfg.Width && h == cfg.Height {
		return data, DetectMIME(data), nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; flatten transparency onto white
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
