package derive

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	// registers the jpeg decoder
	_ "image/jpeg"

	"golang.org/x/image/draw"

	"github.com/angelmondragon/mediapipe/pkg/enums"
	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
)

// MaxPixels caps width*height before a full decode is attempted.
const MaxPixels = 40_000_000

// Box is a bounding rectangle in pixels.
type Box struct {
	Width  int
	Height int
}

type geometry struct {
	resized   Box
	thumbnail Box
}

var geometries = map[enums.ImageKind]geometry{
	enums.ImageKindSticker:    {resized: Box{512, 512}, thumbnail: Box{128, 128}},
	enums.ImageKindAvatar:     {resized: Box{256, 256}, thumbnail: Box{64, 64}},
	enums.ImageKindCanvas:     {resized: Box{1920, 1080}, thumbnail: Box{320, 180}},
	enums.ImageKindBackground: {resized: Box{2560, 1440}, thumbnail: Box{480, 270}},
}

var encoder = png.Encoder{CompressionLevel: png.BestCompression}

// DeriveImage decodes a PNG or JPEG and renders the resized and thumbnail
// variants for kind. Same input and kind always yield the same bytes.
func (e *Engine) DeriveImage(ctx context.Context, data []byte, kind enums.ImageKind) (Derivatives, error) {
	geo, ok := geometries[kind]
	if !ok {
		return Derivatives{}, pkgerrors.New(pkgerrors.CodeUnsupported, fmt.Sprintf("image kind %q", kind))
	}
	owned := append([]byte(nil), data...)
	return e.run(ctx, func() (Derivatives, error) {
		return deriveImage(owned, geo)
	})
}

func deriveImage(data []byte, geo geometry) (Derivatives, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Derivatives{}, pkgerrors.Wrap(pkgerrors.CodeInvalidMedia, err, "decode image header")
	}
	if format != "png" && format != "jpeg" {
		return Derivatives{}, pkgerrors.New(pkgerrors.CodeInvalidMedia, fmt.Sprintf("image format %q", format))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Derivatives{}, pkgerrors.New(pkgerrors.CodeInvalidMedia, "image has no pixels")
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return Derivatives{}, pkgerrors.New(pkgerrors.CodeInvalidMedia,
			fmt.Sprintf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Derivatives{}, pkgerrors.Wrap(pkgerrors.CodeInvalidMedia, err, "decode image")
	}

	b := src.Bounds()
	resized, thumb := variantSizes(b.Dx(), b.Dy(), geo)

	resizedPNG, err := scaleAndEncode(src, resized)
	if err != nil {
		return Derivatives{}, err
	}
	thumbPNG, err := scaleAndEncode(src, thumb)
	if err != nil {
		return Derivatives{}, err
	}
	return Derivatives{Resized: resizedPNG, Thumbnail: thumbPNG}, nil
}

// Fit scales (w, h) up or down to the largest size inside box that keeps the
// aspect ratio. Each side is at least one pixel.
func Fit(w, h int, box Box) Box {
	scale := math.Min(float64(box.Width)/float64(w), float64(box.Height)/float64(h))
	return Box{
		Width:  max(1, int(math.Round(float64(w)*scale))),
		Height: max(1, int(math.Round(float64(h)*scale))),
	}
}

// variantSizes fits both variants to their boxes. The resized variant keeps
// at least two pixels per side so the thumbnail is always strictly smaller.
func variantSizes(w, h int, geo geometry) (Box, Box) {
	resized := Fit(w, h, geo.resized)
	resized.Width = max(2, resized.Width)
	resized.Height = max(2, resized.Height)

	thumb := Fit(w, h, geo.thumbnail)
	thumb.Width = min(thumb.Width, resized.Width-1)
	thumb.Height = min(thumb.Height, resized.Height-1)
	return resized, thumb
}

func scaleAndEncode(src image.Image, size Box) ([]byte, error) {
	dst := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := encoder.Encode(&buf, dst); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode png")
	}
	return buf.Bytes(), nil
}
