package derive

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mediapipe/pkg/enums"
	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
)

func newEngine(t *testing.T, workers int, timeout time.Duration) *Engine {
	t.Helper()
	e, err := NewEngine(workers, timeout)
	require.NoError(t, err)
	return e
}

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	return cfg.Width, cfg.Height
}

func TestNewEngineValidates(t *testing.T) {
	_, err := NewEngine(-1, time.Second)
	require.Error(t, err)
	_, err = NewEngine(1, 0)
	require.Error(t, err)

	e := newEngine(t, 0, time.Second)
	assert.GreaterOrEqual(t, e.Workers(), 1)
}

func TestDeriveImageGeometry(t *testing.T) {
	e := newEngine(t, 2, 5*time.Second)
	cases := []struct {
		name     string
		w, h     int
		kind     enums.ImageKind
		resizedW int
		resizedH int
		thumbW   int
		thumbH   int
	}{
		{name: "sticker downscale", w: 1000, h: 500, kind: enums.ImageKindSticker, resizedW: 512, resizedH: 256, thumbW: 128, thumbH: 64},
		{name: "avatar upscale", w: 100, h: 100, kind: enums.ImageKindAvatar, resizedW: 256, resizedH: 256, thumbW: 64, thumbH: 64},
		{name: "canvas tall", w: 300, h: 600, kind: enums.ImageKindCanvas, resizedW: 540, resizedH: 1080, thumbW: 90, thumbH: 180},
		{name: "background wide", w: 640, h: 360, kind: enums.ImageKindBackground, resizedW: 2560, resizedH: 1440, thumbW: 480, thumbH: 270},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := e.DeriveImage(context.Background(), gradientPNG(t, tc.w, tc.h), tc.kind)
			require.NoError(t, err)
			w, h := decodeSize(t, out.Resized)
			assert.Equal(t, [2]int{tc.resizedW, tc.resizedH}, [2]int{w, h})
			w, h = decodeSize(t, out.Thumbnail)
			assert.Equal(t, [2]int{tc.thumbW, tc.thumbH}, [2]int{w, h})
		})
	}
}

func TestDeriveImageIsDeterministic(t *testing.T) {
	e := newEngine(t, 2, 5*time.Second)
	src := gradientPNG(t, 333, 217)

	first, err := e.DeriveImage(context.Background(), src, enums.ImageKindSticker)
	require.NoError(t, err)
	second, err := e.DeriveImage(context.Background(), src, enums.ImageKindSticker)
	require.NoError(t, err)

	assert.Equal(t, first.Resized, second.Resized)
	assert.Equal(t, first.Thumbnail, second.Thumbnail)
}

func TestDeriveImageAcceptsJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 80, 40))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	out, err := newEngine(t, 1, 5*time.Second).DeriveImage(context.Background(), buf.Bytes(), enums.ImageKindAvatar)
	require.NoError(t, err)
	w, h := decodeSize(t, out.Resized)
	assert.Equal(t, 256, w)
	assert.Equal(t, 128, h)
}

func TestDeriveImageRejections(t *testing.T) {
	e := newEngine(t, 1, 5*time.Second)
	ctx := context.Background()

	_, err := e.DeriveImage(ctx, []byte("definitely not an image"), enums.ImageKindSticker)
	assert.Equal(t, pkgerrors.CodeInvalidMedia, pkgerrors.CodeOf(err))

	valid := gradientPNG(t, 8, 8)
	_, err = e.DeriveImage(ctx, valid[:len(valid)/2], enums.ImageKindSticker)
	assert.Equal(t, pkgerrors.CodeInvalidMedia, pkgerrors.CodeOf(err), "truncated body")

	_, err = e.DeriveImage(ctx, oversizedHeader(t, 10000, 5000), enums.ImageKindBackground)
	assert.Equal(t, pkgerrors.CodeInvalidMedia, pkgerrors.CodeOf(err), "pixel cap")

	_, err = e.DeriveImage(ctx, validGif(t), enums.ImageKindSticker)
	assert.Equal(t, pkgerrors.CodeInvalidMedia, pkgerrors.CodeOf(err), "gif is not a still image")

	_, err = e.DeriveImage(ctx, valid, enums.ImageKind("banner"))
	assert.Equal(t, pkgerrors.CodeUnsupported, pkgerrors.CodeOf(err))
}

func TestValidateGif(t *testing.T) {
	e := newEngine(t, 1, 5*time.Second)
	require.NoError(t, e.ValidateGif(context.Background(), validGif(t)))

	err := e.ValidateGif(context.Background(), []byte("GIF89a broken"))
	assert.Equal(t, pkgerrors.CodeInvalidMedia, pkgerrors.CodeOf(err))
}

func TestRunDeadlineIsInternal(t *testing.T) {
	e := newEngine(t, 1, 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	_, err := e.run(context.Background(), func() (Derivatives, error) {
		<-release
		return Derivatives{}, nil
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunRecoversPanics(t *testing.T) {
	e := newEngine(t, 1, time.Second)
	_, err := e.run(context.Background(), func() (Derivatives, error) {
		panic("decoder exploded")
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.CodeOf(err))

	// The slot is released after a panic.
	_, err = e.run(context.Background(), func() (Derivatives, error) { return Derivatives{}, nil })
	require.NoError(t, err)
}

func TestRunBoundsConcurrency(t *testing.T) {
	e := newEngine(t, 2, 5*time.Second)
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.run(context.Background(), func() (Derivatives, error) {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return Derivatives{}, nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestDeriveImageKeepsThinImages(t *testing.T) {
	e := newEngine(t, 1, 5*time.Second)
	ctx := context.Background()

	out, err := e.DeriveImage(ctx, gradientPNG(t, 2000, 3), enums.ImageKindSticker)
	require.NoError(t, err)
	w, h := decodeSize(t, out.Resized)
	assert.Equal(t, [2]int{512, 2}, [2]int{w, h})
	w, h = decodeSize(t, out.Thumbnail)
	assert.Equal(t, [2]int{128, 1}, [2]int{w, h})

	out, err = e.DeriveImage(ctx, gradientPNG(t, 1, 2000), enums.ImageKindAvatar)
	require.NoError(t, err)
	w, h = decodeSize(t, out.Resized)
	assert.Equal(t, [2]int{2, 256}, [2]int{w, h})
	w, h = decodeSize(t, out.Thumbnail)
	assert.Equal(t, [2]int{1, 64}, [2]int{w, h})
}

func TestVariantSizes(t *testing.T) {
	cases := []struct {
		name           string
		w, h           int
		kind           enums.ImageKind
		resized, thumb Box
	}{
		{"landscape sticker", 1024, 768, enums.ImageKindSticker, Box{512, 384}, Box{128, 96}},
		{"tiny upscaled", 1, 1, enums.ImageKindAvatar, Box{256, 256}, Box{64, 64}},
		{"canvas", 3840, 2160, enums.ImageKindCanvas, Box{1920, 1080}, Box{320, 180}},
		{"one pixel tall", 10000, 1, enums.ImageKindSticker, Box{512, 2}, Box{128, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resized, thumb := variantSizes(tc.w, tc.h, geometries[tc.kind])
			assert.Equal(t, tc.resized, resized)
			assert.Equal(t, tc.thumb, thumb)
			assert.Less(t, thumb.Width, resized.Width)
			assert.Less(t, thumb.Height, resized.Height)
		})
	}
}

func TestFit(t *testing.T) {
	assert.Equal(t, Box{512, 1}, Fit(10000, 1, Box{512, 512}))
	assert.Equal(t, Box{1, 512}, Fit(1, 10000, Box{512, 512}))
	assert.Equal(t, Box{320, 180}, Fit(1920, 1080, Box{320, 180}))
}

func TestSniff(t *testing.T) {
	assert.Equal(t, "application/pdf", Sniff([]byte("%PDF-1.4\n%...")))
	assert.True(t, SniffMatches([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), "audio/mpeg"))
	assert.False(t, SniffMatches([]byte("hello"), "application/pdf"))
}

func validGif(t *testing.T) []byte {
	t.Helper()
	frames := []*image.Paletted{
		image.NewPaletted(image.Rect(0, 0, 4, 4), palette.Plan9),
		image.NewPaletted(image.Rect(0, 0, 4, 4), palette.Plan9),
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{Image: frames, Delay: []int{10, 10}}))
	return buf.Bytes()
}

// oversizedHeader returns a PNG whose IHDR claims w x h while the body stays tiny.
func oversizedHeader(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := gradientPNG(t, 1, 1)
	// signature(8) + length(4) + "IHDR"(4) then width, height.
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	crc := crc32.ChecksumIEEE(data[12:29])
	binary.BigEndian.PutUint32(data[29:33], crc)
	return data
}
