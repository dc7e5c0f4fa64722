package derive

import (
	"bytes"
	"context"
	"image/gif"

	"github.com/gabriel-vasile/mimetype"

	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
)

// ValidateGif checks that data decodes as an animated or still GIF. Nothing
// is re-encoded.
func (e *Engine) ValidateGif(ctx context.Context, data []byte) error {
	owned := append([]byte(nil), data...)
	_, err := e.run(ctx, func() (Derivatives, error) {
		g, err := gif.DecodeAll(bytes.NewReader(owned))
		if err != nil {
			return Derivatives{}, pkgerrors.Wrap(pkgerrors.CodeInvalidMedia, err, "decode gif")
		}
		if len(g.Image) == 0 {
			return Derivatives{}, pkgerrors.New(pkgerrors.CodeInvalidMedia, "gif has no frames")
		}
		return Derivatives{}, nil
	})
	return err
}

// Sniff reports the detected MIME type of pass-through bytes.
func Sniff(data []byte) string {
	return mimetype.Detect(data).String()
}

// SniffMatches reports whether data looks like want. Parameters such as
// charset are ignored.
func SniffMatches(data []byte, want string) bool {
	return mimetype.Detect(data).Is(want)
}
