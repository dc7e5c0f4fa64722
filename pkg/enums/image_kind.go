package enums

import "fmt"

// ImageKind selects the derivative geometry for a still image.
type ImageKind string

const (
	ImageKindSticker    ImageKind = "sticker"
	ImageKindAvatar     ImageKind = "avatar"
	ImageKindCanvas     ImageKind = "canvas"
	ImageKindBackground ImageKind = "background"
)

var validImageKinds = []ImageKind{
	ImageKindSticker,
	ImageKindAvatar,
	ImageKindCanvas,
	ImageKindBackground,
}

func (k ImageKind) String() string {
	return string(k)
}

func (k ImageKind) IsValid() bool {
	for _, candidate := range validImageKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseImageKind converts raw input into an ImageKind.
func ParseImageKind(value string) (ImageKind, error) {
	for _, candidate := range validImageKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid image kind %q", value)
}

// Metadata kind tags used by the non-image tables.
const (
	AnimationKindGif = "gif"

	WebKindSticker = "sticker"
	WebKindGif     = "gif"

	AudioKindMp3    = "mp3"
	DocumentKindPdf = "pdf"
)
