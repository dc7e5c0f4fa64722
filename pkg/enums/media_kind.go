package enums

import "fmt"

// MediaKind is the broad content family of a media item.
type MediaKind string

const (
	MediaKindImagePng     MediaKind = "image_png"
	MediaKindAnimationGif MediaKind = "animation_gif"
	MediaKindAudioMp3     MediaKind = "audio_mp3"
	MediaKindDocumentPdf  MediaKind = "document_pdf"
)

var validMediaKinds = []MediaKind{
	MediaKindImagePng,
	MediaKindAnimationGif,
	MediaKindAudioMp3,
	MediaKindDocumentPdf,
}

// String returns the literal string for the kind.
func (m MediaKind) String() string {
	return string(m)
}

// IsValid reports whether the kind is known.
func (m MediaKind) IsValid() bool {
	for _, candidate := range validMediaKinds {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMediaKind converts raw input into a MediaKind.
func ParseMediaKind(value string) (MediaKind, error) {
	for _, candidate := range validMediaKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid media kind %q", value)
}
