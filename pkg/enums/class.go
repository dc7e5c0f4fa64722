package enums

import "fmt"

// Class is one (library, media kind) pairing with its own pair of tables.
type Class string

const (
	ClassGlobalImage     Class = "global_image"
	ClassUserImage       Class = "user_image"
	ClassWebMedia        Class = "web_media"
	ClassGlobalAnimation Class = "global_animation"
	ClassUserAudio       Class = "user_audio"
	ClassUserPdf         Class = "user_pdf"
)

type classInfo struct {
	library Library
	kind    MediaKind
}

var classes = map[Class]classInfo{
	ClassGlobalImage:     {library: LibraryGlobal, kind: MediaKindImagePng},
	ClassUserImage:       {library: LibraryUser, kind: MediaKindImagePng},
	ClassWebMedia:        {library: LibraryWeb, kind: MediaKindImagePng},
	ClassGlobalAnimation: {library: LibraryGlobal, kind: MediaKindAnimationGif},
	ClassUserAudio:       {library: LibraryUser, kind: MediaKindAudioMp3},
	ClassUserPdf:         {library: LibraryUser, kind: MediaKindDocumentPdf},
}

// AllClasses lists every class in a stable order.
var AllClasses = []Class{
	ClassGlobalImage,
	ClassUserImage,
	ClassWebMedia,
	ClassGlobalAnimation,
	ClassUserAudio,
	ClassUserPdf,
}

func (c Class) String() string {
	return string(c)
}

func (c Class) IsValid() bool {
	_, ok := classes[c]
	return ok
}

// Library returns the storage library for the class.
func (c Class) Library() Library {
	return classes[c].library
}

// MediaKind returns the primary media kind for the class. Web media mixes
// stickers and gifs; its primary kind is the still image.
func (c Class) MediaKind() MediaKind {
	return classes[c].kind
}

// ParseClass converts raw input into a Class.
func ParseClass(value string) (Class, error) {
	candidate := Class(value)
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid class %q", value)
}

// ParseClasses converts a list of raw values, rejecting duplicates.
func ParseClasses(values []string) ([]Class, error) {
	seen := make(map[Class]struct{}, len(values))
	out := make([]Class, 0, len(values))
	for _, value := range values {
		class, err := ParseClass(value)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[class]; dup {
			return nil, fmt.Errorf("duplicate class %q", value)
		}
		seen[class] = struct{}{}
		out = append(out, class)
	}
	return out, nil
}
