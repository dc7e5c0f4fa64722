package enums

import "fmt"

// FileKind identifies one stored object belonging to a media item.
type FileKind string

const (
	FileKindOriginalPng  FileKind = "original-png"
	FileKindResizedPng   FileKind = "resized-png"
	FileKindThumbnailPng FileKind = "thumbnail-png"
	FileKindGif          FileKind = "gif"
	FileKindMp3          FileKind = "mp3"
	FileKindPdf          FileKind = "pdf"
)

var fileNames = map[FileKind]string{
	FileKindOriginalPng:  "original.png",
	FileKindResizedPng:   "resized.png",
	FileKindThumbnailPng: "thumbnail.png",
	FileKindGif:          "animation.gif",
	FileKindMp3:          "audio.mp3",
	FileKindPdf:          "document.pdf",
}

var validFileKinds = []FileKind{
	FileKindOriginalPng,
	FileKindResizedPng,
	FileKindThumbnailPng,
	FileKindGif,
	FileKindMp3,
	FileKindPdf,
}

// String returns the literal string for the file kind.
func (f FileKind) String() string {
	return string(f)
}

// IsValid reports whether the file kind is known.
func (f FileKind) IsValid() bool {
	_, ok := fileNames[f]
	return ok
}

// FileName returns the object name used under {library}/{id}/.
func (f FileKind) FileName() string {
	return fileNames[f]
}

// IsDerivative reports whether the object is produced by processing rather
// than written by the uploader.
func (f FileKind) IsDerivative() bool {
	return f == FileKindResizedPng || f == FileKindThumbnailPng
}

// ContentType returns the canonical MIME type for the stored object.
func (f FileKind) ContentType() string {
	switch f {
	case FileKindOriginalPng, FileKindResizedPng, FileKindThumbnailPng:
		return "image/png"
	case FileKindGif:
		return "image/gif"
	case FileKindMp3:
		return "audio/mpeg"
	case FileKindPdf:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// ParseFileKind converts raw input into a FileKind.
func ParseFileKind(value string) (FileKind, error) {
	for _, candidate := range validFileKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid file kind %q", value)
}

// FileKindForName maps an object file name back to its kind.
func FileKindForName(name string) (FileKind, error) {
	for _, candidate := range validFileKinds {
		if fileNames[candidate] == name {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unknown object file name %q", name)
}
