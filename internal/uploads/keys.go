package uploads

import (
	"github.com/angelmondragon/mediapipe/pkg/enums"
	"github.com/angelmondragon/mediapipe/pkg/storage"
)

type originalKey struct {
	library enums.Library
	kind    enums.FileKind
}

// Only originals written by uploaders map to a class. Derivatives and the
// processed copies the pipeline writes are ignored.
var originalClasses = map[originalKey]enums.Class{
	{enums.LibraryGlobal, enums.FileKindOriginalPng}: enums.ClassGlobalImage,
	{enums.LibraryUser, enums.FileKindOriginalPng}:   enums.ClassUserImage,
	{enums.LibraryWeb, enums.FileKindOriginalPng}:    enums.ClassWebMedia,
	{enums.LibraryWeb, enums.FileKindGif}:            enums.ClassWebMedia,
	{enums.LibraryGlobal, enums.FileKindGif}:         enums.ClassGlobalAnimation,
	{enums.LibraryUser, enums.FileKindMp3}:           enums.ClassUserAudio,
	{enums.LibraryUser, enums.FileKindPdf}:           enums.ClassUserPdf,
}

// ClassForKey returns the class whose upload row an original object belongs to.
func ClassForKey(key storage.Key) (enums.Class, bool) {
	class, ok := originalClasses[originalKey{library: key.Library, kind: key.FileKind}]
	return class, ok
}
