package enums

import "testing"

func TestFileKindNamesRoundTrip(t *testing.T) {
	for _, kind := range validFileKinds {
		name := kind.FileName()
		if name == "" {
			t.Fatalf("file kind %s has no file name", kind)
		}
		got, err := FileKindForName(name)
		if err != nil {
			t.Fatalf("FileKindForName(%q): %v", name, err)
		}
		if got != kind {
			t.Fatalf("expected %s got %s", kind, got)
		}
	}
	if _, err := FileKindForName("original.jpg"); err == nil {
		t.Fatal("expected unknown file name to fail")
	}
}

func TestFileKindDerivatives(t *testing.T) {
	if !FileKindResizedPng.IsDerivative() || !FileKindThumbnailPng.IsDerivative() {
		t.Fatal("resized and thumbnail are derivatives")
	}
	if FileKindOriginalPng.IsDerivative() || FileKindGif.IsDerivative() {
		t.Fatal("original and gif are uploader-owned")
	}
}

func TestClassAttributes(t *testing.T) {
	tests := []struct {
		class   Class
		library Library
		kind    MediaKind
	}{
		{ClassGlobalImage, LibraryGlobal, MediaKindImagePng},
		{ClassUserImage, LibraryUser, MediaKindImagePng},
		{ClassWebMedia, LibraryWeb, MediaKindImagePng},
		{ClassGlobalAnimation, LibraryGlobal, MediaKindAnimationGif},
		{ClassUserAudio, LibraryUser, MediaKindAudioMp3},
		{ClassUserPdf, LibraryUser, MediaKindDocumentPdf},
	}
	for _, tt := range tests {
		if tt.class.Library() != tt.library {
			t.Fatalf("%s: expected library %s got %s", tt.class, tt.library, tt.class.Library())
		}
		if tt.class.MediaKind() != tt.kind {
			t.Fatalf("%s: expected kind %s got %s", tt.class, tt.kind, tt.class.MediaKind())
		}
	}
	if len(AllClasses) != len(tests) {
		t.Fatalf("expected %d classes, got %d", len(tests), len(AllClasses))
	}
}

func TestParseClasses(t *testing.T) {
	got, err := ParseClasses([]string{"user_pdf", "global_image"})
	if err != nil {
		t.Fatalf("ParseClasses: %v", err)
	}
	if len(got) != 2 || got[0] != ClassUserPdf || got[1] != ClassGlobalImage {
		t.Fatalf("unexpected classes %v", got)
	}
	if _, err := ParseClasses([]string{"user_pdf", "user_pdf"}); err == nil {
		t.Fatal("expected duplicate class to fail")
	}
	if _, err := ParseClasses([]string{"user_video"}); err == nil {
		t.Fatal("expected unknown class to fail")
	}
}

func TestParseLibraryAndImageKind(t *testing.T) {
	if lib, err := ParseLibrary("web"); err != nil || lib != LibraryWeb {
		t.Fatalf("ParseLibrary(web) = %v, %v", lib, err)
	}
	if _, err := ParseLibrary("private"); err == nil {
		t.Fatal("expected unknown library to fail")
	}
	if kind, err := ParseImageKind("canvas"); err != nil || kind != ImageKindCanvas {
		t.Fatalf("ParseImageKind(canvas) = %v, %v", kind, err)
	}
	if ImageKind("banner").IsValid() {
		t.Fatal("banner is not a known image kind")
	}
}
