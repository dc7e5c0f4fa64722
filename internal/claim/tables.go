package claim

import (
	"fmt"

	"github.com/angelmondragon/mediapipe/pkg/enums"
)

// Tables names the metadata and upload tables backing one class.
type Tables struct {
	Metadata string
	Upload   string
	// HasUser is true for per-user libraries whose metadata carries user_id.
	HasUser bool
}

var classTables = map[enums.Class]Tables{
	enums.ClassGlobalImage:     {Metadata: "global_images", Upload: "global_image_uploads"},
	enums.ClassUserImage:       {Metadata: "user_images", Upload: "user_image_uploads", HasUser: true},
	enums.ClassWebMedia:        {Metadata: "web_media", Upload: "web_media_uploads"},
	enums.ClassGlobalAnimation: {Metadata: "global_animations", Upload: "global_animation_uploads"},
	enums.ClassUserAudio:       {Metadata: "user_audio", Upload: "user_audio_uploads", HasUser: true},
	enums.ClassUserPdf:         {Metadata: "user_pdfs", Upload: "user_pdf_uploads", HasUser: true},
}

// TablesFor returns the table pair for class.
func TablesFor(class enums.Class) (Tables, error) {
	t, ok := classTables[class]
	if !ok {
		return Tables{}, fmt.Errorf("no tables for class %q", class)
	}
	return t, nil
}
