package pipeline

import (
	"fmt"

	"github.com/angelmondragon/mediapipe/pkg/enums"
	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
)

// Job is the engine work a plan asks for.
type Job int

const (
	// JobPassThrough stores the upload as is.
	JobPassThrough Job = iota
	JobDeriveImage
	JobValidateGif
)

// Persist selects how results reach their processed location.
type Persist int

const (
	// PersistCopy copies the source object to its processed key.
	PersistCopy Persist = iota
	// PersistDerivatives writes resized and thumbnail PNGs and preserves the original.
	PersistDerivatives
)

// Plan is the resolved handling for one item.
type Plan struct {
	Source    enums.FileKind
	Job       Job
	ImageKind enums.ImageKind
	Persist   Persist
	// Expect is the MIME type pass-through bytes should sniff as. Mismatches are logged only.
	Expect string
}

// Descriptor binds a class to its plan resolution.
type Descriptor struct {
	Class       enums.Class
	SignalReady bool
	plan        func(kind string) (Plan, error)
}

// Library is the storage library of the class.
func (d Descriptor) Library() enums.Library {
	return d.Class.Library()
}

// Plan resolves the metadata kind tag into a plan. Unknown tags are Unsupported.
func (d Descriptor) Plan(kind string) (Plan, error) {
	return d.plan(kind)
}

var descriptors = map[enums.Class]Descriptor{
	enums.ClassGlobalImage:     {Class: enums.ClassGlobalImage, SignalReady: true, plan: imagePlan},
	enums.ClassUserImage:       {Class: enums.ClassUserImage, SignalReady: true, plan: imagePlan},
	enums.ClassWebMedia:        {Class: enums.ClassWebMedia, SignalReady: true, plan: webPlan},
	enums.ClassGlobalAnimation: {Class: enums.ClassGlobalAnimation, SignalReady: true, plan: animationPlan},
	enums.ClassUserAudio:       {Class: enums.ClassUserAudio, SignalReady: true, plan: audioPlan},
	enums.ClassUserPdf:         {Class: enums.ClassUserPdf, SignalReady: true, plan: documentPlan},
}

// DescriptorFor returns the descriptor of class.
func DescriptorFor(class enums.Class) (Descriptor, bool) {
	d, ok := descriptors[class]
	return d, ok
}

func unsupported(what, kind string) error {
	return pkgerrors.New(pkgerrors.CodeUnsupported, fmt.Sprintf("%s kind %q", what, kind))
}

func imagePlan(kind string) (Plan, error) {
	k, err := enums.ParseImageKind(kind)
	if err != nil {
		return Plan{}, unsupported("image", kind)
	}
	return Plan{
		Source:    enums.FileKindOriginalPng,
		Job:       JobDeriveImage,
		ImageKind: k,
		Persist:   PersistDerivatives,
	}, nil
}

func webPlan(kind string) (Plan, error) {
	switch kind {
	case enums.WebKindSticker:
		return imagePlan(string(enums.ImageKindSticker))
	case enums.WebKindGif:
		return Plan{Source: enums.FileKindGif, Job: JobPassThrough, Persist: PersistCopy}, nil
	default:
		return Plan{}, unsupported("web media", kind)
	}
}

func animationPlan(kind string) (Plan, error) {
	if kind != enums.AnimationKindGif {
		return Plan{}, unsupported("animation", kind)
	}
	return Plan{Source: enums.FileKindGif, Job: JobValidateGif, Persist: PersistCopy}, nil
}

func audioPlan(kind string) (Plan, error) {
	if kind != enums.AudioKindMp3 {
		return Plan{}, unsupported("audio", kind)
	}
	return Plan{Source: enums.FileKindMp3, Job: JobPassThrough, Persist: PersistCopy, Expect: "audio/mpeg"}, nil
}

func documentPlan(kind string) (Plan, error) {
	if kind != enums.DocumentKindPdf {
		return Plan{}, unsupported("document", kind)
	}
	return Plan{Source: enums.FileKindPdf, Job: JobPassThrough, Persist: PersistCopy, Expect: "application/pdf"}, nil
}
