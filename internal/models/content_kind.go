package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownContentKind = errors.New("unknown content kind")

type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindDocument ContentKind = "document"
	KindAudio    ContentKind = "audio"
)

// ParseContentKind maps a wire value onto the closed set of kinds.
func ParseContentKind(s string) (ContentKind, error) {
	switch ContentKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindText:
		return KindText, nil
	case KindImage:
		return KindImage, nil
	case KindDocument:
		return KindDocument, nil
	case KindAudio:
		return KindAudio, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContentKind, s)
}

func (k ContentKind) IsMedia() bool {
	return k == KindImage || k == KindDocument || k == KindAudio
}

// Label is the capitalised name used in media descriptors.
func (k ContentKind) Label() string {
	switch k {
	case KindImage:
		return "Image"
	case KindDocument:
		return "Document"
	case KindAudio:
		return "Audio"
	default:
		return "Text"
	}
}

// Dir is the blob directory that holds assets of this kind.
func (k ContentKind) Dir() string {
	switch k {
	case KindImage:
		return "images"
	case KindDocument:
		return "documents"
	case KindAudio:
		return "audios"
	default:
		return "texts"
	}
}

// Icon is a UI hint for the message type counters.
func (k ContentKind) Icon() string {
	switch k {
	case KindImage:
		return "image"
	case KindDocument:
		return "file-text"
	case KindAudio:
		return "music"
	default:
		return "message-square"
	}
}
