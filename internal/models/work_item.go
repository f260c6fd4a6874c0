package models

import "time"

// Source identifies the chat platform a work item came from.
type Source string

const (
	SourceWhatsApp Source = "whatsapp"
	SourceTelegram Source = "telegram"
	// SourceInternal marks items produced by the API itself, e.g. reclassify.
	SourceInternal Source = "internal"
)

// WorkItem is the queueable representation of one inbound message.
//
// Content holds the literal text for text items. For media items it is
// empty until the asset has been stored, after which it carries the
// media descriptor.
type WorkItem struct {
	MessageID  string      `json:"message_id,omitempty"`
	Source     Source      `json:"source" validate:"required,oneof=whatsapp telegram internal"`
	SenderID   string      `json:"sender_id" validate:"required"`
	Kind       ContentKind `json:"kind" validate:"required"`
	Content    string      `json:"content,omitempty"`
	Media      *MediaRef   `json:"media,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`

	// Comma separated lists supplied by the caller, linked after persistence.
	TagsText      string `json:"tags_text,omitempty"`
	NextStepsText string `json:"next_steps_text,omitempty"`

	// Reclassify forces a full run even when the message is already processed.
	Reclassify bool `json:"reclassify,omitempty"`
}

// MediaRef points at an asset still held by the chat platform.
type MediaRef struct {
	Handle   string `json:"handle" validate:"required"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
}
