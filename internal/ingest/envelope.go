package ingest

// Envelope is the WhatsApp Cloud API webhook payload.
type Envelope struct {
	Object  string  `json:"object" validate:"required"`
	Entries []Entry `json:"entry" validate:"required"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         *ChangeMetadata  `json:"metadata,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
}

type ChangeMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type InboundMessage struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	Timestamp string     `json:"timestamp"`
	Type      string     `json:"type"`
	Text      *TextBody  `json:"text,omitempty"`
	Image     *MediaBody `json:"image,omitempty"`
	Document  *MediaBody `json:"document,omitempty"`
	Audio     *MediaBody `json:"audio,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type MediaBody struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
}
