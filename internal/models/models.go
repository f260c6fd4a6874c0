package models

import "time"

const (
	// CategoryOtherFiles is the reserved bucket for content that is stored but never classified.
	CategoryOtherFiles = "other files"

	CategoryUncategorized       = "uncategorized"
	SubcategoryUnsubcategorized = "unsubcategorized"
)

// Message represents one inbound chat message with its classification
type Message struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	Owner       string      `json:"owner"`
	Kind        ContentKind `json:"kind"`
	Content     string      `json:"content"`
	Category    string      `json:"category,omitempty"`
	Subcategory string      `json:"subcategory,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Purpose     string      `json:"purpose,omitempty"`
	Processed   bool        `json:"processed"`
	Tags        []Tag       `json:"tags,omitempty"`
	NextSteps   []NextStep  `json:"next_steps,omitempty"`
}

// TagNames returns the names of the attached tags in attachment order.
func (m *Message) TagNames() []string {
	names := make([]string, 0, len(m.Tags))
	for _, t := range m.Tags {
		names = append(names, t.Name)
	}
	return names
}

func (m *Message) NextStepNames() []string {
	names := make([]string, 0, len(m.NextSteps))
	for _, s := range m.NextSteps {
		names = append(names, s.Name)
	}
	return names
}

// HasTag reports whether a tag with the given name is attached.
func (m *Message) HasTag(name string) bool {
	for _, t := range m.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Tag is a shared label. Names are unique across all messages.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NextStep is a follow-up action owned by exactly one message
type NextStep struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MessageID string `json:"message_id"`
}

// Classification represents the result of content analysis
type Classification struct {
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	ContentType string   `json:"type"`
	Purpose     string   `json:"purpose"`
	Tags        []string `json:"tags"`
	NextSteps   []string `json:"next_steps"`
}
