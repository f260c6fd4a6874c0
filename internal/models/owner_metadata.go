package models

import "time"

// OwnerMetadata summarises what an owner has stored so far.
type OwnerMetadata struct {
	Owner         string    `json:"owner"`
	Categories    []string  `json:"categories"`
	Tags          []string  `json:"tags"`
	Messages      int       `json:"messages"`
	LastMessageAt time.Time `json:"last_message_at"`
}
