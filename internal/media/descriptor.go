package media

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xaenox/memo-organizer/internal/models"
)

// StoreLabel names the blob store inside descriptors.
const StoreLabel = "Blob"

var descriptorPattern = regexp.MustCompile(`^(\w+) ID: (.*?), MIME Type: (.*?), (\w+) File: (.+)$`)

// Descriptor is the textual pointer stored as message content for media kinds.
type Descriptor struct {
	Kind     models.ContentKind
	MediaID  string
	MimeType string
	Store    string
	Path     string
}

func NewDescriptor(kind models.ContentKind, mediaID, mimeType, path string) Descriptor {
	return Descriptor{Kind: kind, MediaID: mediaID, MimeType: mimeType, Store: StoreLabel, Path: path}
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s ID: %s, MIME Type: %s, %s File: %s", d.Kind.Label(), d.MediaID, d.MimeType, d.Store, d.Path)
}

// ParseDescriptor reverses Descriptor.String.
func ParseDescriptor(content string) (Descriptor, error) {
	m := descriptorPattern.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return Descriptor{}, ErrInvalidDescriptor
	}
	kind, err := models.ParseContentKind(m[1])
	if err != nil || kind == models.KindText {
		return Descriptor{}, fmt.Errorf("%w: kind %q", ErrInvalidDescriptor, m[1])
	}
	return Descriptor{
		Kind:     kind,
		MediaID:  m[2],
		MimeType: m[3],
		Store:    m[4],
		Path:     m[5],
	}, nil
}

// IsDescriptor reports whether content looks like a media descriptor.
func IsDescriptor(content string) bool {
	_, err := ParseDescriptor(content)
	return err == nil
}
