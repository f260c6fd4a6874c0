package storage

import (
	"context"
	"errors"

	"github.com/xaenox/memo-organizer/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type Storage interface {
	MessageStorage
	TagStorage
	NextStepStorage
	Close() error
}

type MessageStorage interface {
	// EnsureMessage inserts msg unless a row with the same ID exists and
	// returns the stored row. An empty ID is allocated first.
	EnsureMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// UpdateMessage rewrites the scalar columns of an existing row.
	UpdateMessage(ctx context.Context, msg *models.Message) error
	DeleteMessage(ctx context.Context, id string) error
	// ListMessages returns messages oldest first. An empty owner lists everything.
	ListMessages(ctx context.Context, owner string) ([]models.Message, error)
	SearchMessages(ctx context.Context, owner, query string) ([]models.Message, error)
	ListCategories(ctx context.Context) ([]string, error)
	GetOwnerMetadata(ctx context.Context, owner string) (*models.OwnerMetadata, error)
}

type TagStorage interface {
	FindTagByName(ctx context.Context, name string) (*models.Tag, error)
	// CreateTag returns ErrDuplicate when the name is already taken.
	CreateTag(ctx context.Context, name string) (*models.Tag, error)
	// AttachTag links a tag to a message; attaching twice is a no-op.
	AttachTag(ctx context.Context, messageID, tagID string) error
	DetachTags(ctx context.Context, messageID string) error
}

type NextStepStorage interface {
	// FindNextStep looks a step up by name. An empty messageID searches all messages.
	FindNextStep(ctx context.Context, name, messageID string) (*models.NextStep, error)
	CreateNextStep(ctx context.Context, name, messageID string) (*models.NextStep, error)
	AssignNextStep(ctx context.Context, stepID, messageID string) error
	DeleteNextSteps(ctx context.Context, messageID string) error
}
