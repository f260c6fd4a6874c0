package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/xaenox/memo-organizer/internal/models"
)

type MemoryStorage struct {
	mu          sync.RWMutex
	messages    map[string]*models.Message
	tags        map[string]*models.Tag // keyed by name
	tagsByID    map[string]*models.Tag
	messageTags map[string][]string // message id -> tag ids
	nextSteps   map[string]*models.NextStep
	stepOrder   []string
	now         func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages:    make(map[string]*models.Message),
		tags:        make(map[string]*models.Tag),
		tagsByID:    make(map[string]*models.Tag),
		messageTags: make(map[string][]string),
		nextSteps:   make(map[string]*models.NextStep),
		now:         time.Now,
	}
}

// Message methods
func (s *MemoryStorage) EnsureMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if existing, ok := s.messages[msg.ID]; ok {
		return s.hydrate(existing), nil
	}

	stored := *msg
	stored.Tags = nil
	stored.NextSteps = nil
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.messages[stored.ID] = &stored
	return s.hydrate(&stored), nil
}

func (s *MemoryStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return s.hydrate(msg), nil
}

func (s *MemoryStorage) UpdateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.messages[msg.ID]
	if !ok {
		return fmt.Errorf("message %s: %w", msg.ID, ErrNotFound)
	}
	stored.Content = msg.Content
	stored.Category = msg.Category
	stored.Subcategory = msg.Subcategory
	stored.ContentType = msg.ContentType
	stored.Purpose = msg.Purpose
	stored.Processed = msg.Processed
	return nil
}

func (s *MemoryStorage) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	delete(s.messages, id)
	delete(s.messageTags, id)
	s.deleteStepsLocked(id)
	return nil
}

func (s *MemoryStorage) ListMessages(ctx context.Context, owner string) ([]models.Message, error) {
	return s.collect(func(m *models.Message) bool {
		return owner == "" || m.Owner == owner
	}), nil
}

func (s *MemoryStorage) SearchMessages(ctx context.Context, owner, query string) ([]models.Message, error) {
	q := strings.ToLower(query)
	return s.collect(func(m *models.Message) bool {
		if owner != "" && m.Owner != owner {
			return false
		}
		return strings.Contains(strings.ToLower(m.Content), q)
	}), nil
}

func (s *MemoryStorage) ListCategories(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]string, 0)
	for _, m := range s.messages {
		if m.Category != "" && m.Category != models.CategoryOtherFiles {
			categories = append(categories, m.Category)
		}
	}
	categories = lo.Uniq(categories)
	sort.Strings(categories)
	return categories, nil
}

func (s *MemoryStorage) GetOwnerMetadata(ctx context.Context, owner string) (*models.OwnerMetadata, error) {
	messages := s.collect(func(m *models.Message) bool { return m.Owner == owner })

	meta := &models.OwnerMetadata{
		Owner:      owner,
		Categories: []string{},
		Tags:       []string{},
		Messages:   len(messages),
	}
	for _, m := range messages {
		if m.Category != "" {
			meta.Categories = append(meta.Categories, m.Category)
		}
		meta.Tags = append(meta.Tags, m.TagNames()...)
		if m.CreatedAt.After(meta.LastMessageAt) {
			meta.LastMessageAt = m.CreatedAt
		}
	}
	meta.Categories = lo.Uniq(meta.Categories)
	meta.Tags = lo.Uniq(meta.Tags)
	sort.Strings(meta.Categories)
	sort.Strings(meta.Tags)
	return meta, nil
}

// Tag methods
func (s *MemoryStorage) FindTagByName(ctx context.Context, name string) (*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tag, ok := s.tags[name]
	if !ok {
		return nil, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	cp := *tag
	return &cp, nil
}

func (s *MemoryStorage) CreateTag(ctx context.Context, name string) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[name]; ok {
		return nil, fmt.Errorf("tag %q: %w", name, ErrDuplicate)
	}
	tag := &models.Tag{ID: uuid.New().String(), Name: name}
	s.tags[name] = tag
	s.tagsByID[tag.ID] = tag
	cp := *tag
	return &cp, nil
}

func (s *MemoryStorage) AttachTag(ctx context.Context, messageID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if _, ok := s.tagsByID[tagID]; !ok {
		return fmt.Errorf("tag %s: %w", tagID, ErrNotFound)
	}
	if lo.Contains(s.messageTags[messageID], tagID) {
		return nil
	}
	s.messageTags[messageID] = append(s.messageTags[messageID], tagID)
	return nil
}

func (s *MemoryStorage) DetachTags(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messageTags, messageID)
	return nil
}

// Next step methods
func (s *MemoryStorage) FindNextStep(ctx context.Context, name, messageID string) (*models.NextStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.stepOrder {
		step := s.nextSteps[id]
		if step.Name != name {
			continue
		}
		if messageID != "" && step.MessageID != messageID {
			continue
		}
		cp := *step
		return &cp, nil
	}
	return nil, fmt.Errorf("next step %q: %w", name, ErrNotFound)
}

func (s *MemoryStorage) CreateNextStep(ctx context.Context, name, messageID string) (*models.NextStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	step := &models.NextStep{ID: uuid.New().String(), Name: name, MessageID: messageID}
	s.nextSteps[step.ID] = step
	s.stepOrder = append(s.stepOrder, step.ID)
	cp := *step
	return &cp, nil
}

func (s *MemoryStorage) AssignNextStep(ctx context.Context, stepID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.nextSteps[stepID]
	if !ok {
		return fmt.Errorf("next step %s: %w", stepID, ErrNotFound)
	}
	if _, ok := s.messages[messageID]; !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	step.MessageID = messageID
	return nil
}

func (s *MemoryStorage) DeleteNextSteps(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteStepsLocked(messageID)
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) deleteStepsLocked(messageID string) {
	s.stepOrder = lo.Filter(s.stepOrder, func(id string, _ int) bool {
		if s.nextSteps[id].MessageID == messageID {
			delete(s.nextSteps, id)
			return false
		}
		return true
	})
}

func (s *MemoryStorage) collect(keep func(*models.Message) bool) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, *s.hydrate(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// hydrate returns a detached copy with tags and next steps filled in.
// Callers must hold the lock.
func (s *MemoryStorage) hydrate(m *models.Message) *models.Message {
	cp := *m
	cp.Tags = make([]models.Tag, 0, len(s.messageTags[m.ID]))
	for _, id := range s.messageTags[m.ID] {
		cp.Tags = append(cp.Tags, *s.tagsByID[id])
	}
	cp.NextSteps = make([]models.NextStep, 0)
	for _, id := range s.stepOrder {
		if step := s.nextSteps[id]; step.MessageID == m.ID {
			cp.NextSteps = append(cp.NextSteps, *step)
		}
	}
	return &cp
}
