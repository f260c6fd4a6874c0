package tagging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/xaenox/memo-organizer/internal/models"
	"github.com/xaenox/memo-organizer/internal/storage"
	"go.uber.org/zap"
)

// NextStepScope decides where an existing next step is looked up.
type NextStepScope string

const (
	// NextStepScopeMessage only reuses steps the message already owns.
	NextStepScopeMessage NextStepScope = "message"
	// NextStepScopeGlobal reuses a step of the same name from any message and
	// moves it onto the current one.
	NextStepScopeGlobal NextStepScope = "global"
)

func ParseNextStepScope(s string) (NextStepScope, error) {
	switch NextStepScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", NextStepScopeMessage:
		return NextStepScopeMessage, nil
	case NextStepScopeGlobal:
		return NextStepScopeGlobal, nil
	}
	return "", fmt.Errorf("unknown next step scope %q", s)
}

type Store interface {
	storage.TagStorage
	storage.NextStepStorage
}

// Linker attaches tags and next steps to persisted messages.
type Linker struct {
	store  Store
	scope  NextStepScope
	logger *zap.Logger
}

func NewLinker(store Store, scope NextStepScope, logger *zap.Logger) *Linker {
	if scope == "" {
		scope = NextStepScopeMessage
	}
	return &Linker{store: store, scope: scope, logger: logger}
}

// SplitList splits comma separated text into trimmed, non-empty, distinct entries.
func SplitList(text string) []string {
	parts := lo.Map(strings.Split(text, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Uniq(lo.Compact(parts))
}

// LinkText links the comma separated tags and next steps to messageID.
func (l *Linker) LinkText(ctx context.Context, messageID, tagsText, nextStepsText string) error {
	return l.Link(ctx, messageID, SplitList(tagsText), SplitList(nextStepsText))
}

// Link attaches every tag and next step it can. Tags are processed first and
// are kept even when next steps fail; all failures are returned joined.
func (l *Linker) Link(ctx context.Context, messageID string, tags, nextSteps []string) error {
	tags = normalize(tags)
	nextSteps = normalize(nextSteps)

	var errs []error
	for _, name := range tags {
		if err := l.attachTag(ctx, messageID, name); err != nil {
			errs = append(errs, fmt.Errorf("tag %q: %w", name, err))
		}
	}
	for _, name := range nextSteps {
		if err := l.attachNextStep(ctx, messageID, name); err != nil {
			errs = append(errs, fmt.Errorf("next step %q: %w", name, err))
		}
	}

	if len(errs) > 0 {
		l.logger.Warn("Partial tag persistence",
			zap.String("message_id", messageID),
			zap.Int("failed", len(errs)),
			zap.Int("requested", len(tags)+len(nextSteps)))
	}
	return errors.Join(errs...)
}

// Replace swaps the current tags and/or next steps of a message for new ones.
// A nil slice leaves that side untouched.
func (l *Linker) Replace(ctx context.Context, messageID string, tags, nextSteps []string) error {
	if tags != nil {
		if err := l.store.DetachTags(ctx, messageID); err != nil {
			return fmt.Errorf("failed to detach tags: %w", err)
		}
	}
	if nextSteps != nil {
		if err := l.store.DeleteNextSteps(ctx, messageID); err != nil {
			return fmt.Errorf("failed to delete next steps: %w", err)
		}
	}
	return l.Link(ctx, messageID, tags, nextSteps)
}

// GetOrCreateTag returns the tag called name, creating it when missing.
// A concurrent creator winning the insert is resolved by reading its row.
func (l *Linker) GetOrCreateTag(ctx context.Context, name string) (*models.Tag, error) {
	tag, err := l.store.FindTagByName(ctx, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	tag, err = l.store.CreateTag(ctx, name)
	if errors.Is(err, storage.ErrDuplicate) {
		l.logger.Debug("Tag created concurrently, reloading", zap.String("tag", name))
		return l.store.FindTagByName(ctx, name)
	}
	return tag, err
}

func (l *Linker) attachTag(ctx context.Context, messageID, name string) error {
	tag, err := l.GetOrCreateTag(ctx, name)
	if err != nil {
		return err
	}
	return l.store.AttachTag(ctx, messageID, tag.ID)
}

func (l *Linker) attachNextStep(ctx context.Context, messageID, name string) error {
	lookup := messageID
	if l.scope == NextStepScopeGlobal {
		lookup = ""
	}

	step, err := l.store.FindNextStep(ctx, name, lookup)
	if errors.Is(err, storage.ErrNotFound) {
		_, err = l.store.CreateNextStep(ctx, name, messageID)
		return err
	}
	if err != nil {
		return err
	}
	if step.MessageID == messageID {
		return nil
	}
	return l.store.AssignNextStep(ctx, step.ID, messageID)
}

func normalize(items []string) []string {
	return lo.Uniq(lo.Compact(lo.Map(items, func(s string, _ int) string {
		return strings.TrimSpace(s)
	})))
}
