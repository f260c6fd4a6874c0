package storage

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/memo-organizer/internal/models"
)

func TestMemoryStorageEnsureMessageIsIdempotent(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := NewMemoryStorage()

	msg := &models.Message{Owner: "alice", Kind: models.KindText, Content: "hello"}
	first, err := s.EnsureMessage(ctx, msg)
	req.NoError(err)
	req.NotEmpty(first.ID)
	req.Equal(first.ID, msg.ID)

	first.Category = "greetings"
	first.Processed = true
	req.NoError(s.UpdateMessage(ctx, first))

	again, err := s.EnsureMessage(ctx, &models.Message{ID: msg.ID, Owner: "alice", Kind: models.KindText})
	req.NoError(err)
	req.Equal("greetings", again.Category)
	req.True(again.Processed)

	all, err := s.ListMessages(ctx, "")
	req.NoError(err)
	req.Len(all, 1)
}

func TestMemoryStorageUpdateUnknownMessage(t *testing.T) {
	t.Parallel()
	s := NewMemoryStorage()

	err := s.UpdateMessage(context.Background(), &models.Message{ID: "missing"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorageTagsAreUniqueAndSetAttached(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := NewMemoryStorage()

	msg, err := s.EnsureMessage(ctx, &models.Message{Owner: "bob", Kind: models.KindText})
	req.NoError(err)

	tag, err := s.CreateTag(ctx, "finance")
	req.NoError(err)

	_, err = s.CreateTag(ctx, "finance")
	req.ErrorIs(err, ErrDuplicate)

	req.NoError(s.AttachTag(ctx, msg.ID, tag.ID))
	req.NoError(s.AttachTag(ctx, msg.ID, tag.ID))

	got, err := s.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Equal([]string{"finance"}, got.TagNames())

	found, err := s.FindTagByName(ctx, "finance")
	req.NoError(err)
	req.Equal(tag.ID, found.ID)

	_, err = s.FindTagByName(ctx, "nope")
	req.ErrorIs(err, ErrNotFound)
}

func TestMemoryStorageNextStepScopes(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := NewMemoryStorage()

	a, err := s.EnsureMessage(ctx, &models.Message{Owner: "bob", Kind: models.KindText})
	req.NoError(err)
	b, err := s.EnsureMessage(ctx, &models.Message{Owner: "bob", Kind: models.KindText})
	req.NoError(err)

	step, err := s.CreateNextStep(ctx, "call back", a.ID)
	req.NoError(err)

	_, err = s.FindNextStep(ctx, "call back", b.ID)
	req.ErrorIs(err, ErrNotFound)

	global, err := s.FindNextStep(ctx, "call back", "")
	req.NoError(err)
	req.Equal(step.ID, global.ID)

	req.NoError(s.AssignNextStep(ctx, step.ID, b.ID))
	gotA, err := s.GetMessage(ctx, a.ID)
	req.NoError(err)
	req.Empty(gotA.NextSteps)
	gotB, err := s.GetMessage(ctx, b.ID)
	req.NoError(err)
	req.Equal([]string{"call back"}, gotB.NextStepNames())
}

func TestMemoryStorageDeleteCascades(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := NewMemoryStorage()

	msg, err := s.EnsureMessage(ctx, &models.Message{Owner: "carol", Kind: models.KindText})
	req.NoError(err)
	tag, err := s.CreateTag(ctx, "keep")
	req.NoError(err)
	req.NoError(s.AttachTag(ctx, msg.ID, tag.ID))
	_, err = s.CreateNextStep(ctx, "pay", msg.ID)
	req.NoError(err)

	req.NoError(s.DeleteMessage(ctx, msg.ID))

	_, err = s.GetMessage(ctx, msg.ID)
	req.ErrorIs(err, ErrNotFound)
	_, err = s.FindNextStep(ctx, "pay", "")
	req.ErrorIs(err, ErrNotFound)
	_, err = s.FindTagByName(ctx, "keep")
	req.NoError(err)
}

func TestMemoryStorageListSearchAndMetadata(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := NewMemoryStorage()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, content := range []string{"Invoice March", "dinner plans", "invoice april"} {
		msg, err := s.EnsureMessage(ctx, &models.Message{
			Owner:     "dave",
			Kind:      models.KindText,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		req.NoError(err)
		msg.Category = "finance"
		if i == 1 {
			msg.Category = "food"
		}
		req.NoError(s.UpdateMessage(ctx, msg))
	}
	_, err := s.EnsureMessage(ctx, &models.Message{Owner: "erin", Kind: models.KindText, Content: "invoice"})
	req.NoError(err)

	listed, err := s.ListMessages(ctx, "dave")
	req.NoError(err)
	req.Len(listed, 3)
	req.Equal("Invoice March", listed[0].Content)

	found, err := s.SearchMessages(ctx, "dave", "INVOICE")
	req.NoError(err)
	req.Len(found, 2)

	meta, err := s.GetOwnerMetadata(ctx, "dave")
	req.NoError(err)
	req.Equal(3, meta.Messages)
	req.Equal([]string{"finance", "food"}, meta.Categories)
	req.Equal(base.Add(2*time.Hour), meta.LastMessageAt)

	categories, err := s.ListCategories(ctx)
	req.NoError(err)
	req.Equal([]string{"finance", "food"}, categories)
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	require.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	require.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	require.False(t, isUniqueViolation(nil))
	require.Equal(t, `50\%\_off`, escapeLike("50%_off"))
}
