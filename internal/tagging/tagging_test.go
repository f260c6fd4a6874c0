package tagging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaenox/memo-organizer/internal/models"
	"github.com/xaenox/memo-organizer/internal/storage"
	"go.uber.org/zap"
)

func newMessage(t *testing.T, s *storage.MemoryStorage) string {
	t.Helper()
	msg, err := s.EnsureMessage(context.Background(), &models.Message{Owner: "alice", Kind: models.KindText})
	require.NoError(t, err)
	return msg.ID
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	cases := map[string][]string{
		"":                  {},
		" , ,":              {},
		"a,b":               {"a", "b"},
		"  travel , food ,": {"travel", "food"},
		"x, x ,y":           {"x", "y"},
	}
	for in, want := range cases {
		require.Equal(t, want, SplitList(in), in)
	}
}

func TestLinkIsIdempotent(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	l := NewLinker(s, NextStepScopeMessage, zap.NewNop())
	id := newMessage(t, s)

	req.NoError(l.LinkText(ctx, id, "finance, bills", "pay invoice"))
	req.NoError(l.LinkText(ctx, id, "bills,finance", "pay invoice"))

	msg, err := s.GetMessage(ctx, id)
	req.NoError(err)
	req.ElementsMatch([]string{"finance", "bills"}, msg.TagNames())
	req.Equal([]string{"pay invoice"}, msg.NextStepNames())
}

func TestTagsAreSharedAcrossMessages(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	l := NewLinker(s, NextStepScopeMessage, zap.NewNop())
	a, b := newMessage(t, s), newMessage(t, s)

	req.NoError(l.LinkText(ctx, a, "travel", ""))
	req.NoError(l.LinkText(ctx, b, "travel", ""))

	ma, err := s.GetMessage(ctx, a)
	req.NoError(err)
	mb, err := s.GetMessage(ctx, b)
	req.NoError(err)
	req.Equal(ma.Tags[0].ID, mb.Tags[0].ID)
}

func TestConcurrentLinkingCreatesOneTagPerName(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	l := NewLinker(s, NextStepScopeMessage, zap.NewNop())

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = newMessage(t, s)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			require.NoError(t, l.LinkText(ctx, id, "shared, common", ""))
		}(id)
	}
	wg.Wait()

	tagIDs := map[string]bool{}
	for _, id := range ids {
		msg, err := s.GetMessage(ctx, id)
		req.NoError(err)
		req.Len(msg.Tags, 2)
		for _, tag := range msg.Tags {
			tagIDs[tag.ID] = true
		}
	}
	req.Len(tagIDs, 2)
}

// racingStore loses every first insert of a tag to a simulated concurrent writer.
type racingStore struct {
	*storage.MemoryStorage
	lost map[string]bool
}

func (r *racingStore) CreateTag(ctx context.Context, name string) (*models.Tag, error) {
	if !r.lost[name] {
		r.lost[name] = true
		if _, err := r.MemoryStorage.CreateTag(ctx, name); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("tag %q: %w", name, storage.ErrDuplicate)
	}
	return r.MemoryStorage.CreateTag(ctx, name)
}

func TestGetOrCreateTagRetriesLookupAfterDuplicate(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := &racingStore{MemoryStorage: storage.NewMemoryStorage(), lost: map[string]bool{}}
	l := NewLinker(s, NextStepScopeMessage, zap.NewNop())

	tag, err := l.GetOrCreateTag(context.Background(), "contested")
	req.NoError(err)
	req.Equal("contested", tag.Name)

	again, err := s.FindTagByName(context.Background(), "contested")
	req.NoError(err)
	req.Equal(tag.ID, again.ID)
}

func TestNextStepScopes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("message scope copies", func(t *testing.T) {
		req := require.New(t)
		s := storage.NewMemoryStorage()
		l := NewLinker(s, NextStepScopeMessage, zap.NewNop())
		a, b := newMessage(t, s), newMessage(t, s)

		req.NoError(l.LinkText(ctx, a, "", "call bank"))
		req.NoError(l.LinkText(ctx, b, "", "call bank"))

		ma, _ := s.GetMessage(ctx, a)
		mb, _ := s.GetMessage(ctx, b)
		req.Equal([]string{"call bank"}, ma.NextStepNames())
		req.Equal([]string{"call bank"}, mb.NextStepNames())
	})

	t.Run("global scope moves", func(t *testing.T) {
		req := require.New(t)
		s := storage.NewMemoryStorage()
		l := NewLinker(s, NextStepScopeGlobal, zap.NewNop())
		a, b := newMessage(t, s), newMessage(t, s)

		req.NoError(l.LinkText(ctx, a, "", "call bank"))
		req.NoError(l.LinkText(ctx, b, "", "call bank"))

		ma, _ := s.GetMessage(ctx, a)
		mb, _ := s.GetMessage(ctx, b)
		req.Empty(ma.NextSteps)
		req.Equal([]string{"call bank"}, mb.NextStepNames())
	})
}

type failingSteps struct {
	*storage.MemoryStorage
}

func (f failingSteps) CreateNextStep(ctx context.Context, name, messageID string) (*models.NextStep, error) {
	return nil, errors.New("disk full")
}

func TestTagsSurviveNextStepFailure(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	mem := storage.NewMemoryStorage()
	l := NewLinker(failingSteps{mem}, NextStepScopeMessage, zap.NewNop())
	id := newMessage(t, mem)

	err := l.LinkText(ctx, id, "kept", "lost")
	req.ErrorContains(err, "disk full")

	msg, err := mem.GetMessage(ctx, id)
	req.NoError(err)
	req.Equal([]string{"kept"}, msg.TagNames())
	req.Empty(msg.NextSteps)
}

func TestReplace(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	l := NewLinker(s, NextStepScopeMessage, zap.NewNop())
	id := newMessage(t, s)

	req.NoError(l.LinkText(ctx, id, "old, stale", "old step"))
	req.NoError(l.Replace(ctx, id, []string{"new"}, nil))

	msg, err := s.GetMessage(ctx, id)
	req.NoError(err)
	req.Equal([]string{"new"}, msg.TagNames())
	req.Equal([]string{"old step"}, msg.NextStepNames())

	req.NoError(l.Replace(ctx, id, nil, []string{}))
	msg, err = s.GetMessage(ctx, id)
	req.NoError(err)
	req.Empty(msg.NextSteps)

	_, err = s.FindTagByName(ctx, "stale")
	req.NoError(err, "tags are never deleted")
}

func TestParseNextStepScope(t *testing.T) {
	t.Parallel()

	scope, err := ParseNextStepScope("")
	require.NoError(t, err)
	require.Equal(t, NextStepScopeMessage, scope)
	scope, err = ParseNextStepScope("Global")
	require.NoError(t, err)
	require.Equal(t, NextStepScopeGlobal, scope)
	_, err = ParseNextStepScope("everywhere")
	require.Error(t, err)
}
