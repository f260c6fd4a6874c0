package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaenox/memo-organizer/internal/models"
)

func TestFilterByTagsDropsEmptyGroups(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	org := Organize([]models.Message{
		msg("1", "A", "x", 0, "go"),
		msg("2", "A", "y", 0, "rust"),
		msg("3", "B", "z", 0),
	})

	got := Filter(org, WithAnyTag([]string{" Go ", "python"}))
	req.Equal(1, got.Count())
	req.Len(got["A"]["x"], 1)
	req.NotContains(got["A"], "y")
	req.NotContains(got, "B")
}

func TestFilterByContent(t *testing.T) {
	t.Parallel()

	match := msg("1", "A", "x", 0)
	match.Content = "Quarterly REPORT draft"
	org := Organize([]models.Message{match, msg("2", "A", "x", 0)})

	got := Filter(org, ContentContains("report"))
	require.Equal(t, 1, got.Count())
	require.Equal(t, "1", got["A"]["x"][0].ID)
}

func TestRelatedByTags(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	target := msg("t", "A", "x", 0, "go", "db", "sql")
	candidates := []models.Message{
		target,
		msg("1", "A", "x", 0, "go", "db"),
		msg("2", "B", "y", 0, "go"),
		msg("3", "C", "z", 0, "cooking"),
	}

	two := RelatedByTags(target, candidates, 2)
	req.Equal(1, two.Count())
	req.Equal("1", two["A"]["x"][0].ID)

	one := RelatedByTags(target, candidates, 0)
	req.Equal(2, one.Count())

	untagged := msg("u", "A", "x", 0)
	req.Empty(RelatedByTags(untagged, candidates, 1))
}

func TestCountKinds(t *testing.T) {
	t.Parallel()

	image := msg("2", "A", "x", 0)
	image.Kind = models.KindImage
	audio := msg("3", "A", "x", 0)
	audio.Kind = models.KindAudio

	got := CountKinds([]models.Message{msg("1", "A", "x", 0), image, audio, msg("4", "B", "y", 0)})
	require.Equal(t, []KindCount{
		{Kind: models.KindText, Icon: "message-square", Count: 2},
		{Kind: models.KindImage, Icon: "image", Count: 1},
		{Kind: models.KindAudio, Icon: "music", Count: 1},
	}, got)
}
