package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaenox/memo-organizer/internal/hierarchy"
	"github.com/xaenox/memo-organizer/internal/models"
)

func TestRenderHierarchy(t *testing.T) {
	req := require.New(t)
	created := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	msgs := []models.Message{
		{ID: "1", Kind: models.KindText, Content: "a", Category: "finance", Subcategory: "bills", CreatedAt: created,
			Tags: []models.Tag{{ID: "t1", Name: "rent"}}},
		{ID: "2", Kind: models.KindImage, Content: "b", Category: "finance", Subcategory: "bills", CreatedAt: created.Add(48 * time.Hour)},
		{ID: "3", Kind: models.KindText, Content: "c", Category: "travel", Subcategory: "flights", CreatedAt: created},
	}

	var out bytes.Buffer
	renderHierarchy(&out, hierarchy.BuildFromMessages(msgs))

	text := out.String()
	req.Contains(text, "finance")
	req.Contains(text, "bills")
	req.Contains(text, "image:1 text:1")
	req.Contains(text, "rent")
	req.Contains(text, "2024-03-05")
	req.Contains(text, "2024-03-07")
	req.Contains(text, "travel")
	req.Contains(text, "3")
}

func TestDistribution(t *testing.T) {
	require.Equal(t, "", distribution(nil))
	require.Equal(t, "audio:1 document:4", distribution(map[string]int{"document": 4, "audio": 1}))
	require.Equal(t, "-", day(nil))
}
