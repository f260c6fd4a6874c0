package classifier

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/xaenox/memo-organizer/internal/models"
)

// Classifier assigns a category and the related labels to message content.
type Classifier interface {
	ClassifyText(ctx context.Context, text, supplement string) (models.Classification, error)
	ClassifyImage(ctx context.Context, data []byte, mimeType string) (models.Classification, error)
	ClassifyDocument(ctx context.Context, data []byte, mimeType, fileName string) (models.Classification, error)
}

const (
	FallbackCategory    = "general"
	FallbackSubcategory = "unclassified"
)

// Common categories and the keywords that select them
var keywordCategories = map[string][]string{
	"work":      {"project", "meeting", "deadline", "task", "report"},
	"personal":  {"family", "friend", "home", "birthday", "holiday"},
	"shopping":  {"buy", "purchase", "store", "shop", "price"},
	"education": {"study", "learn", "course", "book", "homework"},
	"travel":    {"trip", "flight", "hotel", "vacation", "booking"},
	"finance":   {"invoice", "payment", "bank", "receipt", "bill"},
}

// SimpleClassifier is an offline keyword classifier. It never fails and
// backs the GPT classifier when the model is unavailable.
type SimpleClassifier struct {
	maxTags int
}

func NewSimpleClassifier(maxTags int) *SimpleClassifier {
	if maxTags <= 0 {
		maxTags = 5
	}
	return &SimpleClassifier{maxTags: maxTags}
}

func (c *SimpleClassifier) ClassifyText(ctx context.Context, text, supplement string) (models.Classification, error) {
	content := text
	if supplement != "" {
		content += " " + supplement
	}

	// Extract hashtags
	var tags []string
	for _, word := range strings.Fields(content) {
		if strings.HasPrefix(word, "#") {
			if tag := strings.ToLower(strings.Trim(word, "#.,!?;:")); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	categories := matchCategories(content)
	tags = lo.Uniq(append(tags, categories...))
	if len(tags) > c.maxTags {
		tags = tags[:c.maxTags]
	}

	result := models.Classification{
		Category:    FallbackCategory,
		Subcategory: FallbackSubcategory,
		ContentType: "note",
		Tags:        tags,
		NextSteps:   []string{},
	}
	if len(categories) > 0 {
		result.Category = categories[0]
		result.Subcategory = FallbackSubcategory
	}
	if strings.Contains(content, "http://") || strings.Contains(content, "https://") {
		result.ContentType = "link"
	}
	return result, nil
}

func (c *SimpleClassifier) ClassifyImage(ctx context.Context, data []byte, mimeType string) (models.Classification, error) {
	return models.Classification{
		Category:    "images",
		Subcategory: "photos",
		ContentType: "image",
		Tags:        []string{},
		NextSteps:   []string{},
	}, nil
}

func (c *SimpleClassifier) ClassifyDocument(ctx context.Context, data []byte, mimeType, fileName string) (models.Classification, error) {
	name := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)

	result := models.Classification{
		Category:    "documents",
		Subcategory: strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), ".")),
		ContentType: "document",
		Tags:        []string{},
		NextSteps:   []string{},
	}
	if categories := matchCategories(name); len(categories) > 0 {
		result.Category = categories[0]
		result.Tags = categories
	}
	return result, nil
}

// matchCategories returns keyword categories found in content, sorted for stable output.
func matchCategories(content string) []string {
	content = strings.ToLower(content)
	var matched []string
	for category, keywords := range keywordCategories {
		for _, keyword := range keywords {
			if strings.Contains(content, keyword) {
				matched = append(matched, category)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched
}
