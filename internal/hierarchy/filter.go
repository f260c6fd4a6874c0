package hierarchy

import (
	"strings"

	"github.com/samber/lo"
	"github.com/xaenox/memo-organizer/internal/models"
)

// Predicate selects messages for Filter.
type Predicate func(models.Message) bool

// Filter keeps the messages matching keep and drops groups left empty.
func Filter(org Organized, keep Predicate) Organized {
	out := make(Organized)
	for category, subs := range org {
		for subcategory, msgs := range subs {
			kept := lo.Filter(msgs, func(m models.Message, _ int) bool { return keep(m) })
			if len(kept) == 0 {
				continue
			}
			if out[category] == nil {
				out[category] = make(map[string][]models.Message)
			}
			out[category][subcategory] = kept
		}
	}
	return out
}

// WithAnyTag matches messages carrying at least one of names.
func WithAnyTag(names []string) Predicate {
	wanted := lo.SliceToMap(names, func(n string) (string, struct{}) {
		return strings.ToLower(strings.TrimSpace(n)), struct{}{}
	})
	return func(m models.Message) bool {
		return lo.SomeBy(m.Tags, func(t models.Tag) bool {
			_, ok := wanted[strings.ToLower(t.Name)]
			return ok
		})
	}
}

// ContentContains matches messages whose content contains query, ignoring case.
func ContentContains(query string) Predicate {
	query = strings.ToLower(strings.TrimSpace(query))
	return func(m models.Message) bool {
		return strings.Contains(strings.ToLower(m.Content), query)
	}
}

// RelatedByTags groups the candidates sharing at least minShared tags with
// target. The target itself is never included and a target without tags
// has no related messages.
func RelatedByTags(target models.Message, candidates []models.Message, minShared int) Organized {
	if len(target.Tags) == 0 {
		return Organized{}
	}
	minShared = max(minShared, 1)

	own := target.TagNames()
	related := lo.Filter(candidates, func(m models.Message, _ int) bool {
		if m.ID == target.ID {
			return false
		}
		return len(lo.Intersect(own, m.TagNames())) >= minShared
	})
	return Organize(related)
}

// KindCount is the number of messages of one content kind.
type KindCount struct {
	Kind  models.ContentKind `json:"kind"`
	Icon  string             `json:"icon"`
	Count int                `json:"count"`
}

// CountKinds counts messages per kind, in a fixed kind order, omitting
// kinds that do not occur.
func CountKinds(messages []models.Message) []KindCount {
	counts := lo.CountValuesBy(messages, func(m models.Message) models.ContentKind { return m.Kind })

	var out []KindCount
	for _, kind := range []models.ContentKind{models.KindText, models.KindImage, models.KindDocument, models.KindAudio} {
		if n := counts[kind]; n > 0 {
			out = append(out, KindCount{Kind: kind, Icon: kind.Icon(), Count: n})
		}
	}
	return out
}
