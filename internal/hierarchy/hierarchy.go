// Package hierarchy folds classified messages into the category tree and
// the grouped views served to the UI. Everything here is a pure function of
// its input; nothing is cached and inputs are never modified.
package hierarchy

import (
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/xaenox/memo-organizer/internal/models"
)

type Level string

const (
	LevelCategory    Level = "category"
	LevelSubcategory Level = "subcategory"
)

// Node is one level of the category hierarchy.
type Node struct {
	Name                string         `json:"name"`
	Level               Level          `json:"level"`
	Value               int            `json:"value"`
	TotalMessages       int            `json:"totalMessages"`
	MimeDistribution    map[string]int `json:"mimeDistribution"`
	PurposeDistribution map[string]int `json:"purposeDistribution"`
	Tags                []string       `json:"tags"`
	NextSteps           []string       `json:"nextSteps"`
	FirstMessageDate    *time.Time     `json:"firstMessageDate"`
	LastMessageDate     *time.Time     `json:"lastMessageDate"`
	Children            []Node         `json:"children"`
}

// Organized groups messages by category, then subcategory.
type Organized map[string]map[string][]models.Message

// Count returns the number of messages held in o.
func (o Organized) Count() int {
	total := 0
	for _, subs := range o {
		for _, msgs := range subs {
			total += len(msgs)
		}
	}
	return total
}

// Organize groups messages that have content. Missing labels fall into
// the uncategorized and unsubcategorized buckets.
func Organize(messages []models.Message) Organized {
	out := make(Organized)
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		category := lo.Ternary(msg.Category == "", models.CategoryUncategorized, msg.Category)
		subcategory := lo.Ternary(msg.Subcategory == "", models.SubcategoryUnsubcategorized, msg.Subcategory)

		if out[category] == nil {
			out[category] = make(map[string][]models.Message)
		}
		out[category][subcategory] = append(out[category][subcategory], msg)
	}
	return out
}

// Build returns one node per category, ordered by name, each with its
// subcategories as children. TotalMessages is the size of the whole input
// on every node.
func Build(org Organized) []Node {
	total := org.Count()

	nodes := make([]Node, 0, len(org))
	for _, category := range sortedKeys(org) {
		subs := org[category]

		children := make([]Node, 0, len(subs))
		var all []models.Message
		for _, subcategory := range sortedKeys(subs) {
			msgs := subs[subcategory]
			all = append(all, msgs...)
			children = append(children, node(subcategory, LevelSubcategory, msgs, total, []Node{}))
		}
		nodes = append(nodes, node(category, LevelCategory, all, total, children))
	}
	return nodes
}

// BuildFromMessages is Build(Organize(messages)).
func BuildFromMessages(messages []models.Message) []Node {
	return Build(Organize(messages))
}

func node(name string, level Level, msgs []models.Message, total int, children []Node) Node {
	n := Node{
		Name:          name,
		Level:         level,
		Value:         len(msgs),
		TotalMessages: total,
		MimeDistribution: lo.CountValuesBy(msgs, func(m models.Message) string {
			return string(m.Kind)
		}),
		PurposeDistribution: lo.CountValuesBy(msgs, func(m models.Message) string {
			return m.Purpose
		}),
		Tags:      union(msgs, (*models.Message).TagNames),
		NextSteps: union(msgs, (*models.Message).NextStepNames),
		Children:  children,
	}
	if len(msgs) > 0 {
		first := lo.MinBy(msgs, func(a, b models.Message) bool { return a.CreatedAt.Before(b.CreatedAt) }).CreatedAt
		last := lo.MaxBy(msgs, func(a, b models.Message) bool { return a.CreatedAt.After(b.CreatedAt) }).CreatedAt
		n.FirstMessageDate = &first
		n.LastMessageDate = &last
	}
	return n
}

func union(msgs []models.Message, names func(*models.Message) []string) []string {
	out := lo.Uniq(lo.FlatMap(msgs, func(m models.Message, _ int) []string {
		return names(&m)
	}))
	slices.Sort(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
