package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/xaenox/memo-organizer/internal/hierarchy"
)

func newHierarchyCommand(a *app) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "hierarchy",
		Short: "Print the category hierarchy of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage(a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			msgs, err := store.ListMessages(cmd.Context(), owner)
			if err != nil {
				return err
			}
			renderHierarchy(cmd.OutOrStdout(), hierarchy.BuildFromMessages(msgs))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id; empty lists every owner")
	return cmd
}

func renderHierarchy(w io.Writer, nodes []hierarchy.Node) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Category", "Subcategory", "Messages", "Kinds", "Tags", "First", "Last"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	row := func(category, subcategory string, n hierarchy.Node) []string {
		return []string{
			category,
			subcategory,
			strconv.Itoa(n.Value),
			distribution(n.MimeDistribution),
			strings.Join(n.Tags, ", "),
			day(n.FirstMessageDate),
			day(n.LastMessageDate),
		}
	}
	for _, n := range nodes {
		table.Append(row(n.Name, "", n))
		for _, child := range n.Children {
			table.Append(row("", child.Name, child))
		}
	}
	if len(nodes) > 0 {
		table.SetFooter([]string{"", "Total", strconv.Itoa(nodes[0].TotalMessages), "", "", "", ""})
	}
	table.Render()
}

// distribution renders counts as "image:2 text:1", keys sorted.
func distribution(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+strconv.Itoa(counts[k]))
	}
	return strings.Join(parts, " ")
}

func day(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateOnly)
}
