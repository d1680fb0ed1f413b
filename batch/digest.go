package batch

import (
	"slices"
	"strings"
)

const emptyDigest = "No updates to report."

// NothingSent is what Flush returns when the current batch is empty.
const NothingSent = "No updates to send"

// FormatDigest renders updates grouped by category in first-seen order. Within a
// category lines are ordered by priority, most urgent first, keeping arrival order
// for equal priorities. Updates more urgent than priority 3 get a double marker.
func FormatDigest(updates []Update) string {
	if len(updates) == 0 {
		return emptyDigest
	}
	var order []string
	groups := map[string][]Update{}
	for _, u := range updates {
		cat := u.Category
		if cat == "" {
			cat = "General"
		}
		if _, ok := groups[cat]; !ok {
			order = append(order, cat)
		}
		groups[cat] = append(groups[cat], u)
	}

	var b strings.Builder
	b.WriteString("Update Summary:\n\n")
	for _, cat := range order {
		group := groups[cat]
		slices.SortStableFunc(group, func(x, y Update) int { return int(x.Priority) - int(y.Priority) })
		b.WriteString("## " + cat + "\n")
		for _, u := range group {
			marker := "❗"
			if u.Priority < 3 {
				marker = "❗❗"
			}
			b.WriteString(marker + " " + u.Content + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
