package merge

import (
	"fmt"
	"strings"
)

// Markdown renders the document for reading. Answers are collected into an
// answer key at the end.
func (d Document) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Title)

	var meta []string
	if d.Subject != "" {
		meta = append(meta, "Subject: "+d.Subject)
	}
	if d.Grade > 0 {
		meta = append(meta, fmt.Sprintf("Grade: %d", d.Grade))
	}
	meta = append(meta, fmt.Sprintf("Items: %d", d.Summary.TotalItems))
	if d.Summary.TotalPoints > 0 {
		meta = append(meta, "Points: "+formatPoints(d.Summary.TotalPoints))
	}
	b.WriteString(strings.Join(meta, " | "))
	b.WriteString("\n\n")

	for _, s := range d.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		if s.Instructions != "" {
			fmt.Fprintf(&b, "_%s_\n\n", s.Instructions)
		}
		for _, item := range s.Items {
			fmt.Fprintf(&b, "**%d.** %s", item.Number, item.Prompt)
			if item.Points > 0 {
				fmt.Fprintf(&b, " (%s pts)", formatPoints(item.Points))
			}
			b.WriteString("\n\n")
			if item.Image != "" {
				fmt.Fprintf(&b, "![figure %d](%s)\n\n", item.Number, item.Image)
			}
			for i, choice := range item.Choices {
				fmt.Fprintf(&b, "- %c) %s\n", 'A'+rune(i%26), choice)
			}
			if len(item.Choices) > 0 {
				b.WriteString("\n")
			}
		}
	}

	var key strings.Builder
	for _, item := range d.Items() {
		if item.Answer == "" {
			continue
		}
		fmt.Fprintf(&key, "%d. %s", item.Number, item.Answer)
		if item.Explanation != "" {
			fmt.Fprintf(&key, " - %s", item.Explanation)
		}
		key.WriteString("\n")
	}
	if key.Len() > 0 {
		b.WriteString("## Answer key\n\n")
		b.WriteString(key.String())
	}
	return b.String()
}

func formatPoints(p float64) string {
	if p == float64(int64(p)) {
		return fmt.Sprintf("%d", int64(p))
	}
	return fmt.Sprintf("%.2f", p)
}
