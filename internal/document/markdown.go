package document

import (
	"fmt"
	"strings"
)

// renderMarkdown lays out extracted pages under a title heading, one "Page N"
// section per page. Lines broken by the layout are joined back into
// paragraphs; blank lines separate paragraphs.
func renderMarkdown(title string, pages []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)

	for i, page := range pages {
		fmt.Fprintf(&b, "## Page %d\n\n", i+1)

		var paragraph []string
		flush := func() {
			if len(paragraph) > 0 {
				b.WriteString(strings.Join(paragraph, " "))
				b.WriteString("\n\n")
				paragraph = paragraph[:0]
			}
		}
		for _, line := range strings.Split(page, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				flush()
				continue
			}
			paragraph = append(paragraph, line)
		}
		flush()
	}
	return b.String()
}
