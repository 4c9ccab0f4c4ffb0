package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxPassageChars truncates passage text in the markdown rendering only;
// the structured output always carries the full text.
const maxPassageChars = 1200

// FormatRetrieveOutput renders a retrieve result as markdown.
func FormatRetrieveOutput(out RetrieveOutput) string {
	var sb strings.Builder

	if len(out.Results) == 0 {
		sb.WriteString(fmt.Sprintf("No passages found for \"%s\"", out.Query.Original))
		formatWarnings(&sb, out.Warnings)
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("## Passages for \"%s\"\n\n", out.Query.Original))
	if out.Query.Rewritten != "" && out.Query.Rewritten != out.Query.Original {
		sb.WriteString(fmt.Sprintf("Rewritten as: \"%s\"\n\n", out.Query.Rewritten))
	}
	sb.WriteString(fmt.Sprintf("Found %d passage", len(out.Results)))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	if out.Degraded {
		sb.WriteString(" (degraded)")
	}
	sb.WriteString("\n\n")

	for i, p := range out.Results {
		formatPassage(&sb, i+1, p)
	}
	formatWarnings(&sb, out.Warnings)
	return sb.String()
}

func formatPassage(sb *strings.Builder, n int, p PassageOutput) {
	sb.WriteString(fmt.Sprintf("### %d. %s", n, p.ParentChunkID))
	if p.DocumentID != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", p.DocumentID))
	}
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("fused: %.4f", p.FusedScore))
	if p.RerankScore != nil {
		sb.WriteString(fmt.Sprintf(" | rerank: %.4f", *p.RerankScore))
	}
	if p.FromCache {
		sb.WriteString(" | cached")
	}
	sb.WriteString(fmt.Sprintf(" | via %s\n\n", p.RepresentativeChildID))

	text := p.Text
	if utf8.RuneCountInString(text) > maxPassageChars {
		text = string([]rune(text)[:maxPassageChars]) + "..."
	}
	sb.WriteString(text)
	sb.WriteString("\n\n")
}

func formatWarnings(sb *strings.Builder, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	sb.WriteString("\n**Warnings:**\n")
	for _, w := range warnings {
		sb.WriteString("- " + w + "\n")
	}
}
