// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package format turns a structured answer and the evidence behind it into a
// Markdown report, and optionally renders that report for a terminal.
package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"

	"github.com/pdiddy/terafinder/pkg/types"
)

// maxCitationExcerpt is the number of characters of an excerpt quoted under
// each citation.
const maxCitationExcerpt = 150

const footer = "*Generated by TeraFinder Research Engine*"

// Markdown formats answers as a Markdown report.
type Markdown struct {
	// IncludeMetadata adds the confidence bar, citations, and the
	// collapsible metadata block.
	IncludeMetadata bool
}

// Format renders answer with the given citations. Citations are listed in
// order; an empty list omits the section.
func (m Markdown) Format(answer types.StructuredAnswer, citations []types.EvidenceItem) string {
	var sections []string

	sections = append(sections, "# Research Answer\n")
	if m.IncludeMetadata {
		sections = append(sections, confidenceSection(answer.Metadata.Confidence))
	}
	sections = append(sections, fmt.Sprintf("## Summary\n\n%s\n", strings.TrimSpace(answer.Conclusion)))
	if strings.TrimSpace(answer.Reasoning) != "" {
		sections = append(sections, reasoningSection(answer.Reasoning))
	}
	if m.IncludeMetadata && len(citations) > 0 {
		sections = append(sections, citationsSection(citations))
	}
	if m.IncludeMetadata {
		if meta := metadataSection(answer); meta != "" {
			sections = append(sections, meta)
		}
	}
	sections = append(sections, "---\n\n"+footer+"\n")

	return strings.Join(sections, "\n")
}

// ConfidenceLabel returns the bar and label shown for a confidence score.
func ConfidenceLabel(confidence float64) (bar, label string) {
	switch {
	case confidence > 0.8:
		return "████████░░", "High"
	case confidence > 0.6:
		return "██████░░░░", "Medium"
	case confidence > 0.4:
		return "████░░░░░░", "Low"
	default:
		return "██░░░░░░░░", "Very Low"
	}
}

func confidenceSection(confidence float64) string {
	bar, label := ConfidenceLabel(confidence)
	return fmt.Sprintf("**Confidence**: `%s` %s (%.0f%%)\n\n---\n", bar, label, confidence*100)
}

// reasoningSection numbers multi-paragraph reasoning unless it is already
// written as a list.
func reasoningSection(reasoning string) string {
	var b strings.Builder
	b.WriteString("## Detailed Analysis\n\n")

	text := strings.TrimSpace(reasoning)
	if !strings.Contains(text, "\n") {
		b.WriteString(text + "\n")
		return b.String()
	}

	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	if looksLikeList(paragraphs) || len(paragraphs) == 1 {
		b.WriteString(text + "\n")
		return b.String()
	}
	for i, p := range paragraphs {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, p)
	}
	return b.String()
}

func looksLikeList(paragraphs []string) bool {
	for _, p := range paragraphs {
		for _, prefix := range []string{"1.", "2.", "-", "*", "•"} {
			if strings.HasPrefix(p, prefix) {
				return true
			}
		}
	}
	return false
}

func citationsSection(items []types.EvidenceItem) string {
	var b strings.Builder
	b.WriteString("## Citations\n\n")
	for i, it := range items {
		title := it.Title
		if title == "" {
			title = fmt.Sprintf("Source %d", i+1)
		}
		provider := string(it.Provider)
		if provider == "" {
			provider = "Unknown"
		}

		if it.URL != "" {
			fmt.Fprintf(&b, "%d. **[%s](%s)** *via %s*\n", i+1, title, it.URL, provider)
		} else {
			fmt.Fprintf(&b, "%d. **%s** *via %s*\n", i+1, title, provider)
		}
		if excerpt := strings.TrimSpace(it.Excerpt); excerpt != "" {
			fmt.Fprintf(&b, "   > %s\n", quote(excerpt))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// quote shortens an excerpt to maxCitationExcerpt characters and flattens it
// onto one line so it stays inside the blockquote.
func quote(excerpt string) string {
	excerpt = strings.Join(strings.Fields(excerpt), " ")
	if utf8.RuneCountInString(excerpt) <= maxCitationExcerpt {
		return excerpt
	}
	return string([]rune(excerpt)[:maxCitationExcerpt]) + "..."
}

func metadataSection(answer types.StructuredAnswer) string {
	type entry struct{ key, value string }
	var entries []entry

	md := answer.Metadata
	if md.NumSources > 0 {
		entries = append(entries, entry{"Num Sources", fmt.Sprint(md.NumSources)})
	}
	if md.SynthesisMethod != "" {
		entries = append(entries, entry{"Synthesis Method", md.SynthesisMethod})
	}
	if md.Error != "" {
		entries = append(entries, entry{"Error", md.Error})
	}
	if keys := CitedKeys(answer.Reasoning + "\n" + answer.Conclusion); len(keys) > 0 {
		entries = append(entries, entry{"Cited Facts", strings.Join(keys, ", ")})
	}
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("---\n\n<details>\n<summary>Additional Information</summary>\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- **%s**: `%s`\n", e.key, e.value)
	}
	b.WriteString("\n</details>\n")
	return b.String()
}

// Render renders Markdown for a terminal of the given width. Blank input
// renders as "".
func Render(markdown string, width int) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", nil
	}
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithWordWrap(width),
		glamour.WithStandardStyle("dark"),
	)
	if err != nil {
		return "", fmt.Errorf("creating renderer: %w", err)
	}
	return renderer.Render(markdown)
}
