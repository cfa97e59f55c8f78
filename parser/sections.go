package parser

import (
	"strings"
	"unicode"
)

// splitSections breaks page text into heading-delimited sections.
func splitSections(text string, pageNum int) []Section {
	var (
		sections []Section
		content  strings.Builder
		heading  string
		level    int
	)
	flush := func() {
		if c := strings.TrimSpace(content.String()); c != "" || heading != "" {
			sections = append(sections, Section{
				Heading:    heading,
				Content:    c,
				Level:      level,
				PageNumber: pageNum,
			})
		}
		content.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if content.Len() > 0 {
				content.WriteString("\n")
			}
			continue
		}
		if isLikelyHeading(trimmed) {
			flush()
			heading = trimmed
			level = headingLevel(trimmed)
			continue
		}
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(trimmed)
	}
	flush()
	return sections
}

// paperHeadings are the unnumbered section titles common in papers.
var paperHeadings = map[string]bool{
	"abstract":         true,
	"introduction":     true,
	"related work":     true,
	"background":       true,
	"method":           true,
	"methods":          true,
	"methodology":      true,
	"experiments":      true,
	"results":          true,
	"discussion":       true,
	"conclusion":       true,
	"conclusions":      true,
	"acknowledgements": true,
	"acknowledgments":  true,
	"references":       true,
	"bibliography":     true,
	"appendix":         true,
}

func isLikelyHeading(line string) bool {
	if len(line) > 100 {
		return false
	}
	lower := strings.ToLower(strings.TrimRight(line, ".:"))
	if paperHeadings[lower] {
		return true
	}
	// Markdown headings from the HTML converter.
	if strings.HasPrefix(line, "#") {
		return true
	}
	// Numbered sections: "1 Introduction", "3.2 Training", "A.1 Proofs".
	first, rest, ok := strings.Cut(line, " ")
	if ok && rest != "" && isSectionNumber(first) && unicode.IsUpper([]rune(rest)[0]) {
		return paperHeadings[strings.ToLower(rest)] || (len(rest) < 60 && !strings.HasSuffix(rest, "."))
	}
	// Short all-caps lines such as "INTRODUCTION".
	return len(line) > 3 && len(line) < 60 && line == strings.ToUpper(line) && strings.ToLower(line) != line
}

// isSectionNumber accepts "3", "3.", "3.2", "3.2.1" and appendix forms
// like "A" or "A.1".
func isSectionNumber(s string) bool {
	dotted := strings.Contains(s, ".")
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return false
	}
	for i, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		if i == 0 && dotted && len(part) == 1 && part[0] >= 'A' && part[0] <= 'Z' {
			continue
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
		if len(part) > 2 {
			return false
		}
	}
	return true
}

func headingLevel(heading string) int {
	heading = strings.TrimSpace(heading)
	if strings.HasPrefix(heading, "#") {
		return len(heading) - len(strings.TrimLeft(heading, "#"))
	}
	first, _, _ := strings.Cut(heading, " ")
	if isSectionNumber(first) {
		return strings.Count(strings.TrimSuffix(first, "."), ".") + 1
	}
	return 1
}

func isReferencesHeading(h string) bool {
	h = strings.ToLower(strings.TrimSpace(strings.TrimLeft(h, "# ")))
	if _, rest, ok := strings.Cut(h, " "); ok && (rest == "references" || rest == "bibliography") {
		return true
	}
	return h == "references" || h == "bibliography"
}
