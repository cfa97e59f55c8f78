package papergraph

import (
	"strings"
	"unicode"
)

// snippetMaxLen is the approximate maximum character length for a search
// snippet.
const snippetMaxLen = 300

// extractSnippet returns the one or two abstract sentences that share the
// most words with queryWords, or "" when no sentence shares any.
func extractSnippet(abstract string, queryWords map[string]bool) string {
	if len(queryWords) == 0 || abstract == "" {
		return ""
	}
	sentences := splitSentences(abstract)
	if len(sentences) == 0 {
		return ""
	}

	scores := make([]int, len(sentences))
	best := 0
	for i, s := range sentences {
		for w := range significantWords(s) {
			if queryWords[w] {
				scores[i]++
			}
		}
		if scores[i] > scores[best] {
			best = i
		}
	}
	if scores[best] == 0 {
		return ""
	}

	snippet := sentences[best]
	if len(snippet) >= snippetMaxLen {
		return truncateAtWord(snippet, snippetMaxLen)
	}

	// Add the better-scoring neighbour when it still fits.
	next := -1
	for _, adj := range []int{best + 1, best - 1} {
		if adj >= 0 && adj < len(sentences) && scores[adj] > 0 && (next < 0 || scores[adj] > scores[next]) {
			next = adj
		}
	}
	if next >= 0 {
		combined := snippet + " " + sentences[next]
		if next < best {
			combined = sentences[next] + " " + snippet
		}
		if len(combined) <= snippetMaxLen {
			snippet = combined
		}
	}
	return snippet
}

func truncateAtWord(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndexByte(s[:max], ' ')
	if cut <= 0 {
		cut = max
	}
	return strings.TrimRight(s[:cut], " ,;:") + "..."
}

// significantWords returns the lowercased words of at least four
// characters that are not stop words.
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) >= 4 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

// splitSentences splits at '.', '?' or '!' followed by whitespace or the
// end of the text. Decimal points and "e.g." style abbreviations without a
// following space stay inside their sentence.
func splitSentences(text string) []string {
	var (
		sentences []string
		cur       strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
			flush()
		}
	}
	flush()
	return sentences
}

var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "which": true, "there": true,
	"these": true, "those": true, "then": true, "than": true,
	"them": true, "what": true, "when": true, "where": true,
	"more": true, "some": true, "such": true, "paper": true,
	"only": true, "also": true, "very": true, "into": true,
	"over": true, "each": true, "does": true, "most": true,
	"other": true, "being": true, "both": true, "between": true,
	"propose": true, "proposed": true, "show": true, "using": true,
	"based": true, "results": true, "approach": true, "method": true,
}
