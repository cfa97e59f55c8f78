package papergraph

import (
	"strings"
	"testing"
)

const attentionAbstract = "The dominant sequence transduction models are based on complex recurrent or convolutional neural networks. " +
	"We propose a new simple network architecture, the Transformer, based solely on attention mechanisms. " +
	"Experiments on two machine translation tasks show these models to be superior in quality. " +
	"Our model achieves 28.4 BLEU on the WMT 2014 English-to-German translation task."

func TestExtractSnippet(t *testing.T) {
	tests := []struct {
		name     string
		abstract string
		query    string
		contains string
		empty    bool
	}{
		{"best sentence", attentionAbstract, "attention mechanisms", "attention mechanisms", false},
		{"neighbour added", attentionAbstract, "transformer architecture translation", "Transformer", false},
		{"no overlap", attentionAbstract, "gaussian splatting radiance", "", true},
		{"empty abstract", "", "attention", "", true},
		{"stop words only", attentionAbstract, "this that with", "", true},
		{"decimal kept", attentionAbstract, "BLEU score", "28.4 BLEU", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractSnippet(tt.abstract, significantWords(tt.query))
			if tt.empty {
				if got != "" {
					t.Errorf("expected empty snippet, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.contains) {
				t.Errorf("snippet %q does not contain %q", got, tt.contains)
			}
			if len(got) > snippetMaxLen+3 {
				t.Errorf("snippet too long: %d", len(got))
			}
		})
	}
}

func TestExtractSnippetLongSentence(t *testing.T) {
	long := strings.Repeat("diffusion models generate images ", 20) + "."
	got := extractSnippet(long, significantWords("diffusion"))
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncated snippet, got %q", got)
	}
	if len(got) > snippetMaxLen+3 {
		t.Errorf("snippet too long: %d", len(got))
	}
}

func TestSignificantWords(t *testing.T) {
	words := significantWords("We propose LoRA, a low-rank adaptation of large language models.")

	for _, w := range []string{"lora", "rank", "adaptation", "large", "language", "models"} {
		if !words[w] {
			t.Errorf("expected %q in significant words", w)
		}
	}
	for _, w := range []string{"we", "propose", "low", "of", "a"} {
		if words[w] {
			t.Errorf("%q should be excluded", w)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Scores improve by 2.5 points. Does it scale? Yes!")
	want := []string{"Scores improve by 2.5 points.", "Does it scale?", "Yes!"}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
