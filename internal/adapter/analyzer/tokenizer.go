package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer turns free text into normalized terms for the local hashing
// embedder: lower-cased words with stopwords dropped and, optionally, a light
// English suffix stemmer applied.
type Tokenizer struct {
	stopwords map[string]struct{}
	stem      bool
}

// NewTokenizer creates a new Tokenizer.
func NewTokenizer(useStemming bool) *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
		stem:      useStemming,
	}
}

// Tokenize splits text into terms, in order of appearance.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len([]rune(word)) < 2 {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		if t.stem {
			word = stem(word)
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// Features returns the terms of text plus the bigrams of adjacent terms,
// joined with a space. Bigrams give the bag-of-words embedding some sense of
// phrase order.
func (t *Tokenizer) Features(text string) []string {
	tokens := t.Tokenize(text)
	if len(tokens) < 2 {
		return tokens
	}

	features := make([]string, 0, 2*len(tokens)-1)
	features = append(features, tokens...)
	for i := 1; i < len(tokens); i++ {
		features = append(features, tokens[i-1]+" "+tokens[i])
	}
	return features
}

// splitWords splits text into runs of letters, combining marks, digits and
// underscores. Marks matter for scripts such as Thai.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r) || r == '_')
	})
}

// stem strips common English inflections from ASCII words. It is not a full
// Porter stemmer; it only folds plurals and -ed/-ing forms together.
func stem(word string) string {
	if len(word) < 4 || !isASCII(word) {
		return word
	}

	switch {
	case strings.HasSuffix(word, "sses"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ies") && len(word) > 4:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "ing") && len(word) > 5:
		return undouble(word[:len(word)-3])
	case strings.HasSuffix(word, "ed") && len(word) > 4:
		return undouble(word[:len(word)-2])
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") &&
		!strings.HasSuffix(word, "us") && !strings.HasSuffix(word, "is"):
		return word[:len(word)-1]
	}
	return word
}

// undouble turns "runn" into "run" and "stopp" into "stop".
func undouble(word string) string {
	n := len(word)
	if n < 3 || word[n-1] != word[n-2] {
		return word
	}
	switch word[n-1] {
	case 'l', 's', 'z', 'a', 'e', 'i', 'o', 'u':
		return word
	}
	return word[:n-1]
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// defaultStopwords returns a set of common English stopwords.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
