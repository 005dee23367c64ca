package port

// Tokenizer turns text into the terms used by local embedders.
type Tokenizer interface {
	Tokenize(text string) []string

	// Features returns the terms plus adjacent-term bigrams.
	Features(text string) []string
}
