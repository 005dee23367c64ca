package port

// Chunker splits document content into ordered, non-empty chunk texts.
type Chunker interface {
	Split(content string) []string
}
