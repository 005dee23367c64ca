package port

import "localrag/internal/domain"

// DocumentCache maps file paths to document summaries for listing without
// touching the metadata store.
type DocumentCache interface {
	Put(filePath string, summary domain.DocumentSummary)
	Remove(filePath string)
	Get(filePath string) (domain.DocumentSummary, bool)
	All() map[string]domain.DocumentSummary
	Len() int

	// Replace swaps the whole content, used when rebuilding from the store.
	Replace(records []domain.DocumentRecord)

	Save() error
	Load() error
}
