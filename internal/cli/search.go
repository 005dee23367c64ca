package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	searchQuery string
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored chunks by similarity",
	Long: `Embed the query and rank every stored chunk by cosine similarity.

Examples:
  localrag search -q "intelligent writing"
  localrag search -q "trinity layout" --limit 10 --json`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var limit *int
	if cmd.Flags().Changed("limit") {
		limit = &searchLimit
	}

	results, err := a.Service.SearchDocuments(cmd.Context(), searchQuery, limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results for: %s\n\n", len(results), searchQuery)
	for i, r := range results {
		fmt.Printf("--- [%d] %s #%d %q (similarity: %.3f) ---\n", i+1, r.FilePath, r.ChunkIndex, r.Title, r.Similarity)
		text := []rune(r.ChunkContent)
		if len(text) > 500 {
			text = append(text[:500], []rune("...")...)
		}
		fmt.Println(string(text))
		fmt.Println()
	}
	return nil
}
