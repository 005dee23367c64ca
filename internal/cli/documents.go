package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"localrag/internal/domain"
	"localrag/internal/usecase"
)

var (
	addFile    string
	addContent string
	addTitle   string
	addType    string

	outputJSON bool
)

var addCmd = &cobra.Command{
	Use:   "add <file_path>",
	Short: "Add or replace a document",
	Long: `Add a document under the given key, replacing any previous revision.
The content is read from --file, from --content, or from stdin.

Examples:
  localrag add guide.md --file ./docs/guide.md
  localrag add note --content "remember the milk" --title "Note"
  cat README.md | localrag add readme`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <file_path>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var getCmd = &cobra.Command{
	Use:   "get <file_path>",
	Short: "Show one document summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(addCmd, deleteCmd, getCmd, infoCmd)

	addCmd.Flags().StringVarP(&addFile, "file", "f", "", "read content from this file")
	addCmd.Flags().StringVarP(&addContent, "content", "c", "", "document content")
	addCmd.Flags().StringVarP(&addTitle, "title", "t", "", "title (default is the last path element)")
	addCmd.Flags().StringVar(&addType, "type", "", "document type (default \"text\")")
	addCmd.MarkFlagsMutuallyExclusive("file", "content")

	getCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	infoCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
}

func runAdd(cmd *cobra.Command, args []string) error {
	content, err := readContent(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Service.AddDocument(cmd.Context(), usecase.AddRequest{
		FilePath: args[0],
		Content:  content,
		Title:    addTitle,
		Type:     addType,
	})
	if err != nil && !errors.Is(err, domain.ErrDurability) {
		return fmt.Errorf("add failed: %w", err)
	}

	verb := "Added"
	if res.Replaced {
		verb = "Replaced"
	}
	fmt.Printf("%s %s (id %d, %d chunks)\n", verb, args[0], res.DocumentID, res.Chunks)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	return nil
}

func readContent(cmd *cobra.Command) (string, error) {
	switch {
	case addFile != "":
		data, err := os.ReadFile(addFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", addFile, err)
		}
		return string(data), nil
	case cmd.Flags().Changed("content"):
		return addContent, nil
	default:
		var sb strings.Builder
		if _, err := sb.ReadFrom(cmd.InOrStdin()); err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return sb.String(), nil
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.Service.DeleteDocument(cmd.Context(), args[0])
	if err != nil && !errors.Is(err, domain.ErrDurability) {
		return fmt.Errorf("delete failed: %w", err)
	}
	if !removed {
		return fmt.Errorf("%w: document %q", domain.ErrNotFound, args[0])
	}

	fmt.Printf("Deleted %s\n", args[0])
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.Service.GetDocument(args[0])
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(doc)
	}
	printDocument(args[0], doc)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	info := a.Service.GetDocumentInfo()
	if outputJSON {
		return printJSON(info)
	}

	model, dim := a.Service.EmbeddingModel()
	fmt.Printf("Data directory:  %s\n", cfg.DataDirectory)
	fmt.Printf("Embedding model: %s (%d dimensions)\n", model, dim)
	fmt.Printf("Documents:       %d\n", info.TotalDocuments)
	fmt.Printf("Chunks:          %d\n", info.TotalChunks)

	paths := make([]string, 0, len(info.Documents))
	for p := range info.Documents {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) > 0 {
		fmt.Println()
	}
	for _, p := range paths {
		printDocument(p, info.Documents[p])
	}
	return nil
}

func printDocument(path string, doc domain.DocumentSummary) {
	fmt.Printf("%s\n  id: %d  title: %s  type: %s  chunks: %d  updated: %s\n",
		path, doc.ID, doc.Title, doc.Type, doc.ChunkCount, doc.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}
