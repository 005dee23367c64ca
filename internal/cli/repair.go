package cli

import (
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var repairJSON bool

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Reconcile the vector index and document cache with the database",
	Long: `Open the data directory, which always runs a repair pass, and report
what it changed. A second pass confirms the stores agree.`,
	Args: cobra.NoArgs,
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(repairCmd)
	repairCmd.Flags().BoolVar(&repairJSON, "json", false, "output as JSON")
}

// repairProgress shows a bar while chunks are re-embedded at startup.
func repairProgress() func(done, total int) {
	var (
		bar *progressbar.ProgressBar
		mu  sync.Mutex
	)
	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = newBar(total, "[cyan]Re-embedding[reset]")
		}
		bar.Set(done)
	}
}

func runRepair(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), repairProgress())
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.StartupRepair
	check, err := a.Service.Repair.Run(cmd.Context(), nil)
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}

	if repairJSON {
		return printJSON(report)
	}

	fmt.Printf("Repair complete:\n")
	fmt.Printf("  Documents:             %d\n", report.Documents)
	fmt.Printf("  Chunks:                %d\n", report.Chunks)
	fmt.Printf("  Orphan rows pruned:    %d\n", report.OrphansPruned)
	fmt.Printf("  Stale vectors removed: %d\n", report.StaleRemoved)
	fmt.Printf("  Chunks re-embedded:    %d\n", report.Reembedded)
	fmt.Printf("  Restored from store:   %d\n", report.RestoredFromStore)
	fmt.Printf("  Embedding rows written: %d\n", report.EmbeddingsWritten)
	if check.Changed() {
		fmt.Println("\nWarning: a second pass still found differences")
	}
	return nil
}
