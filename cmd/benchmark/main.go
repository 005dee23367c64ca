package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"localrag/config"
	"localrag/internal/app"
	"localrag/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "", "config file (default is ./localrag.yaml)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	runs := flag.Int("runs", 20, "Timed search repetitions")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -data-dir ./data/local_rag -q \"query\"")
		fmt.Println("\nReports:")
		fmt.Println("  1. Store contents (documents, chunks, embedding model)")
		fmt.Println("  2. Similarity of the top results")
		fmt.Println("  3. Search latency with the result cache disabled")
		os.Exit(1)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDirectory = *dataDir
	}
	cfg.Search.CacheSize = 0

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, app.Options{Logger: logging.New("benchmark", logging.LevelWarn)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening data directory: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	fmt.Println("SEMANTIC SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))

	info := a.Service.GetDocumentInfo()
	model, dim := a.Service.EmbeddingModel()
	fmt.Printf("Documents: %d\n", info.TotalDocuments)
	fmt.Printf("Chunks:    %d\n", info.TotalChunks)
	fmt.Printf("Model:     %s (%s)\n", model, cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d\n", dim)
	fmt.Println()

	if info.TotalChunks == 0 {
		fmt.Fprintln(os.Stderr, "No chunks stored - add documents with 'localrag add' or 'localrag ingest'")
		os.Exit(1)
	}

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	results, err := a.Service.SearchDocuments(ctx, *query, topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}

	fmt.Printf("Top %d matches:\n\n", len(results))

	totalScore := 0.0
	for i, r := range results {
		preview := []rune(r.ChunkContent)
		if len(preview) > 150 {
			preview = append(preview[:150], []rune("...")...)
		}

		totalScore += r.Similarity

		rating := "LOW"
		if r.Similarity > 0.7 {
			rating = "HIGH"
		} else if r.Similarity > 0.5 {
			rating = "GOOD"
		} else if r.Similarity > 0.3 {
			rating = "OK"
		}

		fmt.Printf("%d. [%s %.3f] %s #%d\n", i+1, rating, r.Similarity, r.FilePath, r.ChunkIndex)
		fmt.Printf("   %s\n\n", strings.ReplaceAll(string(preview), "\n", " "))
	}

	latencies := make([]time.Duration, 0, *runs)
	for i := 0; i < *runs; i++ {
		start := time.Now()
		if _, err := a.Service.SearchDocuments(ctx, *query, topK); err != nil {
			fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
			os.Exit(1)
		}
		latencies = append(latencies, time.Since(start))
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Similarity)
	if len(latencies) > 0 {
		fmt.Printf("LATENCY (%d runs):\n", len(latencies))
		fmt.Printf("  p50: %s\n", latencies[len(latencies)/2])
		fmt.Printf("  max: %s\n", latencies[len(latencies)-1])
	}

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - results share most of the query's terms")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - consider a neural embedding provider")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.LoadFromDir(wd)
}
