//go:build ignore

// Package main generates a synthetic news corpus for benchmarking.
// Usage: go run scripts/generate-news-corpus.go -articles 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/newsline/internal/testcorpus"
)

var (
	numArticles = flag.Int("articles", 1000, "Number of articles to generate")
	perArticle  = flag.Int("events", 2, "Events extracted per article")
	outputDir   = flag.String("output", "testdata/bench", "Output directory")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
	topic       = flag.String("topic", "energy mergers", "Topic written into events.json")
)

func main() {
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	opts := testcorpus.DefaultOptions()
	opts.Articles = *numArticles
	opts.Seed = *seed
	articles := testcorpus.Articles(opts)

	if err := writeFile(filepath.Join(*outputDir, "articles.jsonl"), func(f *os.File) error {
		return testcorpus.WriteJSONL(f, articles)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing articles: %v\n", err)
		os.Exit(1)
	}

	events := testcorpus.Events(articles, *perArticle, *seed)
	if err := writeFile(filepath.Join(*outputDir, "events.json"), func(f *os.File) error {
		return testcorpus.WriteEvents(f, *topic, events)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing events: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d articles and %d events in %s\n", len(articles), len(events), *outputDir)
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
