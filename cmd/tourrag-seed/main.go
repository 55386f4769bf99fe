// Command tourrag-seed loads a corpus export into the viewpoint database.
// The input is JSON Lines: one viewpoint bundle per line, as produced by the
// offline indexing pipeline.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"tourrag/pkg/config"
	"tourrag/pkg/db"
	"tourrag/pkg/model"
	"tourrag/pkg/store"
)

type bundleLine struct {
	Viewpoint  *model.Viewpoint         `json:"viewpoint"`
	Wiki       *model.WikiEntry         `json:"wiki,omitempty"`
	Wikidata   *model.WikidataEntry     `json:"wikidata,omitempty"`
	Assets     []*model.MediaAsset      `json:"assets,omitempty"`
	VisualTags []*model.VisualTagRecord `json:"visual_tags,omitempty"`
	Summary    *model.AISummary         `json:"ai_summary,omitempty"`
}

func main() {
	configPath := flag.String("config", "configs/tourrag.yaml", "Path to config file")
	inputPath := flag.String("file", "", "JSON Lines corpus export to load")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: tourrag-seed -file corpus.jsonl [-config configs/tourrag.yaml]")
		os.Exit(2)
	}

	if err := run(context.Background(), *configPath, *inputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, inputPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.Init(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	st := store.NewSQLiteStore(database)

	f, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	var loaded, failed, lineNo int
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var line bundleLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			slog.Warn("Skipping malformed line", "line", lineNo, "error", err)
			failed++
			continue
		}
		if line.Viewpoint == nil {
			slog.Warn("Skipping line without viewpoint", "line", lineNo)
			failed++
			continue
		}

		err := st.SaveViewpointBundle(ctx, &store.ViewpointBundle{
			Viewpoint:  line.Viewpoint,
			Wiki:       line.Wiki,
			Wikidata:   line.Wikidata,
			Assets:     line.Assets,
			VisualTags: line.VisualTags,
			Summary:    line.Summary,
		})
		if err != nil {
			slog.Warn("Bundle rejected", "line", lineNo, "viewpoint_id", line.Viewpoint.ID, "error", err)
			failed++
			continue
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read failed at line %d: %w", lineNo, err)
	}

	count, err := st.CountViewpoints(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d bundles (%d failed), corpus now holds %d viewpoints\n", loaded, failed, count)
	return nil
}
