package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AndrewLee0430/medinotes/internal/config"
	"github.com/AndrewLee0430/medinotes/internal/ingest"
	"github.com/AndrewLee0430/medinotes/internal/knowledge"
	"github.com/AndrewLee0430/medinotes/internal/progress"
	"github.com/AndrewLee0430/medinotes/internal/sources/fda"
	"github.com/AndrewLee0430/medinotes/internal/sources/pubmed"
)

var (
	indexTopics []string
	indexDrugs  []string
	indexGlobs  []string
	indexFresh  bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the local medical knowledge base",
	Long: `Fetches the curated PubMed topic list and FDA drug labels, plus local
drug data files matched by globs, embeds them and loads them into the
knowledge store under the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is not set")
		}

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		embedder := knowledge.NewOpenAIEmbedder(apiKey, cfg.EmbeddingModel)
		store, err := knowledge.NewStore(embedder)
		if err != nil {
			return fmt.Errorf("creating knowledge store: %w", err)
		}

		// Incremental by default: re-adding a document with the
		// same source ID overwrites it.
		if !indexFresh {
			if err := store.Load(cmd.Context(), cfg.DataDir); err != nil && verbose {
				fmt.Fprintf(os.Stderr, "starting from an empty store: %v\n", err)
			}
		}

		ix := ingest.NewIndexer(store,
			pubmed.NewClient(cfg.PubMed.APIKey, cfg.PubMed.Email),
			fda.NewClient(cfg.FDA.APIKey),
			progress.NewReporter(),
		)

		stats, err := ix.Run(cmd.Context(), ingest.Options{
			Topics:     indexTopics,
			Drugs:      indexDrugs,
			LocalGlobs: indexGlobs,
			PersistDir: cfg.DataDir,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Indexed %d documents (%d PubMed, %d FDA, %d local), %d sources failed\n",
			stats.Total(), stats.PubMedDocs, stats.FDADocs, stats.LocalDocs, stats.Failed)
		fmt.Printf("Knowledge base now holds %d documents\n", store.Count())
		return nil
	},
}

func init() {
	indexCmd.Flags().StringSliceVar(&indexTopics, "topic", nil, "PubMed topics (default: curated list)")
	indexCmd.Flags().StringSliceVar(&indexDrugs, "drug", nil, "FDA drugs (default: curated list)")
	indexCmd.Flags().StringSliceVar(&indexGlobs, "local", nil, "globs for local drug JSON files")
	indexCmd.Flags().BoolVar(&indexFresh, "fresh", false, "start from an empty store instead of loading the existing one")
	rootCmd.AddCommand(indexCmd)
}
