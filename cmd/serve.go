package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AndrewLee0430/medinotes/internal/audit"
	"github.com/AndrewLee0430/medinotes/internal/cache"
	"github.com/AndrewLee0430/medinotes/internal/config"
	"github.com/AndrewLee0430/medinotes/internal/db"
	"github.com/AndrewLee0430/medinotes/internal/history"
	"github.com/AndrewLee0430/medinotes/internal/knowledge"
	"github.com/AndrewLee0430/medinotes/internal/llm"
	"github.com/AndrewLee0430/medinotes/internal/rag"
	"github.com/AndrewLee0430/medinotes/internal/retrieval"
	"github.com/AndrewLee0430/medinotes/internal/server"
	"github.com/AndrewLee0430/medinotes/internal/sources/fda"
	"github.com/AndrewLee0430/medinotes/internal/sources/pubmed"
	"github.com/AndrewLee0430/medinotes/internal/verify"
)

var (
	serveAddr     string
	serveAllowAll bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the medinotes API server",
	Long:  `Starts the HTTP server exposing research, verify, consultation, feedback and history endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is not set")
		}

		database, err := db.Open(filepath.Join(cfg.DataDir, "medinotes.db"))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		embedder := knowledge.NewOpenAIEmbedder(apiKey, cfg.EmbeddingModel)
		store, err := knowledge.NewStore(embedder)
		if err != nil {
			return fmt.Errorf("creating knowledge store: %w", err)
		}
		if err := store.Load(cmd.Context(), cfg.DataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load knowledge store from %s: %v\n", cfg.DataDir, err)
			fmt.Fprintf(os.Stderr, "Local search will be empty. Run `medinotes index` first.\n")
		}

		var pubmedSearcher retrieval.ArticleSearcher
		if cfg.Retrieval.EnablePubMed {
			pubmedSearcher = pubmed.NewClient(cfg.PubMed.APIKey, cfg.PubMed.Email)
		}

		var (
			labelCache  = cache.New(24 * time.Hour)
			fdaClient   = fda.NewClient(cfg.FDA.APIKey)
			cachedFDA   = fda.NewCachedClient(fdaClient, labelCache)
			fdaSearcher retrieval.LabelSearcher
		)
		if cfg.Retrieval.EnableFDA {
			fdaSearcher = fdaClient
		}

		retriever := retrieval.New(retrieval.Options{
			Local:          store,
			PubMed:         pubmedSearcher,
			FDA:            fdaSearcher,
			LocalThreshold: cfg.Retrieval.LocalThreshold,
		})

		streamProvider := llm.NewOpenAIProvider(apiKey, cfg.Model)
		generator := rag.NewGenerator(streamProvider, cfg.Model)

		verifier := verify.NewVerifier(cachedFDA, streamProvider,
			audit.NewStore(database), history.NewStore(database))

		srv := server.New(server.Config{
			Addr:       cfg.ListenAddr,
			MaxResults: cfg.Retrieval.MaxResults,
			AllowAll:   serveAllowAll,
		}, database, retriever, generator, verifier, store)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "Received %s, shutting down\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveAllowAll, "allow-all-origins", false, "allow all CORS origins (dev mode)")
	rootCmd.AddCommand(serveCmd)
}
