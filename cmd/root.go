package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "medinotes",
	Short: "Medical information aggregation service for clinicians",
	Long: `MediNotes answers clinical questions with cited evidence from a local
knowledge base, PubMed literature, and FDA drug labels, and checks
drug combinations for interactions. Queries are screened for
protected health information before any external call.`,
}

func Execute() error {
	// .env is optional; environment beats file either way.
	_ = godotenv.Load()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".medinotes.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
