package cmd

import (
	"github.com/spf13/cobra"

	"github.com/AndrewLee0430/medinotes/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize medinotes configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure medinotes and generates a .medinotes.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
