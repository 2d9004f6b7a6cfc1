package config

import (
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .medinotes.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to medinotes! Let's configure your service.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Model selection.
	modelPrompt := promptui.Select{
		Label: "Select answer model",
		Items: []string{"gpt-4o-mini", "gpt-4o", "gpt-4"},
	}
	_, model, err := modelPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("model selection: %w", err)
	}
	cfg.Model = model

	// 2. Data directory.
	dataPrompt := promptui.Prompt{
		Label:   "Data directory (SQLite database + knowledge store)",
		Default: "data",
	}
	dataDir, err := dataPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	cfg.DataDir = dataDir

	// 3. Listen address.
	addrPrompt := promptui.Prompt{
		Label:   "HTTP listen address",
		Default: ":8080",
	}
	addr, err := addrPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("listen addr: %w", err)
	}
	cfg.ListenAddr = addr

	// 4. External sources.
	pubmedPrompt := promptui.Select{
		Label: "Enable PubMed literature retrieval",
		Items: []string{"yes", "no"},
	}
	idx, _, err := pubmedPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("pubmed selection: %w", err)
	}
	cfg.Retrieval.EnablePubMed = idx == 0

	fdaPrompt := promptui.Select{
		Label: "Enable FDA drug label retrieval",
		Items: []string{"yes", "no"},
	}
	idx, _, err = fdaPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("fda selection: %w", err)
	}
	cfg.Retrieval.EnableFDA = idx == 0

	if os.Getenv("OPENAI_API_KEY") == "" {
		fmt.Println("\nNote: Set OPENAI_API_KEY in your environment before running medinotes serve.")
	}

	configPath := ".medinotes.yml"
	if err := cfg.Save(configPath); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", configPath)
	return cfg, nil
}
