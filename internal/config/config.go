// Package config loads medinotes configuration from .medinotes.yml
// with MEDINOTES_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config is the top-level medinotes configuration, corresponding to
// .medinotes.yml.
type Config struct {
	Model          string          `yaml:"model" koanf:"model"`
	EmbeddingModel string          `yaml:"embedding_model" koanf:"embedding_model"`
	DataDir        string          `yaml:"data_dir" koanf:"data_dir"`
	ListenAddr     string          `yaml:"listen_addr" koanf:"listen_addr"`
	PubMed         PubMedConfig    `yaml:"pubmed" koanf:"pubmed"`
	FDA            FDAConfig       `yaml:"fda" koanf:"fda"`
	Retrieval      RetrievalConfig `yaml:"retrieval" koanf:"retrieval"`
}

// PubMedConfig holds NCBI E-utilities settings. An API key raises the
// allowed request rate.
type PubMedConfig struct {
	APIKey string `yaml:"api_key" koanf:"api_key"`
	Email  string `yaml:"email" koanf:"email"`
}

// FDAConfig holds openFDA settings.
type FDAConfig struct {
	APIKey string `yaml:"api_key" koanf:"api_key"`
}

// RetrievalConfig controls the hybrid retriever.
type RetrievalConfig struct {
	MaxResults     int     `yaml:"max_results" koanf:"max_results"`
	LocalThreshold float64 `yaml:"local_threshold" koanf:"local_threshold"`
	EnablePubMed   bool    `yaml:"enable_pubmed" koanf:"enable_pubmed"`
	EnableFDA      bool    `yaml:"enable_fda" koanf:"enable_fda"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		DataDir:        "data",
		ListenAddr:     ":8080",
		Retrieval: RetrievalConfig{
			MaxResults:     10,
			LocalThreshold: 0.6,
			EnablePubMed:   true,
			EnableFDA:      true,
		},
	}
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (MEDINOTES_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider("MEDINOTES_", ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper translates MEDINOTES_PUBMED_API_KEY to pubmed.api_key
// and MEDINOTES_LISTEN_ADDR to listen_addr.
func envKeyMapper(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, "MEDINOTES_"))
	for _, section := range []string{"pubmed", "fda", "retrieval"} {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("embedding_model is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.Retrieval.MaxResults < 0 {
		return fmt.Errorf("retrieval.max_results must be non-negative")
	}
	if c.Retrieval.LocalThreshold < 0 || c.Retrieval.LocalThreshold > 1 {
		return fmt.Errorf("retrieval.local_threshold must be in [0,1]")
	}
	return nil
}
