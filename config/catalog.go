package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the optional YAML file describing candidate models and credentials.
//
//	models:
//	  - deepseek/deepseek-r1:free
//	  - qwen/qwen3-235b-a22b:free
//	credentials:
//	  - name: yuka1
//	    label: OpenRouter1
//	    key_env: OPENROUTER_API_KEY_1
type Catalog struct {
	Models      []string         `yaml:"models"`
	Credentials []CredentialSpec `yaml:"credentials"`
}

// LoadCatalog reads and validates a model catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file %s: %w", path, err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	for i, c := range cat.Credentials {
		if c.Name == "" || c.KeyEnv == "" {
			return nil, fmt.Errorf("models file %s: credential %d requires name and key_env", path, i)
		}
	}
	return &cat, nil
}
