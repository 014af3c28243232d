package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SeedAccount is one credential pair from the accounts seed file.
type SeedAccount struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// seedYAML represents the structure of the accounts seed file.
type seedYAML struct {
	Accounts []SeedAccount `yaml:"accounts"`
}

// LoadAccountsSeed loads credential pairs from a YAML seed file. Seeded
// accounts are merged into the state store at bootstrap; existing accounts
// are never clobbered.
func LoadAccountsSeed(filePath string) ([]SeedAccount, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("accounts seed file not found: %s", absPath)
	}

	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts seed file: %w", err)
	}

	var seed seedYAML
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse accounts seed file: %w", err)
	}

	out := make([]SeedAccount, 0, len(seed.Accounts))
	for i, a := range seed.Accounts {
		if a.Email == "" || a.Password == "" {
			return nil, fmt.Errorf("accounts seed entry %d missing email or password", i)
		}
		out = append(out, a)
	}
	return out, nil
}
