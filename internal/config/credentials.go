package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// PlaceholderKey is written into the credential template by `stepwise init`.
// A key equal to it (or any placeholder variant) is treated as absent.
const PlaceholderKey = "YOUR_API_KEY"

// Credentials holds API keys loaded from the credential file. The file is
// kept separate from the main config so it can carry tighter permissions.
type Credentials struct {
	GeminiAPIKeys []string `json:"gemini_api_keys"`
}

// LoadCredentials reads the credential file and filters out placeholder
// entries. A missing file yields empty credentials, not an error: the
// engine falls back to the local provider when no cloud keys exist.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{}, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	filtered := make([]string, 0, len(creds.GeminiAPIKeys))
	for _, key := range creds.GeminiAPIKeys {
		if isPlaceholder(key) {
			continue
		}
		filtered = append(filtered, key)
	}
	creds.GeminiAPIKeys = filtered

	return &creds, nil
}

// HasGeminiKeys reports whether any usable cloud keys are configured.
func (c *Credentials) HasGeminiKeys() bool {
	return len(c.GeminiAPIKeys) > 0
}

func isPlaceholder(key string) bool {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return true
	}
	upper := strings.ToUpper(trimmed)
	return upper == PlaceholderKey || strings.Contains(upper, "API_KEY")
}

// WriteCredentialsTemplate creates a credential file with a placeholder
// entry. Existing files are left untouched.
func WriteCredentialsTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	template := Credentials{
		GeminiAPIKeys: []string{PlaceholderKey},
	}
	data, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials template: %w", err)
	}
	return nil
}
