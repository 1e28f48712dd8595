package chat

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"theravox/internal/domain"
)

//go:embed providers.yaml
var defaultCatalog []byte

// Provider describes one OpenAI-compatible chat endpoint. Adding a backend
// is a catalog entry, not code.
type Provider struct {
	ID           domain.ProviderID `yaml:"id"`
	Name         string            `yaml:"name"`
	BaseURL      string            `yaml:"base_url"`
	Model        string            `yaml:"model"`
	MaxTokens    int64             `yaml:"max_tokens"`
	APIKeyEnv    string            `yaml:"api_key_env"`
	APIKey       string            `yaml:"api_key"`
	AuthHeader   string            `yaml:"auth_header"`
	SystemPrompt string            `yaml:"system_prompt"`
}

type catalogFile struct {
	Providers []Provider `yaml:"providers"`
}

// DefaultProviders returns the built-in groq and huggingface entries.
func DefaultProviders() ([]Provider, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a provider catalog from path. An empty path yields the
// built-in catalog.
func LoadCatalog(path string) ([]Provider, error) {
	if path == "" {
		return DefaultProviders()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) ([]Provider, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("catalog has no providers")
	}

	seen := make(map[domain.ProviderID]bool, len(file.Providers))
	for i := range file.Providers {
		p := &file.Providers[i]
		if p.ID == "" {
			return nil, fmt.Errorf("provider #%d has no id", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate provider %q", p.ID)
		}
		seen[p.ID] = true

		if p.Model == "" {
			return nil, fmt.Errorf("provider %q has no model", p.ID)
		}
		if p.AuthHeader == "" {
			p.AuthHeader = "Authorization"
		}
		if p.BaseURL != "" && !strings.HasSuffix(p.BaseURL, "/") {
			p.BaseURL += "/"
		}
	}
	return file.Providers, nil
}

// ResolveKey fills APIKey from the environment when it is not set inline.
func (p *Provider) ResolveKey(getenv func(string) string) {
	if p.APIKey == "" && p.APIKeyEnv != "" {
		p.APIKey = getenv(p.APIKeyEnv)
	}
}

func (p Provider) endpoint() (*url.URL, error) {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("unsupported endpoint %q", p.BaseURL)
	}
	return u, nil
}
