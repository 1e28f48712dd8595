package chat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theravox/internal/domain"
)

func TestDefaultProviders(t *testing.T) {
	t.Parallel()

	providers, err := DefaultProviders()
	require.NoError(t, err)
	require.Len(t, providers, 2)

	groq := providers[0]
	assert.Equal(t, domain.ProviderID("groq"), groq.ID)
	assert.Equal(t, "https://api.groq.com/openai/v1/", groq.BaseURL)
	assert.Equal(t, "llama-3.2-11b-text-preview", groq.Model)
	assert.Equal(t, int64(2000), groq.MaxTokens)
	assert.Equal(t, "Authorization", groq.AuthHeader)
	assert.Contains(t, groq.SystemPrompt, "You are TheraVoice")

	hf := providers[1]
	assert.Equal(t, domain.ProviderID("huggingface"), hf.ID)
	assert.Equal(t, "Qwen/Qwen2.5-72B-Instruct", hf.Model)
	assert.Equal(t, int64(500), hf.MaxTokens)
}

func TestParseCatalogValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "providers: []"},
		{"missing id", "providers:\n  - model: m\n"},
		{"missing model", "providers:\n  - id: a\n"},
		{"duplicate", "providers:\n  - {id: a, model: m}\n  - {id: a, model: n}\n"},
		{"not yaml", "providers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - id: local
    base_url: http://localhost:8080/v1
    model: tiny
    api_key_env: LOCAL_KEY
    auth_header: X-Api-Key
`), 0o644))

	providers, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "http://localhost:8080/v1/", providers[0].BaseURL)
	assert.Equal(t, "X-Api-Key", providers[0].AuthHeader)

	providers[0].ResolveKey(func(k string) string {
		if k == "LOCAL_KEY" {
			return "abc"
		}
		return ""
	})
	assert.Equal(t, "abc", providers[0].APIKey)
}
