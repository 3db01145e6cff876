// Package provider builds the optional chat model behind generated answers.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark, Google
// Gemini. The "none" backend disables generation; answers are then
// extractive.
package provider

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Backend enumerates the supported chat model providers.
type Backend string

const (
	// BackendNone disables the chat model.
	BackendNone Backend = "none"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama configures the Ollama backend.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI configures the OpenAI backend.
type ProviderOpenAI struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string
}

// ProviderAzureOpenAI configures the Azure OpenAI backend.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk configures the Volcengine Ark backend.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
	Region  string
}

// ProviderGemini configures the Gemini backend.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning holds generation settings shared by every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per answer.
	MaxTokens int
	// Temperature controls answer randomness (0.0–1.0).
	Temperature float32
}

// Config holds the provider configuration resolved from the environment or
// supplied by the caller. Only the block for Backend is read.
type Config struct {
	Backend     Backend
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// Enabled reports whether a chat model backend is selected.
func (c *Config) Enabled() bool {
	return c.Backend != "" && c.Backend != BackendNone
}

// Validate checks that the selected backend has the settings it needs. Errors
// name the environment variable to set.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendNone:
		return nil
	case BackendOllama:
		return require(map[string]string{"OLLAMA_MODEL": c.Ollama.Model})
	case BackendOpenAI:
		return require(map[string]string{
			"OPENAI_API_KEY": c.OpenAI.APIKey,
			"OPENAI_MODEL":   c.OpenAI.Model,
		})
	case BackendAzure:
		return require(map[string]string{
			"AZURE_OPENAI_API_KEY":    c.AzureOpenAI.APIKey,
			"AZURE_OPENAI_ENDPOINT":   c.AzureOpenAI.Endpoint,
			"AZURE_OPENAI_DEPLOYMENT": c.AzureOpenAI.Deployment,
		})
	case BackendArk:
		return require(map[string]string{
			"ARK_API_KEY": c.Ark.APIKey,
			"ARK_MODEL":   c.Ark.Model,
		})
	case BackendGemini:
		return require(map[string]string{
			"GOOGLE_API_KEY": c.Gemini.APIKey,
			"GEMINI_MODEL":   c.Gemini.Model,
		})
	default:
		return fmt.Errorf("provider: unknown backend %q: valid values are none, ollama, openai, azure, ark, gemini", c.Backend)
	}
}

// require returns an error naming every empty setting, in sorted order.
func require(settings map[string]string) error {
	var missing []string
	for _, name := range slices.Sorted(maps.Keys(settings)) {
		if strings.TrimSpace(settings[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
