// Copyright 2025 The Wastepro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llms holds the LLM provider adapters and the bus-facing prompt
// service. Providers share one interface: a message list in, the complete
// response text out. Streaming providers accumulate internally; JSON-mode
// output is passed through unvalidated, callers parse it themselves.
package llms

import (
	"context"
	"fmt"

	"github.com/wastepro/wastepro/pkg/config"
	"github.com/wastepro/wastepro/pkg/registry"
)

// Message roles as carried in prompt parcels.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the provider for structured JSON output. Schema is a
// plain JSON-schema map, usually produced by SchemaFor.
type ResponseFormat struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

// Provider is one configured model endpoint.
type Provider interface {
	// GenerateResponse runs the chat completion and returns the full
	// response text. A non-nil format requests structured JSON output.
	GenerateResponse(ctx context.Context, messages []Message, format *ResponseFormat) (string, error)
	// Model returns the configured model identifier, for logging.
	Model() string
}

// Usage is the token accounting a provider reports (zero when the endpoint
// sends none).
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderFactory builds a provider from its config table.
type ProviderFactory func(cfg config.LLMProviderConfig) (Provider, error)

var providerFactories = registry.NewBaseRegistry[ProviderFactory]()

func init() {
	for name, factory := range map[string]ProviderFactory{
		"chatgpt": func(cfg config.LLMProviderConfig) (Provider, error) {
			return NewOpenAIProvider(cfg)
		},
		"claude": func(cfg config.LLMProviderConfig) (Provider, error) {
			return NewAnthropicProvider(cfg)
		},
		"llama": func(cfg config.LLMProviderConfig) (Provider, error) {
			return NewOllamaProvider(cfg)
		},
		"ossgpt": func(cfg config.LLMProviderConfig) (Provider, error) {
			return NewOllamaProvider(cfg)
		},
		"gemini": func(cfg config.LLMProviderConfig) (Provider, error) {
			return NewGeminiProvider(cfg)
		},
	} {
		if err := providerFactories.Register(name, factory); err != nil {
			panic(err)
		}
	}
}

// NewProvider builds the named provider from the [service.llm] config.
func NewProvider(svc config.LLMServiceConfig) (Provider, error) {
	factory, ok := providerFactories.Get(svc.Name)
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (have %v)", svc.Name, providerFactories.Names())
	}
	cfg, err := svc.Provider(svc.Name)
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}
