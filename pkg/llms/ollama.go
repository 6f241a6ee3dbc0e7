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

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wastepro/wastepro/pkg/config"
	"github.com/wastepro/wastepro/pkg/httpclient"
)

// OllamaProvider backs both the llama and ossgpt providers: local models
// behind the Ollama chat API (/api/chat, non-streaming). A response format
// lands in the request's format field, which Ollama enforces server-side.
type OllamaProvider struct {
	cfg        config.LLMProviderConfig
	httpClient *httpclient.Client
	log        *slog.Logger
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   any           `json:"format,omitempty"` // "json" or a schema object
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

// NewOllamaProvider builds the provider from a [service.llm.llama] or
// [service.llm.ossgpt] table. Local endpoints need no credentials.
func NewOllamaProvider(cfg config.LLMProviderConfig) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama base_url is required")
	}

	return &OllamaProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			}),
		),
		log: slog.Default(),
	}, nil
}

// Model returns the configured model identifier.
func (p *OllamaProvider) Model() string { return p.cfg.Model }

// GenerateResponse runs one non-streaming chat call.
func (p *OllamaProvider) GenerateResponse(ctx context.Context, messages []Message, format *ResponseFormat) (string, error) {
	request := ollamaRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Options: ollamaOptions{
			Temperature: p.cfg.Temperature,
			NumPredict:  p.cfg.MaxTokens,
		},
	}
	if format != nil {
		if format.Schema != nil {
			request.Format = format.Schema
		} else {
			request.Format = "json"
		}
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("parse ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama api error: %s", parsed.Error)
	}

	p.log.Debug("ollama completion",
		"model", p.cfg.Model,
		"duration", time.Since(start),
		"prompt_tokens", parsed.PromptEvalCount,
		"completion_tokens", parsed.EvalCount)

	return parsed.Message.Content, nil
}
