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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wastepro/wastepro/pkg/config"
)

func openAITestConfig(baseURL string) config.LLMProviderConfig {
	return config.LLMProviderConfig{
		OpenAIAPIKey:   "sk-test",
		BaseURL:        baseURL,
		Model:          "gpt-4o-mini",
		Temperature:    0.7,
		MaxTokens:      256,
		TimeoutSeconds: 5,
	}
}

func TestOpenAIGenerateResponse(t *testing.T) {
	var captured openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: Message{Role: RoleAssistant, Content: "42"}}},
			Usage:   Usage{PromptTokens: 12, CompletionTokens: 1},
		})
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(openAITestConfig(server.URL))
	require.NoError(t, err)

	response, err := provider.GenerateResponse(context.Background(),
		[]Message{{Role: RoleUser, Content: "what is 6*7?"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", response)
	assert.Equal(t, "gpt-4o-mini", captured.Model)
	assert.False(t, captured.Stream)
	assert.Nil(t, captured.ResponseFormat)
}

func TestOpenAIStructuredOutput(t *testing.T) {
	var captured openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: Message{Content: `{"answer":"A"}`}}},
		})
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(openAITestConfig(server.URL))
	require.NoError(t, err)

	format := &ResponseFormat{
		Name: "answer",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"answer": map[string]any{"type": "string"}},
		},
	}
	response, err := provider.GenerateResponse(context.Background(),
		[]Message{{Role: RoleUser, Content: "pick one"}}, format)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"A"}`, response)

	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_schema", captured.ResponseFormat.Type)
	require.NotNil(t, captured.ResponseFormat.JSONSchema)
	assert.Equal(t, "answer", captured.ResponseFormat.JSONSchema.Name)
	assert.True(t, captured.ResponseFormat.JSONSchema.Strict)
}

func TestOpenAIAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(openAIResponse{
			Error: &openAIError{Type: "invalid_request_error", Message: "bad model"},
		})
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(openAITestConfig(server.URL))
	require.NoError(t, err)

	_, err = provider.GenerateResponse(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.LLMProviderConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)
}
