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

func TestOllamaGenerateResponse(t *testing.T) {
	var captured ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(ollamaResponse{
			Message: Message{Role: RoleAssistant, Content: "local answer"},
			Done:    true,
		})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(config.LLMProviderConfig{
		BaseURL:        server.URL,
		Model:          "llama3.2",
		Temperature:    0.2,
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)

	response, err := provider.GenerateResponse(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "local answer", response)
	assert.Equal(t, "llama3.2", captured.Model)
	assert.False(t, captured.Stream)
	assert.Nil(t, captured.Format)
}

func TestOllamaSchemaFormat(t *testing.T) {
	var captured ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(ollamaResponse{
			Message: Message{Content: `{"answer":"B"}`},
			Done:    true,
		})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(config.LLMProviderConfig{
		BaseURL:        server.URL,
		Model:          "gpt-oss:20b",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)

	_, err = provider.GenerateResponse(context.Background(),
		[]Message{{Role: RoleUser, Content: "pick one"}},
		&ResponseFormat{Name: "answer", Schema: map[string]any{"type": "object"}})
	require.NoError(t, err)

	format, ok := captured.Format.(map[string]any)
	require.True(t, ok, "schema must travel as the format object")
	assert.Equal(t, "object", format["type"])
}

func TestOllamaAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Error: "model not found"})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(config.LLMProviderConfig{
		BaseURL:        server.URL,
		Model:          "missing",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)

	_, err = provider.GenerateResponse(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}
