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

func TestAnthropicGenerateResponse(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "hello there"}},
			Usage:   anthropicUsage{InputTokens: 8, OutputTokens: 2},
		})
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(config.LLMProviderConfig{
		AnthropicAPIKey: "key-test",
		BaseURL:         server.URL,
		Model:           "claude-3-5-sonnet-20241022",
		MaxTokens:       512,
		TimeoutSeconds:  5,
	})
	require.NoError(t, err)

	response, err := provider.GenerateResponse(context.Background(), []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hi"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", response)

	// System turns must not appear in the messages array.
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, RoleUser, captured.Messages[0].Role)
	assert.Equal(t, "be terse", captured.System)
}

func TestAnthropicSchemaBecomesSystemInstruction(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: `{"stem":"q"}`}},
		})
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(config.LLMProviderConfig{
		AnthropicAPIKey: "key-test",
		BaseURL:         server.URL,
		Model:           "claude-3-5-sonnet-20241022",
		MaxTokens:       512,
		TimeoutSeconds:  5,
	})
	require.NoError(t, err)

	_, err = provider.GenerateResponse(context.Background(),
		[]Message{{Role: RoleUser, Content: "generate"}},
		&ResponseFormat{Name: "question", Schema: map[string]any{"type": "object"}})
	require.NoError(t, err)
	assert.Contains(t, captured.System, "JSON schema")
	assert.Contains(t, captured.System, `"type":"object"`)
}
