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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaForReflectsStruct(t *testing.T) {
	type question struct {
		Stem    string `json:"stem" jsonschema:"required"`
		OptionA string `json:"option_A" jsonschema:"required"`
		Answer  string `json:"answer" jsonschema:"required,enum=A|B|C|D"`
	}

	schema, err := SchemaFor[question]()
	require.NoError(t, err)

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.NotContains(t, schema, "$schema")

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "stem")
	assert.Contains(t, props, "option_A")

	answer, ok := props["answer"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"A", "B", "C", "D"}, answer["enum"])

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Len(t, required, 3)
}

func TestCountTokensFallback(t *testing.T) {
	assert.Equal(t, 0, CountTokens("gpt-4o-mini", ""))
	assert.Greater(t, CountTokens("gpt-4o-mini", "hello world, how are you"), 0)
	// Unknown models fall back to an encoding rather than zero.
	assert.Greater(t, CountTokens("totally-unknown-model", "hello world"), 0)
}
