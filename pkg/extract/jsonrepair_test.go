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

package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSONFenced(t *testing.T) {
	out, err := repairJSON("```json\n{\"a\": [1, 2]}\n```")
	require.NoError(t, err)
	assert.Equal(t, `{"a": [1, 2]}`, out)
}

func TestRepairJSONSurroundingProse(t *testing.T) {
	out, err := repairJSON(`Here is the mapping you asked for: {"waste": ["ash"]} hope it helps`)
	require.NoError(t, err)
	assert.Equal(t, `{"waste": ["ash"]}`, out)
}

func TestRepairJSONTruncatedStream(t *testing.T) {
	// The second entry was cut off mid-value; recovery trims back to the
	// last close bracket and closes the outer array.
	out, err := repairJSON(`[["a","rel","b"],["c","re`)
	require.NoError(t, err)
	assert.Equal(t, `[["a","rel","b"]]`, out)
}

func TestRepairJSONBracketsInStrings(t *testing.T) {
	out, err := repairJSON(`{"note": "a ] tricky } string"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"note": "a ] tricky } string"}`, out)
}

func TestRepairJSONUnrecoverable(t *testing.T) {
	_, err := repairJSON("no json here at all")
	assert.Error(t, err)

	_, err = repairJSON(`{"never closed": [`)
	assert.Error(t, err)
}
