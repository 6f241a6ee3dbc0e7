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

package scq

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightedGrade(t *testing.T) {
	assert.InDelta(t, 7.7, WeightedGrade([FeatureCount]int{1, 1, 1, 1, 1, 1, 1}), 1e-9)
	assert.InDelta(t, 23.1, WeightedGrade([FeatureCount]int{3, 3, 3, 3, 3, 3, 3}), 1e-9)

	// Cognitive level carries weight 1.5, distractor count 1.2.
	var v [FeatureCount]int
	v[2] = 2
	v[6] = 1
	assert.InDelta(t, 4.2, WeightedGrade(v), 1e-9)
}

func TestDifficultyTarget(t *testing.T) {
	for difficulty, want := range map[int]float64{30: 10, 50: 14, 70: 18} {
		target, err := DifficultyTarget(difficulty)
		require.NoError(t, err)
		assert.Equal(t, want, target)
	}

	_, err := DifficultyTarget(42)
	assert.Error(t, err)
}

func TestFeatureLevelsRoundTrip(t *testing.T) {
	v := [FeatureCount]int{1, 2, 3, 1, 2, 3, 1}
	levels := FeatureLevels(v)
	require.Len(t, levels, FeatureCount)
	assert.Equal(t, 3, levels["stem_cognitive_level"])
	assert.Equal(t, v, VectorFromLevels(levels))
}

func TestFeaturesPrompt(t *testing.T) {
	prompt := featuresPrompt([FeatureCount]int{1, 1, 1, 1, 1, 1, 1})
	lines := strings.Split(prompt, "\n")
	require.Len(t, lines, FeatureCount)
	assert.Contains(t, lines[0], "Stem Length: Generate a short stem")
	assert.Contains(t, lines[2], "remembering level")

	// Out-of-range levels render nothing rather than panicking.
	assert.Empty(t, featuresPrompt([FeatureCount]int{}))
}
