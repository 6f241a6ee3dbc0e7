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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleFeatureVectorHitsTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, target := range []float64{10, 14, 18} {
		v := SampleFeatureVector(target, rng)
		for i, level := range v {
			require.GreaterOrEqual(t, level, 1, "feature %d", i)
			require.LessOrEqual(t, level, 3, "feature %d", i)
		}
		grade := WeightedGrade(v)
		assert.GreaterOrEqual(t, grade, target-sampleTolerance)
		assert.LessOrEqual(t, grade, target+sampleTolerance)
	}
}

func TestSampleFeatureVectorInfeasibleTargets(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// Below the all-ones grade and above the all-threes grade nothing can
	// match; the zero vector signals that without scanning candidates.
	assert.Equal(t, [FeatureCount]int{}, SampleFeatureVector(5, rng))
	assert.Equal(t, [FeatureCount]int{}, SampleFeatureVector(30, rng))
}

func TestSampleFeatureVectorDeterministicPerSeed(t *testing.T) {
	a := SampleFeatureVector(14, rand.New(rand.NewSource(7)))
	b := SampleFeatureVector(14, rand.New(rand.NewSource(7)))
	assert.Equal(t, a, b)
}

func TestSampleFeatureVectorDiversity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	seen := make(map[[FeatureCount]int]struct{})
	for i := 0; i < 1000; i++ {
		seen[SampleFeatureVector(14, rng)] = struct{}{}
	}
	// Repeated draws must keep exploring the candidate space instead of
	// settling on a few vectors.
	assert.GreaterOrEqual(t, len(seen), 100)
}

func TestEnumerateVectorsIsExhaustive(t *testing.T) {
	vectors := enumerateVectors()
	require.Len(t, vectors, 2187)

	seen := make(map[[FeatureCount]int]struct{}, len(vectors))
	for _, v := range vectors {
		seen[v] = struct{}{}
	}
	assert.Len(t, seen, 2187)
}
