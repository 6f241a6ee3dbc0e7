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
)

// sampleTolerance bounds how far a sampled vector's grade may sit from the
// target.
const sampleTolerance = 1.0

// SampleFeatureVector draws a random feature vector whose weighted grade
// lands within sampleTolerance of target. Every feature level is 1..3, so
// grades outside [sum(w), 3*sum(w)] are infeasible and yield the zero
// vector. Candidates are enumerated and shuffled so repeated calls vary.
func SampleFeatureVector(target float64, rng *rand.Rand) [FeatureCount]int {
	var sumW float64
	for _, w := range FeatureWeights {
		sumW += w
	}
	if target+sampleTolerance < sumW || target-sampleTolerance > 3*sumW {
		return [FeatureCount]int{}
	}

	candidates := enumerateVectors()
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	for _, v := range candidates {
		grade := WeightedGrade(v)
		if grade >= target-sampleTolerance && grade <= target+sampleTolerance {
			return v
		}
	}
	return [FeatureCount]int{}
}

// enumerateVectors lists all 3^7 level assignments.
func enumerateVectors() [][FeatureCount]int {
	total := 1
	for i := 0; i < FeatureCount; i++ {
		total *= 3
	}
	out := make([][FeatureCount]int, 0, total)
	for n := 0; n < total; n++ {
		var v [FeatureCount]int
		rem := n
		for i := 0; i < FeatureCount; i++ {
			v[i] = rem%3 + 1
			rem /= 3
		}
		out = append(out, v)
	}
	return out
}
