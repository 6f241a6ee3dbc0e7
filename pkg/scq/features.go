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

// Package scq implements single-choice-question generation and evaluation:
// the 7-feature difficulty model, the weighted feature-vector sampler, the
// concept/fact rankers, and the two service agents.
package scq

import (
	"fmt"
	"strings"
)

// FeatureCount is the size of the feature vector.
const FeatureCount = 7

// FeatureKeys names the seven question features, in vector order.
var FeatureKeys = [FeatureCount]string{
	"stem_length",
	"stem_technical_term_density",
	"stem_cognitive_level",
	"option_average_length",
	"option_similarity",
	"stem_option_similarity",
	"high_distractor_count",
}

// FeatureTitles are the prompt-facing names of the features.
var FeatureTitles = [FeatureCount]string{
	"Stem Length",
	"Technical Term Density in Stem",
	"Cognitive Level",
	"Average Option Length",
	"Option Similarity",
	"Stem-Option Similarity",
	"Number of High-Attraction Distractors",
}

// FeatureWeights weight each feature's level in the difficulty grade.
// Cognitive level and distractor count count for more.
var FeatureWeights = [FeatureCount]float64{1, 1, 1.5, 1, 1, 1, 1.2}

// levelDescriptions holds the per-feature instruction for each level 1..3.
var levelDescriptions = [FeatureCount][3]string{
	{
		"Generate a short stem containing 5 to 15 words, no more, no less.",
		"Generate a medium stem containing 16 to 30 words, no more, no less.",
		"Provide a long stem that exceeds 30 words in length. Make sure it is not shorter.",
	},
	{
		"The stem should contain between 0 and 2 technical terms. Do not exceed this limit.",
		"The stem should contain between 2 and 4 technical terms. Do not exceed this limit.",
		"Use a high density of technical language in the stem, with more than 3 technical terms included.",
	},
	{
		"Design the stem at the remembering level — it should test basic recall of facts or concepts only.",
		"The stem should target the understanding and synthesizing levels of Bloom's Taxonomy. It should go beyond recall to assess comprehension and integration of knowledge.",
		"The stem should reflect Bloom's higher-order levels — specifically analyzing, creating, or evaluating. It should encourage deep thinking and decision-making based on complex information.",
	},
	{
		"The option text should be no longer than 4 words. Strictly follow this range.",
		"The option text should be no shorter than 3 words and no longer than 6 words. Stay strictly within this range.",
		"The option text must be at least 5 words long. Avoid short or very brief options.",
	},
	{
		"Ensure low similarity between options — they should be less than 20% similar in wording or structure. Each option must be clearly distinct from the others.",
		"Ensure the options have moderate similarity, with approximately 50% overlap in wording or structure. They should share some elements but still be distinguishable.",
		"Ensure high similarity between options, with more than 80% overlap in wording or structure. Options should appear very similar but differ in subtle ways.",
	},
	{
		"Ensure high relevance between the stem and the options, with over 80% semantic or contextual overlap. The options should be closely tied to the stem's content.",
		"Ensure moderate relevance between the stem and the options, with approximately 50% semantic or contextual overlap. The options should be related, but not too obvious.",
		"Ensure low relevance between the stem and the options — the semantic or contextual connection should be below 20%. The options should appear only loosely related to the stem.",
	},
	{
		"The options should contain one highly plausible but incorrect choice designed to mislead learners who lack full understanding of the concept.",
		"The options should contain two very plausible but incorrect answers, designed to challenge learners by appearing correct at first glance.",
		"Include more than 3 highly attractive distractors — these should be incorrect options that seem very plausible and are likely to mislead learners with incomplete understanding.",
	},
}

// difficultyTargets maps the public difficulty scale to the weighted-grade
// target the sampler aims for.
var difficultyTargets = map[int]float64{
	30: 10,
	50: 14,
	70: 18,
}

// DifficultyTarget resolves a difficulty to its grade target.
func DifficultyTarget(difficulty int) (float64, error) {
	target, ok := difficultyTargets[difficulty]
	if !ok {
		return 0, fmt.Errorf("unsupported difficulty %d (want 30, 50 or 70)", difficulty)
	}
	return target, nil
}

// WeightedGrade is G(v): the weight-scaled sum of the feature levels.
func WeightedGrade(v [FeatureCount]int) float64 {
	var grade float64
	for i, level := range v {
		grade += float64(level) * FeatureWeights[i]
	}
	return grade
}

// FeatureLevels renders the vector as a key → level map for parcels.
func FeatureLevels(v [FeatureCount]int) map[string]int {
	levels := make(map[string]int, FeatureCount)
	for i, key := range FeatureKeys {
		levels[key] = v[i]
	}
	return levels
}

// VectorFromLevels is the inverse of FeatureLevels; missing keys stay zero.
func VectorFromLevels(levels map[string]int) [FeatureCount]int {
	var v [FeatureCount]int
	for i, key := range FeatureKeys {
		v[i] = levels[key]
	}
	return v
}

// featuresPrompt renders one instruction line per feature at its sampled
// level.
func featuresPrompt(v [FeatureCount]int) string {
	lines := make([]string, 0, FeatureCount)
	for i, level := range v {
		if level < 1 || level > 3 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", FeatureTitles[i], levelDescriptions[i][level-1]))
	}
	return strings.Join(lines, "\n")
}
