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
	"strings"
	"unicode"
)

// Criteria describes the question a caller wants generated. Section is a
// path into the document's structure tree; empty means the whole document.
type Criteria struct {
	QuestionID string   `json:"question_id"`
	Subject    string   `json:"subject"`
	Document   string   `json:"document"`
	Section    []string `json:"section,omitempty"`
	Difficulty int      `json:"difficulty"`
}

// Question is a single-choice question with four options. The field order
// and tags match the schema handed to the model.
type Question struct {
	Stem    string `json:"stem" jsonschema:"required"`
	OptionA string `json:"option_A" jsonschema:"required"`
	OptionB string `json:"option_B" jsonschema:"required"`
	OptionC string `json:"option_C" jsonschema:"required"`
	OptionD string `json:"option_D" jsonschema:"required"`
	Answer  string `json:"answer" jsonschema:"required"`
}

// errorStemPrefix marks a placeholder question emitted when the model's
// output could not be parsed.
const errorStemPrefix = "【系統錯誤】"

// placeholderQuestion stands in for a question the model failed to deliver,
// so a batch of questions never comes back short.
func placeholderQuestion(criteria Criteria) Question {
	return Question{
		Stem:    errorStemPrefix + "此題目產生失敗，請重新產生。(subject: " + criteria.Subject + ")",
		OptionA: "N/A",
		OptionB: "N/A",
		OptionC: "N/A",
		OptionD: "N/A",
		Answer:  "D",
	}
}

// IsPlaceholder reports whether q is an error placeholder.
func (q Question) IsPlaceholder() bool {
	return strings.HasPrefix(q.Stem, errorStemPrefix)
}

// Options returns the four option texts in A..D order.
func (q Question) Options() [4]string {
	return [4]string{q.OptionA, q.OptionB, q.OptionC, q.OptionD}
}

// normalizeAnswer maps the model's answer designator to a single letter
// A..D. Accepts "option_A" style keys, bare letters in either case, and
// 1-based indexes. Anything else falls back to D.
func normalizeAnswer(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "option_")
	s = strings.TrimPrefix(s, "Option_")
	switch strings.ToUpper(s) {
	case "A", "1":
		return "A"
	case "B", "2":
		return "B"
	case "C", "3":
		return "C"
	case "D", "4":
		return "D"
	}
	return "D"
}

// cleanText normalizes whitespace in model output: CJK text drops all
// whitespace (spacing inside it is noise from the model), anything else
// keeps internal spaces and trims the ends.
func cleanText(s string) string {
	if countCJK(s) > 0 {
		var b strings.Builder
		b.Grow(len(s))
		for _, r := range s {
			if !unicode.IsSpace(r) {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return strings.TrimSpace(s)
}

// normalizeQuestion cleans every text field and resolves the answer letter.
func normalizeQuestion(q Question) Question {
	return Question{
		Stem:    cleanText(q.Stem),
		OptionA: cleanText(q.OptionA),
		OptionB: cleanText(q.OptionB),
		OptionC: cleanText(q.OptionC),
		OptionD: cleanText(q.OptionD),
		Answer:  normalizeAnswer(q.Answer),
	}
}

// shuffleOptions permutes the four options and moves the answer letter to
// follow the correct text. Models put the right answer in predictable slots;
// shuffling removes that tell.
func shuffleOptions(q Question, rng *rand.Rand) Question {
	options := q.Options()
	correct := optionIndex(q.Answer)
	correctText := options[correct]

	rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	answer := "D"
	for i, text := range options {
		if text == correctText {
			answer = string(rune('A' + i))
			break
		}
	}
	q.OptionA, q.OptionB, q.OptionC, q.OptionD = options[0], options[1], options[2], options[3]
	q.Answer = answer
	return q
}

func optionIndex(letter string) int {
	switch letter {
	case "A":
		return 0
	case "B":
		return 1
	case "C":
		return 2
	default:
		return 3
	}
}

// countCJK counts Han, Hiragana, Katakana and Hangul runes in s.
func countCJK(s string) int {
	n := 0
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			n++
		}
	}
	return n
}

// countWords counts whitespace-separated tokens in s.
func countWords(s string) int {
	return len(strings.Fields(s))
}
