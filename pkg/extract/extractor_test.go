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
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/kg"
	"github.com/wastepro/wastepro/pkg/llms"
)

// scriptedChat answers each extraction step from canned responses, keyed by
// a marker phrase of its prompt. Queued responses pop in order per step.
type scriptedChat struct {
	facts    []string
	concepts []string
	pairs    []string
	aliases  []string
}

func (c *scriptedChat) Generate(_ context.Context, messages []llms.Message, _ *llms.ResponseFormat) (string, error) {
	prompt := messages[len(messages)-1].Content
	pop := func(queue *[]string) string {
		if len(*queue) == 0 {
			return "{}"
		}
		head := (*queue)[0]
		*queue = (*queue)[1:]
		return head
	}
	switch {
	case strings.Contains(prompt, "comma-separated list"):
		return pop(&c.facts), nil
	case strings.Contains(prompt, "Group every fact"):
		return pop(&c.concepts), nil
	case strings.Contains(prompt, "relationships between the entities"):
		return pop(&c.pairs), nil
	case strings.Contains(prompt, "English aliases"):
		return pop(&c.aliases), nil
	}
	return "", nil
}

func TestExtractTripletsFullPage(t *testing.T) {
	chat := &scriptedChat{
		facts: []string{"glass, plastic, recycling, glass"},
		concepts: []string{
			// First pass leaves "recycling" unassigned; later passes add
			// nothing, so it lands in the others bucket. The final entry
			// clusters the fact the relation step discovered.
			`{"materials": ["glass", "plastic"]}`,
			`{}`, `{}`,
			`{"objects": ["cullet"]}`,
		},
		pairs: []string{
			"```json\n" + `[["glass", "melts into", "cullet"], ["broken row"]]` + "\n```",
		},
		aliases: []string{`{"glass": ["glass bottle"]}`, `{}`},
	}

	extractor := NewExtractor(chat)
	triplets, err := extractor.ExtractTriplets(context.Background(),
		"glass and plastic get recycled",
		[][]string{{"handbook"}, {"handbook", "ch1"}},
		map[string]any{"title": "handbook"})
	require.NoError(t, err)

	includeIn := findTriplets(triplets, kg.RelIncludeIn)
	conceptNames := make([]string, 0, len(includeIn))
	for _, tr := range includeIn {
		conceptNames = append(conceptNames, tr.Subject.Name)
	}
	assert.ElementsMatch(t, []string{"materials", "objects", kg.OthersConcept}, conceptNames)

	isA := findTriplets(triplets, kg.RelIsA)
	factNames := make([]string, 0, len(isA))
	for _, tr := range isA {
		factNames = append(factNames, tr.Subject.Name)
	}
	// "glass" deduped case-insensitively; "cullet" registered from the
	// relation triple; "recycling" bound to others.
	assert.ElementsMatch(t, []string{"glass", "plastic", "recycling", "cullet"}, factNames)

	rel := findTriplets(triplets, "melts into")
	require.Len(t, rel, 1)
	assert.Equal(t, "glass", rel[0].Subject.Name)
	assert.Equal(t, []string{"glass bottle"}, rel[0].Subject.Aliases)
	assert.Equal(t, "cullet", rel[0].Object.Name)
}

func TestExtractTripletsEmptyPage(t *testing.T) {
	extractor := NewExtractor(&scriptedChat{})
	triplets, err := extractor.ExtractTriplets(context.Background(), "   \n",
		[][]string{{"handbook"}, {"handbook", "ch1"}}, nil)
	require.NoError(t, err)

	// Only the section skeleton comes out of an empty page.
	require.Len(t, triplets, 1)
	assert.Equal(t, kg.RelPartOf, triplets[0].Predicate.Name)
}

func TestExtractTripletsBadConceptJSON(t *testing.T) {
	chat := &scriptedChat{
		facts:    []string{"glass"},
		concepts: []string{"I am afraid I cannot produce JSON"},
	}
	extractor := NewExtractor(chat, WithoutAliases())

	_, err := extractor.ExtractTriplets(context.Background(), "text",
		[][]string{{"doc"}}, nil)
	require.Error(t, err)
	var pe *bus.ParcelError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bus.KindLLMInvalidResponse, pe.Kind)
}
