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

// Package extract turns page text into knowledge-graph triplets: four
// LLM-mediated steps (facts, concept clustering, fact relations, aliases)
// followed by deterministic assembly against the page's section paths.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/kg"
	"github.com/wastepro/wastepro/pkg/llms"
)

// maxConceptPasses bounds the recursion over facts the concept step missed.
const maxConceptPasses = 3

// Extractor drives the LLM extraction steps through a Chat client.
type Extractor struct {
	chat    llms.Chat
	aliases bool
	log     *slog.Logger
}

// Option configures the extractor.
type Option func(*Extractor)

// WithoutAliases skips the alias lookup step.
func WithoutAliases() Option {
	return func(e *Extractor) { e.aliases = false }
}

// WithLogger routes extraction logging to log.
func WithLogger(log *slog.Logger) Option {
	return func(e *Extractor) { e.log = log }
}

// NewExtractor builds an extractor; aliases are resolved unless disabled.
func NewExtractor(chat llms.Chat, opts ...Option) *Extractor {
	e := &Extractor{chat: chat, aliases: true, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractTriplets produces the triplets of one page. An empty page yields
// only the section skeleton; the ingest pipeline advances regardless.
func (e *Extractor) ExtractTriplets(ctx context.Context, pageText string, sections [][]string, meta map[string]any) ([]kg.Triplet, error) {
	var (
		hierarchy = map[string][]string{}
		pairs     [][3]string
		aliases   map[string][]string
	)

	if strings.TrimSpace(pageText) != "" {
		facts, err := e.extractFacts(ctx, pageText)
		if err != nil {
			return nil, err
		}
		e.log.Debug("facts extracted", "count", len(facts))

		if len(facts) > 0 {
			hierarchy, err = e.clusterConcepts(ctx, facts, pageText)
			if err != nil {
				return nil, err
			}

			var newFacts []string
			pairs, newFacts, err = e.extractFactPairs(ctx, facts, pageText)
			if err != nil {
				return nil, err
			}
			if len(newFacts) > 0 {
				// Cluster only the facts the relation step discovered.
				extra, err := e.clusterConcepts(ctx, newFacts, pageText)
				if err != nil {
					return nil, err
				}
				mergeHierarchy(hierarchy, extra)
			}

			if e.aliases {
				aliases, err = e.lookupAliases(ctx, hierarchy)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	return assembleTriplets(sections, meta, hierarchy, pairs, aliases), nil
}

func (e *Extractor) generate(ctx context.Context, prompt string) (string, error) {
	return e.chat.Generate(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: extractionSystemPrompt},
		{Role: llms.RoleUser, Content: prompt},
	}, nil)
}

// extractFacts runs step 1: a comma-separated entity list, trimmed and
// deduplicated case-insensitively with the first casing kept.
func (e *Extractor) extractFacts(ctx context.Context, pageText string) ([]string, error) {
	raw, err := e.generate(ctx, factsPrompt(pageText))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var facts []string
	for _, part := range strings.Split(raw, ",") {
		fact := strings.TrimSpace(part)
		if fact == "" {
			continue
		}
		key := strings.ToLower(fact)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		facts = append(facts, fact)
	}
	return facts, nil
}

// clusterConcepts runs step 2: concept → facts as JSON, recursing on the
// facts the model left out. Facts still unassigned after the last pass go
// to the synthetic others concept.
func (e *Extractor) clusterConcepts(ctx context.Context, facts []string, pageText string) (map[string][]string, error) {
	hierarchy := make(map[string][]string)
	missing := facts

	for pass := 0; pass < maxConceptPasses && len(missing) > 0; pass++ {
		raw, err := e.generate(ctx, conceptsPrompt(missing, pageText))
		if err != nil {
			return nil, err
		}
		repaired, err := repairJSON(raw)
		if err != nil {
			return nil, &bus.ParcelError{Kind: bus.KindLLMInvalidResponse, Message: err.Error()}
		}
		var chunk map[string][]string
		if err := json.Unmarshal([]byte(repaired), &chunk); err != nil {
			return nil, &bus.ParcelError{Kind: bus.KindLLMInvalidResponse,
				Message: fmt.Sprintf("concept mapping: %v", err)}
		}
		mergeHierarchy(hierarchy, chunk)

		assigned := make(map[string]struct{})
		for _, clustered := range hierarchy {
			for _, fact := range clustered {
				assigned[strings.ToLower(fact)] = struct{}{}
			}
		}
		var still []string
		for _, fact := range missing {
			if _, ok := assigned[strings.ToLower(fact)]; !ok {
				still = append(still, fact)
			}
		}
		missing = still
	}

	if len(missing) > 0 {
		e.log.Debug("facts without concept", "count", len(missing))
		hierarchy[kg.OthersConcept] = append(hierarchy[kg.OthersConcept], missing...)
	}
	return hierarchy, nil
}

// extractFactPairs runs step 3: relation triples with exactly-3 arity.
// Triples naming facts outside the identified set register them as new
// facts for a follow-up clustering pass.
func (e *Extractor) extractFactPairs(ctx context.Context, facts []string, pageText string) ([][3]string, []string, error) {
	raw, err := e.generate(ctx, factPairsPrompt(facts, pageText))
	if err != nil {
		return nil, nil, err
	}
	repaired, err := repairJSON(raw)
	if err != nil {
		return nil, nil, &bus.ParcelError{Kind: bus.KindLLMInvalidResponse, Message: err.Error()}
	}
	var rows [][]string
	if err := json.Unmarshal([]byte(repaired), &rows); err != nil {
		return nil, nil, &bus.ParcelError{Kind: bus.KindLLMInvalidResponse,
			Message: fmt.Sprintf("relation triples: %v", err)}
	}

	known := make(map[string]struct{}, len(facts))
	for _, fact := range facts {
		known[strings.ToLower(fact)] = struct{}{}
	}

	var (
		pairs    [][3]string
		newFacts []string
	)
	for _, row := range rows {
		if len(row) != 3 {
			continue
		}
		start, rel, end := strings.TrimSpace(row[0]), strings.TrimSpace(row[1]), strings.TrimSpace(row[2])
		if start == "" || rel == "" || end == "" {
			continue
		}
		pairs = append(pairs, [3]string{start, rel, end})
		for _, name := range []string{start, end} {
			key := strings.ToLower(name)
			if _, ok := known[key]; !ok {
				known[key] = struct{}{}
				newFacts = append(newFacts, name)
			}
		}
	}
	return pairs, newFacts, nil
}

// lookupAliases runs step 4 over every concept and fact; names the model
// skips resolve to no aliases.
func (e *Extractor) lookupAliases(ctx context.Context, hierarchy map[string][]string) (map[string][]string, error) {
	var names []string
	for concept, facts := range hierarchy {
		names = append(names, concept)
		names = append(names, facts...)
	}
	if len(names) == 0 {
		return nil, nil
	}

	raw, err := e.generate(ctx, aliasesPrompt(names))
	if err != nil {
		return nil, err
	}
	repaired, err := repairJSON(raw)
	if err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindLLMInvalidResponse, Message: err.Error()}
	}
	var aliases map[string][]string
	if err := json.Unmarshal([]byte(repaired), &aliases); err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindLLMInvalidResponse,
			Message: fmt.Sprintf("alias table: %v", err)}
	}
	return aliases, nil
}

func mergeHierarchy(dst, src map[string][]string) {
	for concept, facts := range src {
		existing := make(map[string]struct{}, len(dst[concept]))
		for _, fact := range dst[concept] {
			existing[strings.ToLower(fact)] = struct{}{}
		}
		for _, fact := range facts {
			if _, ok := existing[strings.ToLower(fact)]; ok {
				continue
			}
			dst[concept] = append(dst[concept], fact)
		}
	}
}
