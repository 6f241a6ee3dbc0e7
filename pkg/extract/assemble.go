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
	"sort"

	"github.com/wastepro/wastepro/pkg/kg"
)

// assembleTriplets is the deterministic tail of extraction. Section paths
// become part_of chains (index 0 is the document node carrying meta),
// concepts bind include_in to the deepest element of the most specific
// path, facts bind is_a to their concept, and relation triples become
// fact-to-fact edges. Output order is stable for equal input.
func assembleTriplets(sections [][]string, meta map[string]any,
	hierarchy map[string][]string, pairs [][3]string, aliases map[string][]string) []kg.Triplet {

	var (
		triplets []kg.Triplet
		seen     = make(map[string]struct{})
	)
	add := func(t kg.Triplet) {
		key := t.Subject.Type + "\x00" + t.Subject.Name + "\x00" +
			t.Predicate.Name + "\x00" + t.Object.Type + "\x00" + t.Object.Name
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		triplets = append(triplets, t)
	}

	// Structure chains. Paths share prefixes, so edges dedupe.
	for _, path := range sections {
		for i := 1; i < len(path); i++ {
			add(kg.Triplet{
				Subject:   kg.Node{Type: kg.NodeStructure, Name: path[i]},
				Predicate: kg.Relation{Name: kg.RelPartOf},
				Object:    pathNode(path, i-1, meta),
			})
		}
	}

	binding := bindingNode(sections, meta)

	concepts := make([]string, 0, len(hierarchy))
	for concept := range hierarchy {
		concepts = append(concepts, concept)
	}
	sort.Strings(concepts)

	for _, concept := range concepts {
		conceptNode := kg.Node{Type: kg.NodeConcept, Name: concept, Aliases: aliases[concept]}
		add(kg.Triplet{
			Subject:   conceptNode,
			Predicate: kg.Relation{Name: kg.RelIncludeIn},
			Object:    binding,
		})
		for _, fact := range hierarchy[concept] {
			add(kg.Triplet{
				Subject:   kg.Node{Type: kg.NodeFact, Name: fact, Aliases: aliases[fact]},
				Predicate: kg.Relation{Name: kg.RelIsA},
				Object:    conceptNode,
			})
		}
	}

	for _, pair := range pairs {
		add(kg.Triplet{
			Subject:   kg.Node{Type: kg.NodeFact, Name: pair[0], Aliases: aliases[pair[0]]},
			Predicate: kg.Relation{Name: pair[1]},
			Object:    kg.Node{Type: kg.NodeFact, Name: pair[2], Aliases: aliases[pair[2]]},
		})
	}

	return triplets
}

// pathNode labels path[i]: index 0 is the document anchor and carries the
// ingest metadata.
func pathNode(path []string, i int, meta map[string]any) kg.Node {
	if i == 0 {
		return kg.Node{Type: kg.NodeDocument, Name: path[0], Meta: meta}
	}
	return kg.Node{Type: kg.NodeStructure, Name: path[i]}
}

// bindingNode picks the element concepts attach to: the deepest element of
// the longest section path, the document itself when no path descends
// below it.
func bindingNode(sections [][]string, meta map[string]any) kg.Node {
	var best []string
	for _, path := range sections {
		if len(path) >= len(best) {
			best = path
		}
	}
	if len(best) == 0 {
		return kg.Node{Type: kg.NodeDocument, Name: "Root", Meta: meta}
	}
	return pathNode(best, len(best)-1, meta)
}
