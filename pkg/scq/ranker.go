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
	"fmt"
	"math/rand"
	"strings"

	"github.com/wastepro/wastepro/pkg/kg"
	"github.com/wastepro/wastepro/pkg/registry"
)

// Ranker narrows the graph's concept and fact candidates down to the ones
// a question should be built from.
type Ranker interface {
	RankConcepts(concepts []kg.NodeRef) []kg.NodeRef
	RankFacts(facts []kg.NodeRef) []kg.NodeRef
}

// RankerFactory builds a ranker with its own randomness source.
type RankerFactory func(rng *rand.Rand) Ranker

// Ranker names accepted in configuration.
const (
	RankerSimple          = "simple"
	RankerWeighted        = "weighted"
	RankerWasteManagement = "waste_management"
)

var rankers = registry.NewBaseRegistry[RankerFactory]()

func init() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(rankers.Register(RankerSimple, func(*rand.Rand) Ranker { return simpleRanker{} }))
	must(rankers.Register(RankerWeighted, func(*rand.Rand) Ranker { return weightedRanker{} }))
	must(rankers.Register(RankerWasteManagement, func(rng *rand.Rand) Ranker {
		return &wasteManagementRanker{rng: rng}
	}))
}

// NewRanker instantiates the named ranker.
func NewRanker(name string, rng *rand.Rand) (Ranker, error) {
	if name == "" {
		name = RankerSimple
	}
	factory, ok := rankers.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown ranker %q (have %s)", name, strings.Join(rankers.Names(), ", "))
	}
	return factory(rng), nil
}

// RankerNames lists the registered ranker names, sorted.
func RankerNames() []string {
	return rankers.Names()
}

// simpleRanker keeps the first concept and the first two facts. Cheap and
// deterministic; the default.
type simpleRanker struct{}

func (simpleRanker) RankConcepts(concepts []kg.NodeRef) []kg.NodeRef {
	return firstN(concepts, 1)
}

func (simpleRanker) RankFacts(facts []kg.NodeRef) []kg.NodeRef {
	return firstN(facts, 2)
}

// weightedRanker keeps the top three of each list. Graph queries return
// nodes in merge order, so earlier nodes come from earlier pages, which is
// the only ordering signal the store exposes.
type weightedRanker struct{}

func (weightedRanker) RankConcepts(concepts []kg.NodeRef) []kg.NodeRef {
	return firstN(concepts, 3)
}

func (weightedRanker) RankFacts(facts []kg.NodeRef) []kg.NodeRef {
	return firstN(facts, 3)
}

// wasteManagementRanker targets the recyclable-waste corner of the domain:
// it keeps only concepts naming recyclable waste, picks one at random, and
// samples up to five of its facts.
type wasteManagementRanker struct {
	rng *rand.Rand
}

const wasteConceptMarker = "recyclable waste"

func (r *wasteManagementRanker) RankConcepts(concepts []kg.NodeRef) []kg.NodeRef {
	var matched []kg.NodeRef
	for _, c := range concepts {
		if strings.Contains(strings.ToLower(c.Name), wasteConceptMarker) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		matched = concepts
	}
	if len(matched) == 0 {
		return nil
	}
	return []kg.NodeRef{matched[r.rng.Intn(len(matched))]}
}

func (r *wasteManagementRanker) RankFacts(facts []kg.NodeRef) []kg.NodeRef {
	const sample = 5
	if len(facts) <= sample {
		return facts
	}
	picked := make([]kg.NodeRef, len(facts))
	copy(picked, facts)
	r.rng.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})
	return picked[:sample]
}

func firstN(refs []kg.NodeRef, n int) []kg.NodeRef {
	if len(refs) <= n {
		return refs
	}
	return refs[:n]
}
