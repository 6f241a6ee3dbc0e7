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

package kg

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store with the same merge semantics as the
// Neo4j one. Service and generator tests run against it; nothing in it
// talks to a network.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int
	nodes  map[string]*memoryNode // element id → node
	merged map[string]string      // "<label>-<name>" → element id, non-fact nodes
	edges  []memoryEdge
	dedup  *dedupTable
}

type memoryNode struct {
	id      string
	label   string
	name    string
	aliases []string
	props   map[string]any
}

type memoryEdge struct {
	from, to string // element ids
	name     string
}

// NewMemoryStore returns an empty graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:  make(map[string]*memoryNode),
		merged: make(map[string]string),
		dedup:  newDedupTable(),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close(context.Context) error { return nil }

// AddTriplets applies the CREATE/MERGE rules of the Bolt store.
func (s *MemoryStore) AddTriplets(_ context.Context, sourceType, fileID string, page int, triplets []Triplet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, triplet := range triplets {
		subjectID := s.upsert(triplet.Subject, sourceType, fileID, page)
		objectID := s.upsert(triplet.Object, sourceType, fileID, page)
		s.relate(subjectID, objectID, triplet.Predicate.Name)
	}
	return nil
}

func (s *MemoryStore) upsert(node Node, sourceType, fileID string, page int) string {
	props := map[string]any{"source_type": sourceType, "file_id": fileID, "page_number": page}
	for k, v := range node.Meta {
		props[k] = v
	}

	if node.IsFact() {
		if id, ok := s.dedup.lookup(fileID, page, node.Type, node.Name); ok {
			return id
		}
		id := s.insert(node, props)
		s.dedup.record(fileID, page, node.Type, node.Name, id)
		return id
	}

	key := node.Type + "-" + node.Name
	if id, ok := s.merged[key]; ok {
		existing := s.nodes[id]
		// Merge keeps what the incoming node does not carry.
		if len(node.Aliases) > 0 {
			existing.aliases = node.Aliases
		}
		for k, v := range props {
			existing.props[k] = v
		}
		return id
	}
	id := s.insert(node, props)
	s.merged[key] = id
	return id
}

func (s *MemoryStore) insert(node Node, props map[string]any) string {
	s.nextID++
	id := fmt.Sprintf("mem-%d", s.nextID)
	s.nodes[id] = &memoryNode{
		id:      id,
		label:   node.Type,
		name:    node.Name,
		aliases: node.Aliases,
		props:   props,
	}
	return id
}

func (s *MemoryStore) relate(from, to, name string) {
	if s.hasEdge(from, to, name) {
		return
	}
	s.edges = append(s.edges, memoryEdge{from: from, to: to, name: name})
}

func (s *MemoryStore) hasEdge(from, to, name string) bool {
	for _, e := range s.edges {
		if e.from == from && e.to == to && e.name == name {
			return true
		}
	}
	return false
}

// Concepts mirrors the Bolt store's union query.
func (s *MemoryStore) Concepts(_ context.Context, document string, section []string) ([]NodeRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docID, ok := s.merged[NodeDocument+"-"+document]
	if !ok {
		return nil, nil
	}

	var docRefs []NodeRef
	for _, e := range s.edges {
		if e.name == RelIncludeIn && e.to == docID {
			if n := s.nodes[e.from]; n != nil && n.label == NodeConcept {
				docRefs = append(docRefs, NodeRef{ElementID: n.id, Name: n.name})
			}
		}
	}
	if len(section) == 0 {
		return docRefs, nil
	}

	rootID, ok := s.merged[NodeStructure+"-"+section[len(section)-1]]
	if !ok || !s.reaches(rootID, docID, RelPartOf) {
		return docRefs, nil
	}

	var sectionRefs []NodeRef
	for _, structID := range s.descendants(rootID) {
		for _, e := range s.edges {
			if e.name == RelIncludeIn && e.to == structID {
				if n := s.nodes[e.from]; n != nil && n.label == NodeConcept {
					sectionRefs = append(sectionRefs, NodeRef{ElementID: n.id, Name: n.name})
				}
			}
		}
	}
	return unionRefs(docRefs, sectionRefs), nil
}

// LeafSections mirrors the Bolt store's leaf query.
func (s *MemoryStore) LeafSections(_ context.Context, document string, section []string) ([]NodeRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []string
	if len(section) > 0 {
		rootID, ok := s.merged[NodeStructure+"-"+section[len(section)-1]]
		if !ok {
			return nil, nil
		}
		candidates = s.descendants(rootID)
	} else {
		docID, ok := s.merged[NodeDocument+"-"+document]
		if !ok {
			return nil, nil
		}
		for id, n := range s.nodes {
			if n.label == NodeStructure && s.reaches(id, docID, RelPartOf) {
				candidates = append(candidates, id)
			}
		}
	}

	var leaves []NodeRef
	for _, id := range candidates {
		if !s.hasStructureChild(id) {
			n := s.nodes[id]
			leaves = append(leaves, NodeRef{ElementID: n.id, Name: n.name})
		}
	}
	return leaves, nil
}

// FactsOfConcept mirrors the is_a inverse walk.
func (s *MemoryStore) FactsOfConcept(_ context.Context, conceptElementID string) ([]NodeRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var facts []NodeRef
	for _, e := range s.edges {
		if e.name == RelIsA && e.to == conceptElementID {
			if n := s.nodes[e.from]; n != nil && n.label == NodeFact {
				facts = append(facts, NodeRef{ElementID: n.id, Name: n.name})
			}
		}
	}
	return facts, nil
}

// FactNeighborTexts mirrors the 1-hop fact path flattening.
func (s *MemoryStore) FactNeighborTexts(_ context.Context, factElementID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var texts []string
	add := func(from, rel, to string) {
		text := fmt.Sprintf("%s %s %s", from, rel, to)
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		texts = append(texts, text)
	}

	start := s.nodes[factElementID]
	if start == nil || start.label != NodeFact {
		return nil, nil
	}
	for _, e := range s.edges {
		// Undirected 1-hop, both endpoints facts.
		if e.from == factElementID {
			if other := s.nodes[e.to]; other != nil && other.label == NodeFact {
				add(start.name, e.name, other.name)
			}
		}
		if e.to == factElementID {
			if other := s.nodes[e.from]; other != nil && other.label == NodeFact {
				add(other.name, e.name, start.name)
			}
		}
	}
	return texts, nil
}

// descendants returns rootID plus every structure reaching it over part_of.
func (s *MemoryStore) descendants(rootID string) []string {
	ids := []string{rootID}
	for id, n := range s.nodes {
		if n.label == NodeStructure && id != rootID && s.reaches(id, rootID, RelPartOf) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *MemoryStore) reaches(from, to, rel string) bool {
	if from == to {
		return false
	}
	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, e := range s.edges {
			if e.name != rel || e.from != current {
				continue
			}
			if e.to == to {
				return true
			}
			stack = append(stack, e.to)
		}
	}
	return false
}

func (s *MemoryStore) hasStructureChild(id string) bool {
	for _, e := range s.edges {
		if e.name == RelPartOf && e.to == id {
			if n := s.nodes[e.from]; n != nil && n.label == NodeStructure {
				return true
			}
		}
	}
	return false
}

// NodeCount reports stored nodes, for tests.
func (s *MemoryStore) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}
