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

// Package kg implements the knowledge-graph service: the Neo4j-backed
// triplet store, the per-subject instance orchestrators, and the service
// agent answering the graph topics.
//
// A subject's graph holds four node kinds. The document node anchors one
// source document; structure nodes form its section tree via part_of;
// concept nodes attach to a document or structure via include_in; fact
// nodes attach to their concept via is_a and to each other via free-form
// relations extracted from the text.
package kg

import "strings"

// Node type labels.
const (
	NodeDocument  = "document"
	NodeStructure = "structure"
	NodeConcept   = "concept"
	NodeFact      = "fact"
)

// Structural relation names. Fact-to-fact relations are free-form.
const (
	RelPartOf    = "part_of"
	RelIncludeIn = "include_in"
	RelIsA       = "is_a"
)

// OthersConcept is the synthetic concept binding facts no extracted
// concept claimed.
const OthersConcept = "others"

// Node is one endpoint of a triplet.
type Node struct {
	Type    string         `json:"type"`
	Name    string         `json:"name"`
	Aliases []string       `json:"aliases,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// IsFact reports whether the node carries the fact label. Fact nodes are
// created fresh per occurrence; every other kind merges by (type, name).
func (n Node) IsFact() bool { return n.Type == NodeFact }

// Relation names the edge of a triplet.
type Relation struct {
	Name string `json:"name"`
}

// Triplet is one (subject, predicate, object) statement.
type Triplet struct {
	Subject   Node     `json:"subject"`
	Predicate Relation `json:"predicate"`
	Object    Node     `json:"object"`
}

// NodeRef identifies a stored node in query results.
type NodeRef struct {
	ElementID string `json:"element_id"`
	Name      string `json:"name"`
}

// sanitizeIdentifier strips backticks so dynamic labels and relation names
// can be quoted into Cypher safely. Names come from LLM output and are not
// trusted.
func sanitizeIdentifier(name string) string {
	return strings.ReplaceAll(name, "`", "")
}
