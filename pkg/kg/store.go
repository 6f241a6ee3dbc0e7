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

	"github.com/neo4j/neo4j-go-driver/v6/neo4j"
)

// Store is the graph surface the KG service and the question generator
// depend on. Neo4jStore is the production implementation; tests use
// MemoryStore.
type Store interface {
	// AddTriplets merges one page's triplets: fact nodes CREATE (guarded
	// by the page dedup table), everything else MERGE by (label, name),
	// relations MERGE.
	AddTriplets(ctx context.Context, sourceType, fileID string, page int, triplets []Triplet) error
	// Concepts returns the concepts of a document, optionally narrowed by
	// a section path. A section that resolves to nothing falls back to
	// the document-level set.
	Concepts(ctx context.Context, document string, section []string) ([]NodeRef, error)
	// LeafSections returns the structure leaves under the section path
	// (the whole document when the path is empty).
	LeafSections(ctx context.Context, document string, section []string) ([]NodeRef, error)
	// FactsOfConcept returns the facts bound to the concept via is_a.
	FactsOfConcept(ctx context.Context, conceptElementID string) ([]NodeRef, error)
	// FactNeighborTexts flattens the 1-hop fact-to-fact paths around the
	// fact into "<name> <relation> <name>" strings.
	FactNeighborTexts(ctx context.Context, factElementID string) ([]string, error)
	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// Neo4jStore talks Bolt to one subject's Neo4j instance.
type Neo4jStore struct {
	driver neo4j.Driver
	dedup  *dedupTable
}

// NewNeo4jStore connects to boltURL and verifies connectivity. Empty
// username skips authentication (the reference deployment disables it).
func NewNeo4jStore(ctx context.Context, boltURL, username, password string) (*Neo4jStore, error) {
	auth := neo4j.NoAuth()
	if username != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}

	driver, err := neo4j.NewDriver(boltURL, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver for %s: %w", boltURL, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity at %s: %w", boltURL, err)
	}

	return &Neo4jStore{driver: driver, dedup: newDedupTable()}, nil
}

// Close shuts the driver down.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// AddTriplets writes one page's triplets through a single session. The
// session stays on this goroutine for its whole life.
func (s *Neo4jStore) AddTriplets(ctx context.Context, sourceType, fileID string, page int, triplets []Triplet) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, triplet := range triplets {
		subjectID, err := s.upsertNode(ctx, session, triplet.Subject, sourceType, fileID, page)
		if err != nil {
			return err
		}
		objectID, err := s.upsertNode(ctx, session, triplet.Object, sourceType, fileID, page)
		if err != nil {
			return err
		}
		if err := s.mergeRelation(ctx, session, triplet.Predicate.Name, subjectID, objectID); err != nil {
			return err
		}
	}
	return nil
}

// upsertNode writes the node and returns its element id. Same-named facts
// from other pages are distinct nodes, so relations attach by id rather
// than by name.
func (s *Neo4jStore) upsertNode(ctx context.Context, session neo4j.Session, node Node, sourceType, fileID string, page int) (string, error) {
	label := sanitizeIdentifier(node.Type)
	props := map[string]any{
		"name":        node.Name,
		"source_type": sourceType,
		"file_id":     fileID,
		"page_number": page,
	}
	if len(node.Aliases) > 0 {
		props["aliases"] = node.Aliases
	}
	for k, v := range node.Meta {
		props[k] = v
	}

	if node.IsFact() {
		if id, ok := s.dedup.lookup(fileID, page, node.Type, node.Name); ok {
			return id, nil
		}
		query := fmt.Sprintf("CREATE (n:`%s`) SET n = $props RETURN elementId(n) AS element_id", label)
		id, err := s.runReturningID(ctx, session, query, map[string]any{"props": props})
		if err != nil {
			return "", fmt.Errorf("create %s node %q: %w", node.Type, node.Name, err)
		}
		s.dedup.record(fileID, page, node.Type, node.Name, id)
		return id, nil
	}

	query := fmt.Sprintf("MERGE (n:`%s` {name: $name}) SET n += $props RETURN elementId(n) AS element_id", label)
	id, err := s.runReturningID(ctx, session, query, map[string]any{"name": node.Name, "props": props})
	if err != nil {
		return "", fmt.Errorf("merge %s node %q: %w", node.Type, node.Name, err)
	}
	return id, nil
}

func (s *Neo4jStore) mergeRelation(ctx context.Context, session neo4j.Session, relation, subjectID, objectID string) error {
	query := fmt.Sprintf(`
		MATCH (s) WHERE elementId(s) = $subject_id
		MATCH (o) WHERE elementId(o) = $object_id
		MERGE (s)-[r:`+"`%s`"+`]->(o)`,
		sanitizeIdentifier(relation))

	_, err := session.Run(ctx, query, map[string]any{
		"subject_id": subjectID,
		"object_id":  objectID,
	})
	if err != nil {
		return fmt.Errorf("merge relation %s: %w", relation, err)
	}
	return nil
}

func (s *Neo4jStore) runReturningID(ctx context.Context, session neo4j.Session, query string, params map[string]any) (string, error) {
	result, err := session.Run(ctx, query, params)
	if err != nil {
		return "", err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return "", err
	}
	value, _ := record.Get("element_id")
	id, _ := value.(string)
	return id, nil
}

const conceptsOfDocumentQuery = `
	MATCH (c:concept)-[:include_in]->(d:document {name: $document})
	RETURN DISTINCT elementId(c) AS element_id, c.name AS name`

const conceptsOfSectionQuery = `
	MATCH (root:structure {name: $root})-[:part_of*1..]->(:document {name: $document})
	MATCH (desc:structure)-[:part_of*0..]->(root)
	MATCH (c:concept)-[:include_in]->(desc)
	RETURN DISTINCT elementId(c) AS element_id, c.name AS name`

// Concepts unions the document-level concepts with the ones bound under
// the section path, deduplicated by element id.
func (s *Neo4jStore) Concepts(ctx context.Context, document string, section []string) ([]NodeRef, error) {
	docRefs, err := s.queryRefs(ctx, conceptsOfDocumentQuery, map[string]any{"document": document})
	if err != nil {
		return nil, err
	}
	if len(section) == 0 {
		return docRefs, nil
	}

	sectionRefs, err := s.queryRefs(ctx, conceptsOfSectionQuery, map[string]any{
		"document": document,
		"root":     section[len(section)-1],
	})
	if err != nil {
		return nil, err
	}

	return unionRefs(docRefs, sectionRefs), nil
}

const leafSectionsOfDocumentQuery = `
	MATCH (leaf:structure)-[:part_of*1..]->(:document {name: $document})
	WHERE NOT (:structure)-[:part_of]->(leaf)
	RETURN DISTINCT elementId(leaf) AS element_id, leaf.name AS name`

const leafSectionsOfSectionQuery = `
	MATCH (root:structure {name: $root})-[:part_of*1..]->(:document {name: $document})
	MATCH (leaf:structure)-[:part_of*0..]->(root)
	WHERE NOT (:structure)-[:part_of]->(leaf)
	RETURN DISTINCT elementId(leaf) AS element_id, leaf.name AS name`

// LeafSections resolves the structure leaves, recursing over inverse
// part_of from the section path root (the document when the path is empty).
func (s *Neo4jStore) LeafSections(ctx context.Context, document string, section []string) ([]NodeRef, error) {
	if len(section) == 0 {
		return s.queryRefs(ctx, leafSectionsOfDocumentQuery, map[string]any{"document": document})
	}
	return s.queryRefs(ctx, leafSectionsOfSectionQuery, map[string]any{
		"document": document,
		"root":     section[len(section)-1],
	})
}

const factsOfConceptQuery = `
	MATCH (c:concept) WHERE elementId(c) = $element_id
	MATCH (f:fact)-[:is_a]->(c)
	RETURN elementId(f) AS element_id, f.name AS name`

// FactsOfConcept walks the is_a inverse from the concept.
func (s *Neo4jStore) FactsOfConcept(ctx context.Context, conceptElementID string) ([]NodeRef, error) {
	return s.queryRefs(ctx, factsOfConceptQuery, map[string]any{"element_id": conceptElementID})
}

const factNeighborsQuery = `
	MATCH p = (start:fact)-[*1..1]-(other:fact)
	WHERE elementId(start) = $element_id
	RETURN p`

// FactNeighborTexts renders each relationship on the 1-hop paths around
// the fact as "<start name> <relation> <end name>".
func (s *Neo4jStore) FactNeighborTexts(ctx context.Context, factElementID string) ([]string, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, factNeighborsQuery,
		map[string]any{"element_id": factElementID}, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("query fact neighbors: %w", err)
	}

	seen := make(map[string]struct{})
	var texts []string
	for _, record := range result.Records {
		value, ok := record.Get("p")
		if !ok {
			continue
		}
		path, ok := value.(neo4j.Path)
		if !ok {
			continue
		}

		names := make(map[string]string, len(path.Nodes))
		for _, node := range path.Nodes {
			if name, ok := node.Props["name"].(string); ok {
				names[node.ElementId] = name
			}
		}
		for _, rel := range path.Relationships {
			text := fmt.Sprintf("%s %s %s", names[rel.StartElementId], rel.Type, names[rel.EndElementId])
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			texts = append(texts, text)
		}
	}
	return texts, nil
}

func (s *Neo4jStore) queryRefs(ctx context.Context, query string, params map[string]any) ([]NodeRef, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("graph query: %w", err)
	}

	refs := make([]NodeRef, 0, len(result.Records))
	for _, record := range result.Records {
		m := record.AsMap()
		ref := NodeRef{}
		if id, ok := m["element_id"].(string); ok {
			ref.ElementID = id
		}
		if name, ok := m["name"].(string); ok {
			ref.Name = name
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func unionRefs(lists ...[]NodeRef) []NodeRef {
	seen := make(map[string]struct{})
	var union []NodeRef
	for _, list := range lists {
		for _, ref := range list {
			if _, ok := seen[ref.ElementID]; ok {
				continue
			}
			seen[ref.ElementID] = struct{}{}
			union = append(union, ref)
		}
	}
	return union
}
