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

package llms

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a JSON schema map from a Go struct type. Field names
// come from json tags; jsonschema tags add descriptions, enums, and numeric
// bounds. The result is self-contained (no $ref, no $schema) so every
// provider can embed it directly in its request.
func SchemaFor[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return nil, fmt.Errorf("unmarshal reflected schema: %w", err)
	}

	delete(schemaMap, "$schema")
	delete(schemaMap, "$id")
	// Strict structured-output endpoints reject open objects.
	if schemaMap["type"] == "object" {
		if _, ok := schemaMap["additionalProperties"]; !ok {
			schemaMap["additionalProperties"] = false
		}
	}
	return schemaMap, nil
}

// MustSchemaFor is SchemaFor for package-level schema variables; reflection
// of a static type failing is a programming error.
func MustSchemaFor[T any]() map[string]any {
	schema, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return schema
}
