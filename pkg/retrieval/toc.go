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

package retrieval

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Chapter is one table-of-contents entry. Start and End are inclusive
// page bounds; Children nest arbitrarily deep.
type Chapter struct {
	Title    string    `json:"title" yaml:"title"`
	Start    int       `json:"start" yaml:"start"`
	End      int       `json:"end" yaml:"end"`
	Children []Chapter `json:"children,omitempty" yaml:"children,omitempty"`
}

// RootSection is the fallback path for pages no TOC entry covers.
const RootSection = "Root"

// ParseTOC reads a caller-supplied table of contents. YAML is a superset
// of JSON, so both wire forms parse here.
func ParseTOC(data []byte) ([]Chapter, error) {
	var toc []Chapter
	if err := yaml.Unmarshal(data, &toc); err != nil {
		return nil, fmt.Errorf("parse toc: %w", err)
	}
	return toc, nil
}

// LocateSections returns every section path covering the page, one entry
// per matched level: a chapter whose range covers the page emits its own
// path and descends into its children. A page outside the whole TOC maps
// to the Root path.
func LocateSections(page int, toc []Chapter) [][]string {
	sections := findSections(page, toc, nil)
	if len(sections) == 0 {
		sections = [][]string{{RootSection}}
	}
	return sections
}

func findSections(page int, toc []Chapter, parent []string) [][]string {
	var matches [][]string
	for _, ch := range toc {
		if page < ch.Start || page > ch.End {
			continue
		}
		path := make([]string, 0, len(parent)+1)
		path = append(path, parent...)
		path = append(path, ch.Title)

		matches = append(matches, path)
		matches = append(matches, findSections(page, ch.Children, path)...)
	}
	return matches
}
