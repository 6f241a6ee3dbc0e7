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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTOC() []Chapter {
	return []Chapter{
		{Title: "chapter1", Start: 1, End: 9, Children: []Chapter{
			{Title: "ch1-1", Start: 1, End: 4, Children: []Chapter{
				{Title: "ch1-1-1", Start: 1, End: 2},
				{Title: "ch1-1-2", Start: 2, End: 4},
			}},
			{Title: "ch1-2", Start: 4, End: 9},
		}},
		{Title: "chapter2", Start: 10, End: 15, Children: []Chapter{
			{Title: "ch2-1", Start: 10, End: 12},
			{Title: "ch2-2", Start: 13, End: 15},
		}},
	}
}

func TestLocateSections(t *testing.T) {
	toc := sampleTOC()

	assert.Equal(t, [][]string{
		{"chapter1"},
		{"chapter1", "ch1-1"},
		{"chapter1", "ch1-1", "ch1-1-1"},
		{"chapter1", "ch1-1", "ch1-1-2"},
	}, LocateSections(2, toc))

	assert.Equal(t, [][]string{
		{"chapter1"},
		{"chapter1", "ch1-2"},
	}, LocateSections(5, toc))

	assert.Equal(t, [][]string{
		{"chapter2"},
		{"chapter2", "ch2-1"},
	}, LocateSections(12, toc))

	// No coverage falls back to the Root path.
	assert.Equal(t, [][]string{{RootSection}}, LocateSections(20, toc))
}

func TestParseTOC(t *testing.T) {
	yamlTOC := []byte(`
- title: ch1
  start: 0
  end: 4
  children:
    - title: ch1-2
      start: 2
      end: 4
`)
	toc, err := ParseTOC(yamlTOC)
	require.NoError(t, err)
	require.Len(t, toc, 1)
	assert.Equal(t, "ch1", toc[0].Title)
	require.Len(t, toc[0].Children, 1)
	assert.Equal(t, "ch1-2", toc[0].Children[0].Title)

	// JSON parses through the same path.
	toc, err = ParseTOC([]byte(`[{"title":"a","start":0,"end":1}]`))
	require.NoError(t, err)
	assert.Equal(t, "a", toc[0].Title)

	_, err = ParseTOC([]byte("{not valid"))
	assert.Error(t, err)
}
