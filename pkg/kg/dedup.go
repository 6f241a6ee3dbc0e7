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

import "sync"

// dedupTable maps every fact node created per ingest page, keyed
// "<label>-<name>", to its element id. Fact nodes use CREATE, so replaying
// a page (the retriever retries failed pages) would duplicate them without
// this guard; the recorded id also lets relation merges target the exact
// node instead of every same-named fact. Per file: a page-indexed list of
// maps, allocated on first use and grown amortized ×2, never shrunk. One
// process-wide mutex guards allocation, lookup, and record.
type dedupTable struct {
	mu    sync.Mutex
	files map[string][]map[string]string
}

func newDedupTable() *dedupTable {
	return &dedupTable{files: make(map[string][]map[string]string)}
}

// lookup returns the element id recorded for the page's (label, name) key.
func (t *dedupTable) lookup(fileID string, page int, label, name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.page(fileID, page)[label+"-"+name]
	return id, ok
}

// record stores the element id for the page's (label, name) key.
func (t *dedupTable) record(fileID string, page int, label, name, elementID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.page(fileID, page)[label+"-"+name] = elementID
}

// page returns the page's key map, growing the file's list as needed.
// Callers hold the mutex.
func (t *dedupTable) page(fileID string, page int) map[string]string {
	if page < 0 {
		page = 0
	}

	pages := t.files[fileID]
	if page >= len(pages) {
		grown := len(pages) * 2
		if grown <= page {
			grown = page + 1
		}
		next := make([]map[string]string, grown)
		copy(next, pages)
		pages = next
		t.files[fileID] = pages
	}
	if pages[page] == nil {
		pages[page] = make(map[string]string)
	}
	return pages[page]
}
