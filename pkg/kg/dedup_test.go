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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupRecordThenLookup(t *testing.T) {
	table := newDedupTable()

	_, ok := table.lookup("f1", 3, "fact", "winter")
	assert.False(t, ok)

	table.record("f1", 3, "fact", "winter", "n-1")
	id, ok := table.lookup("f1", 3, "fact", "winter")
	assert.True(t, ok)
	assert.Equal(t, "n-1", id)

	// Same name on another page is fresh.
	_, ok = table.lookup("f1", 4, "fact", "winter")
	assert.False(t, ok)
	// Same name in another file is fresh.
	_, ok = table.lookup("f2", 3, "fact", "winter")
	assert.False(t, ok)
	// Same name under another label is fresh.
	_, ok = table.lookup("f1", 3, "concept", "winter")
	assert.False(t, ok)
}

func TestDedupGrowthKeepsEarlierPages(t *testing.T) {
	table := newDedupTable()

	table.record("f1", 0, "fact", "a", "n-1")
	// Force several growth steps.
	table.record("f1", 7, "fact", "b", "n-2")
	table.record("f1", 63, "fact", "c", "n-3")

	// Earlier entries survive reallocation.
	id, ok := table.lookup("f1", 0, "fact", "a")
	assert.True(t, ok)
	assert.Equal(t, "n-1", id)
	id, ok = table.lookup("f1", 7, "fact", "b")
	assert.True(t, ok)
	assert.Equal(t, "n-2", id)
}

func TestDedupConcurrentAccess(t *testing.T) {
	table := newDedupTable()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, ok := table.lookup("f1", page, "fact", "shared"); !ok {
					table.record("f1", page, "fact", "shared", fmt.Sprintf("n-%d", page))
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		id, ok := table.lookup("f1", i, "fact", "shared")
		assert.True(t, ok)
		assert.Equal(t, fmt.Sprintf("n-%d", i), id)
	}
}
