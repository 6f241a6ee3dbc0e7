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
	"fmt"
	"strings"
)

const extractionSystemPrompt = `You analyze text and extract structured knowledge from it. ` +
	`You answer with exactly the requested output and nothing else: no commentary, no markdown.`

func factsPrompt(pageText string) string {
	return fmt.Sprintf(`Extract every fact from the context below. A fact is an entity that appears in the text: a noun, a noun phrase, a gerund, a quantity with its unit, or an item of a parenthesized list.

Answer with a single comma-separated list of the facts, in the language of the context.

# context:
%s`, pageText)
}

func conceptsPrompt(facts []string, pageText string) string {
	return fmt.Sprintf(`# facts: %s
# context: %s

Group every fact above under a higher-level concept derived from the context. Every fact must appear under exactly one concept.

Answer with a single JSON object mapping each concept to the array of its facts, for example:
{"waste treatment": ["sorting", "reuse"], "percentage": ["15%%"]}`, quoteList(facts), pageText)
}

func factPairsPrompt(facts []string, pageText string) string {
	return fmt.Sprintf(`# entities: %s
# context: %s

Extract the relationships between the entities as they are stated in the context.

Answer with a single JSON array of [start, relationship, end] triples, for example:
[["Taoyuan City", "contracts out", "bottom ash reuse"], ["15%%", "is share of", "incineration volume"]]`, quoteList(facts), pageText)
}

func aliasesPrompt(names []string) string {
	return fmt.Sprintf(`Provide English aliases for each item in the array below. Answer every item.

Answer with a single JSON object mapping each item to an array of its English aliases, for example:
{"申請書": ["application form"]}

# array: %s`, quoteList(names))
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
