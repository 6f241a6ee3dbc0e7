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
	"encoding/json"
	"fmt"
	"strings"
)

// repairJSON recovers a JSON document from LLM output: markdown fences and
// surrounding prose are stripped, and a response truncated mid-stream is cut
// back to the last position where brackets balance. The result is validated;
// what cannot be recovered comes back as an error for the caller to wrap.
func repairJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	// Markdown fences, with or without a language tag.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", fmt.Errorf("no JSON value in %q", truncateForError(raw))
	}
	s = closeTruncated(s[start:])

	if !json.Valid([]byte(s)) {
		return "", fmt.Errorf("unrecoverable JSON in %q", truncateForError(raw))
	}
	return s, nil
}

// closeTruncated recovers a value cut off mid-stream: the text is trimmed
// back to the last closing bracket and the brackets still open at that
// point are closed. Already-balanced input passes through untouched;
// characters inside strings never count as brackets.
func closeTruncated(s string) string {
	var (
		stack     []byte // pending closers, innermost last
		lastClose = -1   // index after the last close bracket
		lastStack []byte // pending closers at lastClose
		inString  bool
		escaped   bool
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			lastClose = i + 1
			lastStack = append(lastStack[:0], stack...)
		}
	}

	if len(stack) == 0 && !inString {
		return s
	}
	if lastClose < 0 {
		return s
	}

	out := []byte(s[:lastClose])
	for i := len(lastStack) - 1; i >= 0; i-- {
		out = append(out, lastStack[i])
	}
	return string(out)
}

func truncateForError(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
