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

package scq

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wastepro/wastepro/pkg/bus"
)

const validScoresJSON = `{
	"stem_technical_term_density": 1,
	"stem_cognitive_level": 2,
	"option_average_length": 1,
	"option_similarity": 1,
	"stem_option_similarity": 1,
	"high_distractor_count": 1
}`

func TestGradeStemLength(t *testing.T) {
	// CJK stems grade on characters.
	assert.Equal(t, 1, gradeStemLength(strings.Repeat("廢", 12)))
	assert.Equal(t, 2, gradeStemLength(strings.Repeat("廢", 20)))
	assert.Equal(t, 3, gradeStemLength(strings.Repeat("廢", 40)))

	// Latin stems grade on words.
	assert.Equal(t, 1, gradeStemLength("what is recyclable waste"))
	assert.Equal(t, 2, gradeStemLength(strings.Repeat("word ", 15)))
	assert.Equal(t, 3, gradeStemLength(strings.Repeat("word ", 25)))

	// Mixed text follows the larger count.
	assert.Equal(t, 2, gradeStemLength("the stem "+strings.Repeat("廢", 20)))
}

func TestEvaluateMergesRuleAndModelScores(t *testing.T) {
	chat := &stubChat{responses: []string{validScoresJSON}}
	e := NewEvaluator(bus.NewMemoryBroker(0), WithEvaluatorChat(chat))

	levels, err := e.Evaluate(context.Background(), Question{Stem: "what is recyclable waste"})
	require.NoError(t, err)
	require.Len(t, levels, FeatureCount)
	assert.Equal(t, 1, levels["stem_length"])
	assert.Equal(t, 2, levels["stem_cognitive_level"])
	assert.Equal(t, 1, chat.calls)
}

func TestEvaluateSentinelAfterRetry(t *testing.T) {
	chat := &stubChat{responses: []string{"not json", `{"stem_cognitive_level": 9}`}}
	e := NewEvaluator(bus.NewMemoryBroker(0), WithEvaluatorChat(chat))

	levels, err := e.Evaluate(context.Background(), Question{Stem: "what is recyclable waste"})
	require.NoError(t, err)
	assert.Equal(t, 2, chat.calls)
	for _, key := range FeatureKeys[1:] {
		assert.Equal(t, sentinelLevel, levels[key], "key %s", key)
	}
	// The rule-based grade is untouched by the fallback.
	assert.Equal(t, 1, levels["stem_length"])
}

func TestEvaluatorBusRoundTrip(t *testing.T) {
	ctx := context.Background()

	broker := bus.NewMemoryBroker(0)
	t.Cleanup(func() { broker.Close() })

	e := NewEvaluator(broker, WithEvaluatorChat(&stubChat{responses: []string{validScoresJSON}}))
	require.NoError(t, e.Start(ctx))
	t.Cleanup(e.Stop)

	caller := bus.NewAgent("caller", broker)
	require.NoError(t, caller.Start(ctx))
	t.Cleanup(caller.Terminate)

	p := bus.NewParcel(map[string]any{
		"question_criteria": map[string]any{"question_id": "Q1", "subject": "waste", "difficulty": 50},
		"question": map[string]any{
			"stem":     "what is recyclable waste",
			"option_A": "glass", "option_B": "ash", "option_C": "sludge", "option_D": "slag",
			"answer": "A",
		},
	})
	reply, err := caller.PublishSync(ctx, bus.TopicSCQEvaluate, p, 2*time.Second)
	require.NoError(t, err)

	var out Assessment
	require.NoError(t, reply.Decode(&out))
	assert.Equal(t, "Q1", out.QuestionCriteria.QuestionID)
	assert.Equal(t, "glass", out.Question.OptionA)
	require.Len(t, out.Evaluation, FeatureCount)
	assert.Equal(t, 1, out.Evaluation["stem_length"])
}

func TestEvaluatorRejectsEmptyQuestion(t *testing.T) {
	ctx := context.Background()

	broker := bus.NewMemoryBroker(0)
	t.Cleanup(func() { broker.Close() })

	e := NewEvaluator(broker, WithEvaluatorChat(&stubChat{}))
	require.NoError(t, e.Start(ctx))
	t.Cleanup(e.Stop)

	caller := bus.NewAgent("caller", broker)
	require.NoError(t, caller.Start(ctx))
	t.Cleanup(caller.Terminate)

	_, err := caller.PublishSync(ctx, bus.TopicSCQEvaluate,
		bus.NewParcel(map[string]any{}), 2*time.Second)
	require.Error(t, err)
	var pe *bus.ParcelError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bus.KindConfigError, pe.Kind)
}
