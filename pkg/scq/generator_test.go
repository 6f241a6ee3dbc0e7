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
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/config"
	"github.com/wastepro/wastepro/pkg/kg"
	"github.com/wastepro/wastepro/pkg/llms"
)

// stubChat replays canned responses in order; an exhausted stub answers "{}".
type stubChat struct {
	responses []string
	calls     int
}

func (c *stubChat) Generate(context.Context, []llms.Message, *llms.ResponseFormat) (string, error) {
	c.calls++
	if len(c.responses) == 0 {
		return "{}", nil
	}
	head := c.responses[0]
	c.responses = c.responses[1:]
	return head, nil
}

const validQuestionJSON = `{
	"stem": "Which material melts into cullet?",
	"option_A": "glass",
	"option_B": "ash",
	"option_C": "sludge",
	"option_D": "slag",
	"answer": "option_A"
}`

// seedStore loads a small handbook graph: one chapter, one concept, two
// facts with a relation between them.
func seedStore(t *testing.T, store *kg.MemoryStore) {
	t.Helper()
	doc := kg.Node{Type: kg.NodeDocument, Name: "handbook"}
	ch1 := kg.Node{Type: kg.NodeStructure, Name: "ch1"}
	recycling := kg.Node{Type: kg.NodeConcept, Name: "recycling"}
	glass := kg.Node{Type: kg.NodeFact, Name: "glass"}
	cullet := kg.Node{Type: kg.NodeFact, Name: "cullet"}

	err := store.AddTriplets(context.Background(), "pdf", "file-1", 0, []kg.Triplet{
		{Subject: ch1, Predicate: kg.Relation{Name: kg.RelPartOf}, Object: doc},
		{Subject: recycling, Predicate: kg.Relation{Name: kg.RelIncludeIn}, Object: doc},
		{Subject: glass, Predicate: kg.Relation{Name: kg.RelIsA}, Object: recycling},
		{Subject: cullet, Predicate: kg.Relation{Name: kg.RelIsA}, Object: recycling},
		{Subject: glass, Predicate: kg.Relation{Name: "melts into"}, Object: cullet},
	})
	require.NoError(t, err)
}

// questionJSON renders a well-formed draft with the given stem.
func questionJSON(stem string) string {
	return fmt.Sprintf(`{"stem": %q, "option_A": "glass", "option_B": "ash", "option_C": "sludge", "option_D": "slag", "answer": "option_A"}`, stem)
}

// startGenerator wires a memory-backed KG service and the generator on one
// broker and returns a caller agent for publishing criteria. With Evaluate
// set, an evaluator joins the broker replaying evalResponses (the accepting
// score set when none are given).
func startGenerator(t *testing.T, store *kg.MemoryStore, chat llms.Chat, cfg config.SCQServiceConfig, evalResponses ...string) *bus.Agent {
	t.Helper()
	ctx := context.Background()

	broker := bus.NewMemoryBroker(0)
	t.Cleanup(func() { broker.Close() })

	orch := kg.NewStaticOrchestrator(config.StaticKGConfig{BoltURL: "bolt://localhost:7687"})
	kgSvc := kg.NewService(broker, config.KGServiceConfig{Orchestrator: "static"},
		kg.WithOrchestrator(orch),
		kg.WithStoreFactory(func(context.Context, kg.AccessPoint) (kg.Store, error) {
			return store, nil
		}))
	require.NoError(t, kgSvc.Start(ctx))
	t.Cleanup(kgSvc.Stop)

	gen, err := NewGenerator(broker, cfg,
		WithChat(chat),
		WithRand(rand.New(rand.NewSource(1))),
		WithStoreOpener(func(context.Context, string) (kg.Store, error) {
			return store, nil
		}))
	require.NoError(t, err)
	require.NoError(t, gen.Start(ctx))
	t.Cleanup(gen.Stop)

	if cfg.Evaluate {
		if len(evalResponses) == 0 {
			evalResponses = []string{validScoresJSON, validScoresJSON, validScoresJSON}
		}
		ev := NewEvaluator(broker, WithEvaluatorChat(&stubChat{responses: evalResponses}))
		require.NoError(t, ev.Start(ctx))
		t.Cleanup(ev.Stop)
	}

	caller := bus.NewAgent("caller", broker)
	require.NoError(t, caller.Start(ctx))
	t.Cleanup(caller.Terminate)
	return caller
}

type createReply struct {
	QuestionCriteria struct {
		QuestionID    string         `json:"question_id"`
		FeatureLevels map[string]int `json:"feature_levels"`
		WeightedGrade float64        `json:"weighted_grade"`
	} `json:"question_criteria"`
	Question Question `json:"question"`
}

func createQuestion(t *testing.T, caller *bus.Agent, criteria map[string]any) createReply {
	t.Helper()
	reply, err := caller.PublishSync(context.Background(), bus.TopicSCQCreate,
		bus.NewParcel(criteria), 5*time.Second)
	require.NoError(t, err)

	var out createReply
	require.NoError(t, reply.Decode(&out))
	return out
}

func TestGeneratorCreatesQuestion(t *testing.T) {
	store := kg.NewMemoryStore()
	seedStore(t, store)
	chat := &stubChat{responses: []string{validQuestionJSON}}
	caller := startGenerator(t, store, chat, config.SCQServiceConfig{})

	out := createQuestion(t, caller, map[string]any{
		"question_id": "Q101",
		"subject":     "waste",
		"document":    "handbook",
		"section":     []string{"ch1"},
		"difficulty":  30,
	})

	assert.Equal(t, "Q101", out.QuestionCriteria.QuestionID)
	require.Len(t, out.QuestionCriteria.FeatureLevels, FeatureCount)
	assert.InDelta(t, 10, out.QuestionCriteria.WeightedGrade, sampleTolerance)

	q := out.Question
	assert.Equal(t, "Which material melts into cullet?", q.Stem)
	options := q.Options()
	assert.ElementsMatch(t, []string{"glass", "ash", "sludge", "slag"}, options[:])
	// Shuffling moved the letter with the text.
	assert.Equal(t, "glass", options[optionIndex(q.Answer)])
	assert.Equal(t, 1, chat.calls)
}

func TestGeneratorNoConcepts(t *testing.T) {
	caller := startGenerator(t, kg.NewMemoryStore(), &stubChat{}, config.SCQServiceConfig{})

	_, err := caller.PublishSync(context.Background(), bus.TopicSCQCreate,
		bus.NewParcel(map[string]any{
			"subject": "waste", "document": "handbook", "difficulty": 30,
		}), 5*time.Second)
	require.Error(t, err)
	var pe *bus.ParcelError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bus.KindNoConcepts, pe.Kind)
}

func TestGeneratorNoTextMaterials(t *testing.T) {
	store := kg.NewMemoryStore()
	// A concept with no facts yields concepts but nothing to write about.
	err := store.AddTriplets(context.Background(), "pdf", "file-1", 0, []kg.Triplet{
		{
			Subject:   kg.Node{Type: kg.NodeConcept, Name: "recycling"},
			Predicate: kg.Relation{Name: kg.RelIncludeIn},
			Object:    kg.Node{Type: kg.NodeDocument, Name: "handbook"},
		},
	})
	require.NoError(t, err)
	caller := startGenerator(t, store, &stubChat{}, config.SCQServiceConfig{})

	_, err = caller.PublishSync(context.Background(), bus.TopicSCQCreate,
		bus.NewParcel(map[string]any{
			"subject": "waste", "document": "handbook", "difficulty": 30,
		}), 5*time.Second)
	require.Error(t, err)
	var pe *bus.ParcelError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bus.KindNoTextMaterials, pe.Kind)
}

func TestGeneratorPlaceholderOnMalformedResponse(t *testing.T) {
	store := kg.NewMemoryStore()
	seedStore(t, store)
	chat := &stubChat{responses: []string{"I would rather write prose than JSON"}}
	caller := startGenerator(t, store, chat, config.SCQServiceConfig{})

	out := createQuestion(t, caller, map[string]any{
		"question_id": "Q102",
		"subject":     "waste",
		"document":    "handbook",
		"difficulty":  30,
	})

	require.True(t, out.Question.IsPlaceholder())
	assert.Equal(t, "D", out.Question.Answer)
}

func TestGeneratorUnsupportedDifficulty(t *testing.T) {
	store := kg.NewMemoryStore()
	seedStore(t, store)
	caller := startGenerator(t, store, &stubChat{}, config.SCQServiceConfig{})

	_, err := caller.PublishSync(context.Background(), bus.TopicSCQCreate,
		bus.NewParcel(map[string]any{
			"subject": "waste", "document": "handbook", "difficulty": 42,
		}), 5*time.Second)
	require.Error(t, err)
	var pe *bus.ParcelError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bus.KindConfigError, pe.Kind)
}

func TestGeneratorEvaluatorLoopAcceptsCloseGrade(t *testing.T) {
	store := kg.NewMemoryStore()
	seedStore(t, store)
	chat := &stubChat{responses: []string{validQuestionJSON, validQuestionJSON, validQuestionJSON}}
	caller := startGenerator(t, store, chat, config.SCQServiceConfig{Evaluate: true})

	// The stub evaluator scores grade 9.2 against target 10, within the
	// acceptance distance, so one draft suffices.
	out := createQuestion(t, caller, map[string]any{
		"question_id": "Q103",
		"subject":     "waste",
		"document":    "handbook",
		"difficulty":  30,
	})

	assert.Equal(t, "Which material melts into cullet?", out.Question.Stem)
	assert.Equal(t, 1, chat.calls)
}

const allThreeScoresJSON = `{
	"stem_technical_term_density": 3,
	"stem_cognitive_level": 3,
	"option_average_length": 3,
	"option_similarity": 3,
	"stem_option_similarity": 3,
	"high_distractor_count": 3
}`

func TestGeneratorEvaluatorLoopRetriesAndKeepsFirstDraft(t *testing.T) {
	store := kg.NewMemoryStore()
	seedStore(t, store)
	chat := &stubChat{responses: []string{
		questionJSON("Which bin takes glass?"),
		questionJSON("Which bin takes ash?"),
		questionJSON("Which bin takes slag?"),
	}}
	caller := startGenerator(t, store, chat, config.SCQServiceConfig{Evaluate: true},
		allThreeScoresJSON, allThreeScoresJSON, allThreeScoresJSON)

	// Every draft grades 21.1 against target 14 (rule level 1 for the
	// short stem, 3 for everything else), far past the acceptance
	// distance, so all attempts burn. With every attempt equally far, the
	// first one wins.
	out := createQuestion(t, caller, map[string]any{
		"question_id": "Q104",
		"subject":     "waste",
		"document":    "handbook",
		"difficulty":  50,
	})

	assert.Equal(t, 3, chat.calls)
	assert.Equal(t, "Which bin takes glass?", out.Question.Stem)
	assert.False(t, out.Question.IsPlaceholder())
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("廢", 10)
	out := truncate(s, 4)
	assert.Equal(t, strings.Repeat("廢", 4)+"...", out)
	assert.True(t, utf8.ValidString(out))

	assert.Equal(t, "short", truncate("short", 10))
}
