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
	"encoding/json"
	"fmt"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/llms"
)

// Assessment is the parcel content of Evaluate/SCQ/Evaluation: the question
// with the criteria it was generated under. The reply echoes it back with
// Evaluation filled in.
type Assessment struct {
	QuestionCriteria Criteria       `json:"question_criteria"`
	Question         Question       `json:"question"`
	Evaluation       map[string]int `json:"evaluation,omitempty"`
}

// llmScores carries the model-scored features 2..7. Feature 1 (stem length)
// is graded by rule, not by the model.
type llmScores struct {
	StemTechnicalTermDensity int `json:"stem_technical_term_density" jsonschema:"required,minimum=1,maximum=3"`
	StemCognitiveLevel       int `json:"stem_cognitive_level" jsonschema:"required,minimum=1,maximum=3"`
	OptionAverageLength      int `json:"option_average_length" jsonschema:"required,minimum=1,maximum=3"`
	OptionSimilarity         int `json:"option_similarity" jsonschema:"required,minimum=1,maximum=3"`
	StemOptionSimilarity     int `json:"stem_option_similarity" jsonschema:"required,minimum=1,maximum=3"`
	HighDistractorCount      int `json:"high_distractor_count" jsonschema:"required,minimum=1,maximum=3"`
}

var evaluationFormat = &llms.ResponseFormat{
	Name:   "evaluate_question",
	Schema: llms.MustSchemaFor[llmScores](),
}

const evaluatorSystemPrompt = "You are a helpful exam question evaluator. " +
	"Please evaluate the question according to the feature keys and levels provided. " +
	"Only return your response in JSON format."

const evaluationPromptTemplate = `I have a Single Choice Question (SCQ) in the following JSON structure:
%s

Evaluate the SCQ using these features:
- stem_technical_term_density: 1 = few or no technical terms, 2 = moderate, 3 = many
- stem_cognitive_level: 1 = memorization, 2 = understanding, 3 = analysis or evaluation
- option_average_length: 1 = short (1–5 chars), 2 = medium (3–8), 3 = long (more than 5)
- option_similarity: 1 = low similarity (<30%%), 2 = moderate (~45%%), 3 = high (>60%%)
- stem_option_similarity: 1 = low relevance, 2 = moderate, 3 = high
- high_distractor_count: 1 = 1 strong distractor, 2 = 2, 3 = more than 3

Return only a JSON object like this:
{
    "stem_technical_term_density": 2,
    "stem_cognitive_level": 3,
    "option_average_length": 1,
    "option_similarity": 2,
    "stem_option_similarity": 3,
    "high_distractor_count": 2
}`

// sentinelLevel replaces model scores that never arrived in usable form.
const sentinelLevel = 2

// Evaluator is the question-evaluation service agent.
type Evaluator struct {
	agent   *bus.Agent
	chat    llms.Chat
	metrics *bus.Metrics
}

// EvaluatorOption configures the evaluator agent.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorChat substitutes the LLM surface.
func WithEvaluatorChat(chat llms.Chat) EvaluatorOption {
	return func(e *Evaluator) { e.chat = chat }
}

// WithEvaluatorMetrics attaches the bus instrument set.
func WithEvaluatorMetrics(m *bus.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator builds the evaluator agent.
func NewEvaluator(broker bus.Broker, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}

	e.agent = bus.NewAgent("scq-evaluator", broker,
		bus.WithMetrics(e.metrics),
		bus.WithHooks(bus.Hooks{OnActivate: e.activate}))

	if e.chat == nil {
		e.chat = llms.NewBusClient(e.agent, 0)
	}
	return e
}

// Agent exposes the underlying agent for lifecycle management.
func (e *Evaluator) Agent() *bus.Agent { return e.agent }

// Start activates the evaluator.
func (e *Evaluator) Start(ctx context.Context) error { return e.agent.Start(ctx) }

// Stop terminates the agent.
func (e *Evaluator) Stop() { e.agent.Terminate() }

func (e *Evaluator) activate(context.Context) error {
	return e.agent.Subscribe(bus.TopicSCQEvaluate, e.handleEvaluate)
}

func (e *Evaluator) handleEvaluate(ctx context.Context, _ string, p *bus.Parcel) (*bus.Parcel, error) {
	var assessment Assessment
	if err := p.Decode(&assessment); err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: err.Error()}
	}
	if assessment.Question.Stem == "" {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: "question.stem is required"}
	}

	evaluation, err := e.Evaluate(ctx, assessment.Question)
	if err != nil {
		return nil, err
	}
	assessment.Evaluation = evaluation

	return bus.NewParcel(map[string]any{
		"question_criteria": assessment.QuestionCriteria,
		"question":          assessment.Question,
		"evaluation":        evaluation,
	}), nil
}

// Evaluate grades a question on all seven features: stem length by rule,
// the rest by one model call.
func (e *Evaluator) Evaluate(ctx context.Context, question Question) (map[string]int, error) {
	levels := map[string]int{FeatureKeys[0]: gradeStemLength(question.Stem)}

	scores, err := e.scoreWithModel(ctx, question)
	if err != nil {
		return nil, err
	}
	for key, level := range scores {
		levels[key] = level
	}
	return levels, nil
}

// gradeStemLength grades feature 1 by rule. CJK text is measured in
// characters, everything else in words; whichever count is larger decides
// which scale applies.
func gradeStemLength(stem string) int {
	cjk := countCJK(stem)
	words := countWords(stem)
	if cjk >= words {
		switch {
		case cjk <= 15:
			return 1
		case cjk <= 30:
			return 2
		default:
			return 3
		}
	}
	switch {
	case words <= 10:
		return 1
	case words <= 20:
		return 2
	default:
		return 3
	}
}

// scoreWithModel asks the model to grade features 2..7. One malformed
// response earns a retry; a second one earns the sentinel levels, so an
// uncooperative model degrades the score instead of the pipeline.
func (e *Evaluator) scoreWithModel(ctx context.Context, question Question) (map[string]int, error) {
	questionJSON, err := json.Marshal(question)
	if err != nil {
		return nil, bus.WireError(bus.KindInternal, err)
	}

	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: evaluatorSystemPrompt},
		{Role: llms.RoleUser, Content: fmt.Sprintf(evaluationPromptTemplate, questionJSON)},
	}

	for attempt := 0; attempt < 2; attempt++ {
		response, err := e.chat.Generate(ctx, messages, evaluationFormat)
		if err != nil {
			return nil, bus.WireError(bus.KindLLMInvalidResponse, err)
		}

		scores, ok := parseScores(response)
		if ok {
			return scores, nil
		}
		e.agent.Logger().Warn("malformed evaluation response",
			"attempt", attempt, "response", truncate(response, 120))
	}

	sentinel := make(map[string]int, FeatureCount-1)
	for _, key := range FeatureKeys[1:] {
		sentinel[key] = sentinelLevel
	}
	return sentinel, nil
}

// parseScores validates the model's grading: all six keys, each 1..3.
func parseScores(response string) (map[string]int, bool) {
	var scores llmScores
	if err := json.Unmarshal([]byte(response), &scores); err != nil {
		return nil, false
	}

	out := map[string]int{
		"stem_technical_term_density": scores.StemTechnicalTermDensity,
		"stem_cognitive_level":        scores.StemCognitiveLevel,
		"option_average_length":       scores.OptionAverageLength,
		"option_similarity":           scores.OptionSimilarity,
		"stem_option_similarity":      scores.StemOptionSimilarity,
		"high_distractor_count":       scores.HighDistractorCount,
	}
	for _, level := range out {
		if level < 1 || level > 3 {
			return nil, false
		}
	}
	return out, true
}
