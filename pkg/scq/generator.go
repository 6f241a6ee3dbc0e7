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
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/config"
	"github.com/wastepro/wastepro/pkg/kg"
	"github.com/wastepro/wastepro/pkg/llms"
)

const (
	// materialDraws caps the rank-and-collect rounds per question.
	materialDraws = 10
	// generateAttempts caps full generate-evaluate rounds when the
	// evaluator loop is on.
	generateAttempts = 3
	// acceptDistance is the widest |G(v') - T| the evaluator loop accepts.
	acceptDistance = 1.5
	// evaluateTimeout bounds one evaluator round trip.
	evaluateTimeout = 5 * time.Minute
)

// questionFormat is the strict schema handed to the model for generation.
var questionFormat = &llms.ResponseFormat{
	Name:   "generate_question",
	Schema: llms.MustSchemaFor[Question](),
}

const generatorSystemPrompt = "You are a helpful exam question generator. " +
	"Please provide your response in JSON format."

const generationInstructions = `You are an exam question creator tasked with generating multiple-choice questions based on the given features and text. Follow these instructions carefully:
1.Create single-answer multiple-choice questions (4 options: A, B, C, D).
2.Include the correct answer and ensure the correct option is distributed randomly (not concentrated in A).
3.Do not provide explanations or analysis of the questions or answers.
4.Output the result in a table format with the following headers:
    - Stem
    - Option A
    - Option B
    - Option C
    - Option D
    - Answer (only indicate the correct option: A, B, C, or D).`

// StoreOpener dials the graph store of a subject. The default resolves the
// access point over the bus and connects Bolt; tests substitute MemoryStore.
type StoreOpener func(ctx context.Context, kgName string) (kg.Store, error)

// Generator is the question-generation service agent.
type Generator struct {
	agent     *bus.Agent
	kgClient  *kg.Client
	chat      llms.Chat
	ranker    Ranker
	openStore StoreOpener
	evaluate  bool
	rng       *rand.Rand
	metrics   *bus.Metrics

	mu     sync.Mutex
	stores map[string]kg.Store
}

// GeneratorOption configures the generator agent.
type GeneratorOption func(*Generator)

// WithChat substitutes the LLM surface.
func WithChat(chat llms.Chat) GeneratorOption {
	return func(g *Generator) { g.chat = chat }
}

// WithStoreOpener substitutes the graph store dialer.
func WithStoreOpener(open StoreOpener) GeneratorOption {
	return func(g *Generator) { g.openStore = open }
}

// WithRanker substitutes the configured ranker.
func WithRanker(r Ranker) GeneratorOption {
	return func(g *Generator) { g.ranker = r }
}

// WithRand fixes the randomness source, for reproducible tests.
func WithRand(rng *rand.Rand) GeneratorOption {
	return func(g *Generator) { g.rng = rng }
}

// WithGeneratorMetrics attaches the bus instrument set.
func WithGeneratorMetrics(m *bus.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

// NewGenerator builds the agent from the [service.scq] table.
func NewGenerator(broker bus.Broker, cfg config.SCQServiceConfig, opts ...GeneratorOption) (*Generator, error) {
	g := &Generator{
		evaluate: cfg.Evaluate,
		stores:   make(map[string]kg.Store),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.agent = bus.NewAgent("scq-generator", broker,
		bus.WithMetrics(g.metrics),
		bus.WithHooks(bus.Hooks{OnActivate: g.activate}))
	g.kgClient = kg.NewClient(g.agent)

	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if g.ranker == nil {
		ranker, err := NewRanker(cfg.Ranker, g.rng)
		if err != nil {
			return nil, err
		}
		g.ranker = ranker
	}
	if g.chat == nil {
		g.chat = llms.NewBusClient(g.agent, 0)
	}
	if g.openStore == nil {
		g.openStore = func(ctx context.Context, kgName string) (kg.Store, error) {
			access, err := g.kgClient.AccessPoint(ctx, kgName)
			if err != nil {
				return nil, err
			}
			return kg.NewNeo4jStore(ctx, access.BoltURL, "", "")
		}
	}
	return g, nil
}

// Agent exposes the underlying agent for lifecycle management.
func (g *Generator) Agent() *bus.Agent { return g.agent }

// Start activates the generator.
func (g *Generator) Start(ctx context.Context) error { return g.agent.Start(ctx) }

// Stop terminates the agent and closes every cached store.
func (g *Generator) Stop() {
	g.agent.Terminate()

	g.mu.Lock()
	stores := g.stores
	g.stores = make(map[string]kg.Store)
	g.mu.Unlock()

	for name, store := range stores {
		if err := store.Close(context.Background()); err != nil {
			g.agent.Logger().Warn("store close failed", "kg", name, "error", err)
		}
	}
}

func (g *Generator) activate(context.Context) error {
	return g.agent.Subscribe(bus.TopicSCQCreate, g.handleCreate)
}

func (g *Generator) handleCreate(ctx context.Context, _ string, p *bus.Parcel) (*bus.Parcel, error) {
	var criteria Criteria
	if err := p.Decode(&criteria); err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: err.Error()}
	}
	if criteria.Subject == "" || criteria.Document == "" {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: "subject and document are required"}
	}
	target, err := DifficultyTarget(criteria.Difficulty)
	if err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: err.Error()}
	}

	question, vector, err := g.generate(ctx, criteria, target)
	if err != nil {
		return nil, err
	}

	return bus.NewParcel(map[string]any{
		"question_criteria": map[string]any{
			"question_id":    criteria.QuestionID,
			"subject":        criteria.Subject,
			"document":       criteria.Document,
			"section":        criteria.Section,
			"difficulty":     criteria.Difficulty,
			"feature_levels": FeatureLevels(vector),
			"weighted_grade": WeightedGrade(vector),
		},
		"question": question,
	}), nil
}

// generate runs the full procedure: materials, feature sample, model call,
// and the optional evaluator acceptance loop. When no attempt is accepted
// the closest one wins.
func (g *Generator) generate(ctx context.Context, criteria Criteria, target float64) (Question, [FeatureCount]int, error) {
	materials, err := g.collectMaterials(ctx, criteria)
	if err != nil {
		return Question{}, [FeatureCount]int{}, err
	}

	attempts := 1
	if g.evaluate {
		attempts = generateAttempts
	}

	var (
		best         Question
		bestVector   [FeatureCount]int
		bestDistance = math.Inf(1)
	)
	for attempt := 0; attempt < attempts; attempt++ {
		vector := SampleFeatureVector(target, g.rng)
		question, err := g.draftQuestion(ctx, criteria, vector, materials)
		if err != nil {
			return Question{}, [FeatureCount]int{}, err
		}

		if question.IsPlaceholder() || !g.evaluate {
			if bestDistance == math.Inf(1) {
				best, bestVector = question, vector
			}
			if !g.evaluate {
				return question, vector, nil
			}
			continue
		}

		scored, err := g.evaluateQuestion(ctx, criteria, question)
		if err != nil {
			// A dead evaluator should not sink a usable question.
			g.agent.Logger().Warn("evaluation failed, accepting unevaluated question",
				"question_id", criteria.QuestionID, "error", err)
			return question, vector, nil
		}

		distance := math.Abs(WeightedGrade(scored) - target)
		g.agent.Logger().Debug("question evaluated",
			"question_id", criteria.QuestionID, "attempt", attempt,
			"grade", WeightedGrade(scored), "target", target)
		if distance <= acceptDistance {
			return question, vector, nil
		}
		if distance < bestDistance {
			best, bestVector, bestDistance = question, vector, distance
		}
	}
	return best, bestVector, nil
}

// collectMaterials ranks concepts and facts and flattens the fact
// neighborhoods into text lines, drawing repeatedly until enough unique
// lines accumulate.
func (g *Generator) collectMaterials(ctx context.Context, criteria Criteria) ([]string, error) {
	concepts, err := g.kgClient.Concepts(ctx, criteria.Subject, criteria.Document, criteria.Section)
	if err != nil {
		return nil, bus.WireError(bus.KindKGQueryFailed, err)
	}
	if len(concepts) == 0 {
		return nil, &bus.ParcelError{
			Kind:    bus.KindNoConcepts,
			Message: fmt.Sprintf("no concepts for document %q", criteria.Document),
		}
	}

	store, err := g.storeFor(ctx, criteria.Subject)
	if err != nil {
		return nil, bus.WireError(bus.KindKGQueryFailed, err)
	}

	want := materialsTarget(criteria.Difficulty)
	seen := make(map[string]struct{})
	var materials []string
	for draw := 0; draw < materialDraws && len(materials) < want; draw++ {
		for _, concept := range g.ranker.RankConcepts(concepts) {
			facts, err := store.FactsOfConcept(ctx, concept.ElementID)
			if err != nil {
				return nil, bus.WireError(bus.KindKGQueryFailed, err)
			}
			for _, fact := range g.ranker.RankFacts(facts) {
				texts, err := store.FactNeighborTexts(ctx, fact.ElementID)
				if err != nil {
					return nil, bus.WireError(bus.KindKGQueryFailed, err)
				}
				for _, text := range texts {
					if _, dup := seen[text]; dup {
						continue
					}
					seen[text] = struct{}{}
					materials = append(materials, text)
				}
			}
		}
	}

	if len(materials) == 0 {
		return nil, &bus.ParcelError{
			Kind:    bus.KindNoTextMaterials,
			Message: fmt.Sprintf("no text materials for document %q", criteria.Document),
		}
	}
	return materials, nil
}

// materialsTarget scales the wanted material count with difficulty.
func materialsTarget(difficulty int) int {
	if t := difficulty / 3; t > 10 {
		return t
	}
	return 10
}

// draftQuestion prompts the model once and normalizes the result. Output
// the model ruined becomes the placeholder, never an error.
func (g *Generator) draftQuestion(ctx context.Context, criteria Criteria, vector [FeatureCount]int, materials []string) (Question, error) {
	prompt := fmt.Sprintf("%s\n\nFeatures:\n%s\n\nText:\n%s\nPlease provide your response in JSON format.",
		generationInstructions, featuresPrompt(vector), strings.Join(materials, "\n\n"))

	response, err := g.chat.Generate(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: generatorSystemPrompt},
		{Role: llms.RoleUser, Content: prompt},
	}, questionFormat)
	if err != nil {
		return Question{}, bus.WireError(bus.KindLLMInvalidResponse, err)
	}

	question, ok := parseQuestion(response)
	if !ok || question.Stem == "" {
		g.agent.Logger().Warn("model returned malformed question, substituting placeholder",
			"response", truncate(response, 120))
		return placeholderQuestion(criteria), nil
	}
	return shuffleOptions(normalizeQuestion(question), g.rng), nil
}

// parseQuestion unmarshals the model's JSON, tolerating markdown fences.
func parseQuestion(response string) (Question, bool) {
	s := strings.TrimSpace(response)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	var question Question
	if err := json.Unmarshal([]byte(s), &question); err != nil {
		return Question{}, false
	}
	return question, true
}

// evaluateQuestion round-trips the question through the evaluator agent and
// returns the scored feature vector.
func (g *Generator) evaluateQuestion(ctx context.Context, criteria Criteria, question Question) ([FeatureCount]int, error) {
	p := bus.NewParcel(map[string]any{
		"question_criteria": criteria,
		"question":          question,
	})
	reply, err := g.agent.PublishSync(ctx, bus.TopicSCQEvaluate, p, evaluateTimeout)
	if err != nil {
		return [FeatureCount]int{}, err
	}

	var out struct {
		Evaluation map[string]int `json:"evaluation"`
	}
	if err := reply.Decode(&out); err != nil {
		return [FeatureCount]int{}, err
	}
	return VectorFromLevels(out.Evaluation), nil
}

// storeFor returns the cached store for the subject, dialing on first use.
func (g *Generator) storeFor(ctx context.Context, kgName string) (kg.Store, error) {
	g.mu.Lock()
	store, ok := g.stores[kgName]
	g.mu.Unlock()
	if ok {
		return store, nil
	}

	store, err := g.openStore(ctx, kgName)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if existing, ok := g.stores[kgName]; ok {
		g.mu.Unlock()
		_ = store.Close(ctx)
		return existing, nil
	}
	g.stores[kgName] = store
	g.mu.Unlock()
	return store, nil
}

// truncate shortens log excerpts on rune boundaries; much of the logged
// model output is CJK text where byte slicing would split characters.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
