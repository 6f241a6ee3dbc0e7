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
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/config"
)

// CreateRequest is the parcel content of Create/KGService/Services.
type CreateRequest struct {
	KGName string `json:"kg_name"`
}

// CreateReply announces the new subject's endpoints and its merge topic.
type CreateReply struct {
	KGName           string `json:"kg_name"`
	HTTPURL          string `json:"http_url"`
	BoltURL          string `json:"bolt_url"`
	TopicTripletsAdd string `json:"topic_triplets_add"`
}

// AddTripletsRequest is the parcel content of the per-subject merge topic.
type AddTripletsRequest struct {
	SourceType string    `json:"source_type"`
	FileID     string    `json:"file_id"`
	PageNumber int       `json:"page_number"`
	KGName     string    `json:"kg_name"`
	Triplets   []Triplet `json:"triplets"`
}

// QueryRequest is the parcel content of the concepts and sections queries.
type QueryRequest struct {
	KGName   string   `json:"kg_name"`
	Document string   `json:"document"`
	Section  []string `json:"section,omitempty"`
}

// StoreFactory opens a Store against a subject's endpoints. The default
// dials Bolt; tests substitute MemoryStore.
type StoreFactory func(ctx context.Context, access AccessPoint) (Store, error)

// Service is the knowledge-graph service agent. It owns the per-subject
// instance lifecycle through the orchestrator and answers the graph topics;
// Store handles are opened lazily per subject and cached.
type Service struct {
	agent        *bus.Agent
	orchestrator Orchestrator
	storeFactory StoreFactory
	metrics      *bus.Metrics

	mu     sync.Mutex
	stores map[string]Store
}

// ServiceOption configures the service agent.
type ServiceOption func(*Service)

// WithOrchestrator substitutes the instance orchestrator.
func WithOrchestrator(o Orchestrator) ServiceOption {
	return func(s *Service) { s.orchestrator = o }
}

// WithStoreFactory substitutes the store constructor.
func WithStoreFactory(f StoreFactory) ServiceOption {
	return func(s *Service) { s.storeFactory = f }
}

// WithServiceMetrics attaches the bus instrument set.
func WithServiceMetrics(m *bus.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService builds the agent from the [service.kg] table.
func NewService(broker bus.Broker, cfg config.KGServiceConfig, opts ...ServiceOption) *Service {
	s := &Service{stores: make(map[string]Store)}
	for _, opt := range opts {
		opt(s)
	}

	s.agent = bus.NewAgent("kg-service", broker,
		bus.WithMetrics(s.metrics),
		bus.WithHooks(bus.Hooks{OnActivate: s.activate}))

	if s.orchestrator == nil {
		if cfg.Orchestrator == "static" {
			s.orchestrator = NewStaticOrchestrator(cfg.Static)
		} else {
			s.orchestrator = NewDockerOrchestrator(cfg, s.agent.Logger())
		}
	}
	if s.storeFactory == nil {
		username, password := "", ""
		if cfg.Orchestrator == "static" {
			username, password = cfg.Static.Username, cfg.Static.Password
		}
		s.storeFactory = func(ctx context.Context, access AccessPoint) (Store, error) {
			return NewNeo4jStore(ctx, access.BoltURL, username, password)
		}
	}
	return s
}

// Agent exposes the underlying agent for lifecycle management.
func (s *Service) Agent() *bus.Agent { return s.agent }

// Start activates the service.
func (s *Service) Start(ctx context.Context) error { return s.agent.Start(ctx) }

// Stop terminates the agent and closes every cached store.
func (s *Service) Stop() {
	s.agent.Terminate()

	s.mu.Lock()
	stores := s.stores
	s.stores = make(map[string]Store)
	s.mu.Unlock()

	for name, store := range stores {
		if err := store.Close(context.Background()); err != nil {
			s.agent.Logger().Warn("store close failed", "kg", name, "error", err)
		}
	}
}

// activate registers the service topics and pre-subscribes the merge topic
// of every subject the orchestrator already knows.
func (s *Service) activate(ctx context.Context) error {
	if err := s.agent.Subscribe(bus.TopicKGCreate, s.handleCreate); err != nil {
		return err
	}
	if err := s.agent.Subscribe(bus.TopicKGAccessPoint, s.handleAccessPoint); err != nil {
		return err
	}
	if err := s.agent.Subscribe(bus.TopicConceptsQuery, s.handleConcepts); err != nil {
		return err
	}
	if err := s.agent.Subscribe(bus.TopicSectionsQuery, s.handleSections); err != nil {
		return err
	}

	names, err := s.orchestrator.List(ctx)
	if err != nil {
		return fmt.Errorf("list subjects: %w", err)
	}
	s.agent.Logger().Info("existing subjects", "kgs", names)
	for _, name := range names {
		if err := s.agent.Subscribe(bus.TripletsAddTopic(name), s.handleAddTriplets); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleCreate(ctx context.Context, _ string, p *bus.Parcel) (*bus.Parcel, error) {
	var req CreateRequest
	if err := p.Decode(&req); err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: err.Error()}
	}
	if req.KGName == "" {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: "kg_name is required"}
	}

	access, err := s.orchestrator.Create(ctx, req.KGName)
	if err != nil {
		return nil, bus.WireError(bus.KindInternal, err)
	}

	topicAdd := bus.TripletsAddTopic(req.KGName)
	if err := s.agent.Subscribe(topicAdd, s.handleAddTriplets); err != nil {
		return nil, bus.WireError(bus.KindInternal, err)
	}

	return bus.NewParcel(map[string]any{
		"kg_name":            req.KGName,
		"http_url":           access.HTTPURL,
		"bolt_url":           access.BoltURL,
		"topic_triplets_add": topicAdd,
	}), nil
}

func (s *Service) handleAccessPoint(ctx context.Context, _ string, p *bus.Parcel) (*bus.Parcel, error) {
	var req CreateRequest
	if err := p.Decode(&req); err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: err.Error()}
	}
	if req.KGName == "" {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: "kg_name is required"}
	}

	access, err := s.orchestrator.Create(ctx, req.KGName)
	if err != nil {
		return nil, bus.WireError(bus.KindInternal, err)
	}

	return bus.NewParcel(map[string]any{
		"http_url": access.HTTPURL,
		"bolt_url": access.BoltURL,
	}), nil
}

func (s *Service) handleAddTriplets(ctx context.Context, topic string, p *bus.Parcel) (*bus.Parcel, error) {
	var req AddTripletsRequest
	if err := p.Decode(&req); err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindKGQueryFailed, Message: err.Error()}
	}
	if req.KGName == "" {
		// The merge topic is prefixed with the subject name.
		req.KGName = strings.SplitN(topic, "/", 2)[0]
	}

	store, err := s.storeFor(ctx, req.KGName)
	if err != nil {
		return nil, bus.WireError(bus.KindKGQueryFailed, err)
	}
	if err := store.AddTriplets(ctx, req.SourceType, req.FileID, req.PageNumber, req.Triplets); err != nil {
		return nil, bus.WireError(bus.KindKGQueryFailed, err)
	}

	return bus.NewParcel(map[string]any{
		"kg_name": req.KGName,
		"file_id": req.FileID,
		"merged":  len(req.Triplets),
	}), nil
}

func (s *Service) handleConcepts(ctx context.Context, _ string, p *bus.Parcel) (*bus.Parcel, error) {
	req, store, err := s.decodeQuery(ctx, p)
	if err != nil {
		return nil, err
	}

	refs, err := store.Concepts(ctx, req.Document, req.Section)
	if err != nil {
		return nil, bus.WireError(bus.KindKGQueryFailed, err)
	}
	return bus.NewParcel(map[string]any{"concepts": refsToMaps(refs)}), nil
}

func (s *Service) handleSections(ctx context.Context, _ string, p *bus.Parcel) (*bus.Parcel, error) {
	req, store, err := s.decodeQuery(ctx, p)
	if err != nil {
		return nil, err
	}

	refs, err := store.LeafSections(ctx, req.Document, req.Section)
	if err != nil {
		return nil, bus.WireError(bus.KindKGQueryFailed, err)
	}
	return bus.NewParcel(map[string]any{"sections": refsToMaps(refs)}), nil
}

func (s *Service) decodeQuery(ctx context.Context, p *bus.Parcel) (QueryRequest, Store, error) {
	var req QueryRequest
	if err := p.Decode(&req); err != nil {
		return req, nil, &bus.ParcelError{Kind: bus.KindKGQueryFailed, Message: err.Error()}
	}
	if req.KGName == "" {
		return req, nil, &bus.ParcelError{Kind: bus.KindKGQueryFailed, Message: "kg_name is required"}
	}

	store, err := s.storeFor(ctx, req.KGName)
	if err != nil {
		return req, nil, bus.WireError(bus.KindKGQueryFailed, err)
	}
	return req, store, nil
}

// storeFor returns the cached store for the subject, starting its instance
// and dialing it on first use.
func (s *Service) storeFor(ctx context.Context, kgName string) (Store, error) {
	s.mu.Lock()
	store, ok := s.stores[kgName]
	s.mu.Unlock()
	if ok {
		return store, nil
	}

	access, err := s.orchestrator.Create(ctx, kgName)
	if err != nil {
		return nil, fmt.Errorf("start instance for %s: %w", kgName, err)
	}
	store, err = s.storeFactory(ctx, access)
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", kgName, err)
	}

	s.mu.Lock()
	if existing, ok := s.stores[kgName]; ok {
		s.mu.Unlock()
		_ = store.Close(ctx)
		return existing, nil
	}
	s.stores[kgName] = store
	s.mu.Unlock()
	return store, nil
}

func refsToMaps(refs []NodeRef) []map[string]any {
	out := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		out = append(out, map[string]any{"element_id": ref.ElementID, "name": ref.Name})
	}
	return out
}
