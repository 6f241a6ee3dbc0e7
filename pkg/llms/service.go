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

package llms

import (
	"context"
	"fmt"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/config"
)

// PromptRequest is the parcel content of Prompt/LlmService/Services.
type PromptRequest struct {
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	Streaming      bool            `json:"streaming,omitempty"`
}

// PromptReply is the parcel content of a prompt response.
type PromptReply struct {
	Response string `json:"response"`
}

// Service is the LLM service agent: one topic, one configured provider.
// It never validates JSON-mode output; that stays with the caller.
type Service struct {
	agent    *bus.Agent
	provider Provider
	metrics  *bus.Metrics
}

// ServiceOption configures the service agent.
type ServiceOption func(*Service)

// WithServiceMetrics attaches the bus instrument set.
func WithServiceMetrics(m *bus.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService builds the agent; the provider comes from [service.llm] at
// construction so that a bad configuration fails before activation.
func NewService(broker bus.Broker, cfg config.LLMServiceConfig, opts ...ServiceOption) (*Service, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm service: %w", err)
	}
	return newServiceWithProvider(broker, provider, opts...), nil
}

// NewServiceWithProvider builds the agent around an existing provider.
// Tests inject stub providers through here.
func NewServiceWithProvider(broker bus.Broker, provider Provider, opts ...ServiceOption) *Service {
	return newServiceWithProvider(broker, provider, opts...)
}

func newServiceWithProvider(broker bus.Broker, provider Provider, opts ...ServiceOption) *Service {
	s := &Service{provider: provider}
	for _, opt := range opts {
		opt(s)
	}
	s.agent = bus.NewAgent("llm-service", broker,
		bus.WithMetrics(s.metrics),
		bus.WithHooks(bus.Hooks{
			OnActivate: func(context.Context) error {
				return s.agent.Subscribe(bus.TopicLLMPrompt, s.handlePrompt)
			},
		}))
	return s
}

// Agent exposes the underlying agent for lifecycle management.
func (s *Service) Agent() *bus.Agent { return s.agent }

// Start activates the service.
func (s *Service) Start(ctx context.Context) error { return s.agent.Start(ctx) }

// Stop terminates the service.
func (s *Service) Stop() { s.agent.Terminate() }

func (s *Service) handlePrompt(ctx context.Context, _ string, p *bus.Parcel) (*bus.Parcel, error) {
	var req PromptRequest
	if err := p.Decode(&req); err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindLLMInvalidResponse, Message: err.Error()}
	}
	if len(req.Messages) == 0 {
		return nil, &bus.ParcelError{Kind: bus.KindLLMInvalidResponse, Message: "prompt has no messages"}
	}

	s.agent.Logger().Debug("prompt received",
		"messages", len(req.Messages),
		"structured", req.ResponseFormat != nil,
		"prompt_tokens_est", CountMessageTokens(s.provider.Model(), req.Messages))

	response, err := s.provider.GenerateResponse(ctx, req.Messages, req.ResponseFormat)
	if err != nil {
		return nil, bus.WireError(bus.KindTransport, err)
	}

	return bus.NewParcel(map[string]any{"response": response}), nil
}
