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
	"time"

	"github.com/wastepro/wastepro/pkg/bus"
)

// Chat is the consumer-side LLM surface: the extractor and question
// generator speak this, not the provider interface, so their LLM access can
// ride the bus or a stub equally.
type Chat interface {
	Generate(ctx context.Context, messages []Message, format *ResponseFormat) (string, error)
}

// DefaultPromptTimeout bounds one bus round trip to the LLM service.
const DefaultPromptTimeout = 120 * time.Second

// BusClient is a Chat that forwards prompts over the message fabric to
// whichever process runs the LLM service.
type BusClient struct {
	agent   *bus.Agent
	timeout time.Duration
}

// NewBusClient wraps the calling agent. The timeout applies per request;
// zero means DefaultPromptTimeout.
func NewBusClient(agent *bus.Agent, timeout time.Duration) *BusClient {
	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}
	return &BusClient{agent: agent, timeout: timeout}
}

// Generate publishes the prompt and waits for the response parcel.
func (c *BusClient) Generate(ctx context.Context, messages []Message, format *ResponseFormat) (string, error) {
	content := map[string]any{"messages": messages}
	if format != nil {
		content["response_format"] = format
	}

	reply, err := c.agent.PublishSync(ctx, bus.TopicLLMPrompt, bus.NewParcel(content), c.timeout)
	if err != nil {
		return "", err
	}

	var out PromptReply
	if err := reply.Decode(&out); err != nil {
		return "", &bus.ParcelError{Kind: bus.KindLLMInvalidResponse, Message: err.Error()}
	}
	return out.Response, nil
}

// ProviderChat adapts a Provider to Chat for single-process wiring that
// skips the bus round trip.
type ProviderChat struct {
	Provider Provider
}

// Generate calls the provider directly.
func (c ProviderChat) Generate(ctx context.Context, messages []Message, format *ResponseFormat) (string, error) {
	return c.Provider.GenerateResponse(ctx, messages, format)
}
