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
	"time"

	"github.com/wastepro/wastepro/pkg/bus"
)

// DefaultQueryTimeout bounds synchronous graph calls over the bus.
const DefaultQueryTimeout = 30 * time.Second

// Client calls the KG service over the bus on behalf of another agent.
type Client struct {
	agent   *bus.Agent
	timeout time.Duration
}

// NewClient wraps agent for KG service calls.
func NewClient(agent *bus.Agent) *Client {
	return &Client{agent: agent, timeout: DefaultQueryTimeout}
}

// WithTimeout returns a copy of the client using timeout for sync calls.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	return &Client{agent: c.agent, timeout: timeout}
}

// Create ensures the subject's instance exists and returns its endpoints
// plus the per-subject merge topic.
func (c *Client) Create(ctx context.Context, kgName string) (CreateReply, error) {
	var reply CreateReply
	p := bus.NewParcel(map[string]any{"kg_name": kgName})
	resp, err := c.agent.PublishSync(ctx, bus.TopicKGCreate, p, c.timeout)
	if err != nil {
		return reply, err
	}
	err = resp.Decode(&reply)
	return reply, err
}

// AccessPoint returns the subject's endpoints, starting it if needed.
func (c *Client) AccessPoint(ctx context.Context, kgName string) (AccessPoint, error) {
	var access AccessPoint
	p := bus.NewParcel(map[string]any{"kg_name": kgName})
	resp, err := c.agent.PublishSync(ctx, bus.TopicKGAccessPoint, p, c.timeout)
	if err != nil {
		return access, err
	}
	err = resp.Decode(&access)
	return access, err
}

// Concepts runs the concepts query for a document, optionally narrowed by
// a section path.
func (c *Client) Concepts(ctx context.Context, kgName, document string, section []string) ([]NodeRef, error) {
	return c.query(ctx, bus.TopicConceptsQuery, "concepts", kgName, document, section)
}

// LeafSections runs the leaf-structure query.
func (c *Client) LeafSections(ctx context.Context, kgName, document string, section []string) ([]NodeRef, error) {
	return c.query(ctx, bus.TopicSectionsQuery, "sections", kgName, document, section)
}

func (c *Client) query(ctx context.Context, topic, field, kgName, document string, section []string) ([]NodeRef, error) {
	p := bus.NewParcel(map[string]any{
		"kg_name":  kgName,
		"document": document,
		"section":  section,
	})
	resp, err := c.agent.PublishSync(ctx, topic, p, c.timeout)
	if err != nil {
		return nil, err
	}

	var reply struct {
		Concepts []NodeRef `json:"concepts"`
		Sections []NodeRef `json:"sections"`
	}
	if err := resp.Decode(&reply); err != nil {
		return nil, err
	}
	if field == "concepts" {
		return reply.Concepts, nil
	}
	return reply.Sections, nil
}
