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
	"sort"
	"sync"

	"github.com/wastepro/wastepro/pkg/config"
)

// AccessPoint carries the endpoints of one subject's graph instance.
type AccessPoint struct {
	HTTPURL string `json:"http_url"`
	BoltURL string `json:"bolt_url"`
}

// Orchestrator manages per-subject Neo4j instances. DockerOrchestrator
// runs one container per subject; StaticOrchestrator points every subject
// at a single externally managed instance.
type Orchestrator interface {
	// Create brings the subject's instance up, reusing a running one.
	Create(ctx context.Context, name string) (AccessPoint, error)
	// Open restarts the subject's instance from its persisted data and
	// returns fresh endpoints.
	Open(ctx context.Context, name string) (AccessPoint, error)
	// List returns every subject known to the orchestrator, running or not.
	List(ctx context.Context) ([]string, error)
	// Stop shuts the subject's instance down; its data stays.
	Stop(ctx context.Context, name string) error
}

// StaticOrchestrator serves one configured instance for all subjects.
// Subjects then share a graph, which only works when their node names do
// not collide; it exists for deployments where Docker is unavailable.
type StaticOrchestrator struct {
	access AccessPoint

	mu    sync.Mutex
	names map[string]struct{}
}

// NewStaticOrchestrator builds the orchestrator from the [service.kg.static]
// table.
func NewStaticOrchestrator(cfg config.StaticKGConfig) *StaticOrchestrator {
	return &StaticOrchestrator{
		access: AccessPoint{HTTPURL: cfg.HTTPURL, BoltURL: cfg.BoltURL},
		names:  make(map[string]struct{}),
	}
}

// Create registers the subject and returns the shared endpoints.
func (o *StaticOrchestrator) Create(_ context.Context, name string) (AccessPoint, error) {
	o.mu.Lock()
	o.names[name] = struct{}{}
	o.mu.Unlock()
	return o.access, nil
}

// Open behaves like Create; there is no per-subject instance to restart.
func (o *StaticOrchestrator) Open(ctx context.Context, name string) (AccessPoint, error) {
	return o.Create(ctx, name)
}

// List returns the subjects registered in this process, sorted.
func (o *StaticOrchestrator) List(context.Context) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	names := make([]string, 0, len(o.names))
	for name := range o.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Stop forgets the subject. The shared instance stays up.
func (o *StaticOrchestrator) Stop(_ context.Context, name string) error {
	o.mu.Lock()
	delete(o.names, name)
	o.mu.Unlock()
	return nil
}
