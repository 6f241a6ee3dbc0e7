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

package observability

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/config"
)

func TestHealthEndpointReportsAgentStates(t *testing.T) {
	broker := bus.NewMemoryBroker(0)
	t.Cleanup(func() { broker.Close() })

	active := bus.NewAgent("kg-service", broker)
	require.NoError(t, active.Start(context.Background()))
	t.Cleanup(active.Terminate)
	idle := bus.NewAgent("scq-generator", broker)

	s := NewOpsServer(0, func() []*bus.Agent { return []*bus.Agent{active, idle} }, nil)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 503, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Agents map[string]string `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "active", body.Agents["kg-service"])
	assert.Equal(t, "created", body.Agents["scq-generator"])

	require.NoError(t, idle.Start(context.Background()))
	t.Cleanup(idle.Terminate)

	rec = httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestProviderDisabledSectionsAreNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), config.ObservabilityConfig{})
	require.NoError(t, err)

	// Instruments on the noop meter work and record nothing.
	meter := p.Meter()
	counter, err := meter.Int64Counter("wastepro_test_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProviderMetricsEnabled(t *testing.T) {
	p, err := NewProvider(context.Background(), config.ObservabilityConfig{MetricsEnabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	metrics, err := bus.NewMetrics(p.Meter())
	require.NoError(t, err)
	metrics.RecordPublish("FileUpload/FileService/Services")
}
