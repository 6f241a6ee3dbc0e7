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
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wastepro/wastepro/pkg/bus"
)

// OpsServer serves the operational endpoints: Prometheus metrics and an
// agent-health report.
type OpsServer struct {
	server *http.Server
	agents func() []*bus.Agent
	log    *slog.Logger
}

// NewOpsServer builds the ops endpoint on the given port. The agents
// function is polled per /healthz request, so late-started agents appear
// without re-registration.
func NewOpsServer(port int, agents func() []*bus.Agent, log *slog.Logger) *OpsServer {
	if log == nil {
		log = slog.Default()
	}
	s := &OpsServer{agents: agents, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It blocks, so callers run it on its own
// goroutine (typically under an errgroup).
func (s *OpsServer) Start() error {
	s.log.Info("ops server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *OpsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth reports every agent's lifecycle state. The endpoint answers
// 200 only while all agents are active.
func (s *OpsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]string)
	healthy := true
	for _, agent := range s.agents() {
		state := agent.State()
		states[agent.Name()] = state.String()
		if state != bus.StateActive {
			healthy = false
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"agents": states,
	})
}
