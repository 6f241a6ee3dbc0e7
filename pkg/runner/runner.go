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

// Package runner assembles the configured broker, telemetry, and service
// agents into one running process. A deployment may run the full set in a
// single process over the memory broker, or split services across processes
// joined through NATS.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/config"
	"github.com/wastepro/wastepro/pkg/extract"
	"github.com/wastepro/wastepro/pkg/files"
	"github.com/wastepro/wastepro/pkg/kg"
	"github.com/wastepro/wastepro/pkg/llms"
	"github.com/wastepro/wastepro/pkg/observability"
	"github.com/wastepro/wastepro/pkg/retrieval"
	"github.com/wastepro/wastepro/pkg/scq"
)

// Service names accepted by --services.
const (
	ServiceFile         = "file"
	ServiceKG           = "kg"
	ServiceLLM          = "llm"
	ServiceRetriever    = "retriever"
	ServiceSCQGenerator = "scq-generator"
	ServiceSCQEvaluator = "scq-evaluator"
)

// AllServices lists every service in start order: infrastructure services
// first, then the agents that call them.
var AllServices = []string{
	ServiceFile,
	ServiceKG,
	ServiceLLM,
	ServiceRetriever,
	ServiceSCQGenerator,
	ServiceSCQEvaluator,
}

// service is the lifecycle every agent-backed component exposes.
type service interface {
	Agent() *bus.Agent
	Start(ctx context.Context) error
	Stop()
}

// Runner owns one process worth of wastepro services.
type Runner struct {
	cfg   *config.Config
	names []string
	log   *slog.Logger

	broker   bus.Broker
	provider *observability.Provider
	services []service
}

// New validates the requested service subset. An empty subset means all.
func New(cfg *config.Config, names []string, log *slog.Logger) (*Runner, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(names) == 0 {
		names = AllServices
	}

	known := make(map[string]bool, len(AllServices))
	for _, name := range AllServices {
		known[name] = true
	}
	for _, name := range names {
		if !known[name] {
			return nil, fmt.Errorf("unknown service %q (have %s)", name, strings.Join(AllServices, ", "))
		}
	}

	// Start order follows AllServices regardless of how the subset was
	// written on the command line.
	ordered := make([]string, 0, len(names))
	for _, name := range AllServices {
		for _, requested := range names {
			if requested == name {
				ordered = append(ordered, name)
				break
			}
		}
	}

	return &Runner{cfg: cfg, names: ordered, log: log}, nil
}

// Names returns the service subset this runner manages, in start order.
func (r *Runner) Names() []string { return r.names }

// Broker exposes the live broker, for in-process callers sharing the memory
// fabric. Valid only while Run is up.
func (r *Runner) Broker() bus.Broker { return r.broker }

// Start brings up telemetry, the broker, and every requested service.
func (r *Runner) Start(ctx context.Context) error {
	provider, err := observability.NewProvider(ctx, r.cfg.Observability)
	if err != nil {
		return err
	}
	r.provider = provider

	metrics, err := bus.NewMetrics(provider.Meter())
	if err != nil {
		return err
	}

	if err := r.openBroker(); err != nil {
		return err
	}
	if err := r.buildServices(metrics); err != nil {
		r.closeBroker()
		return err
	}

	for _, svc := range r.services {
		if err := svc.Start(ctx); err != nil {
			r.Shutdown()
			return fmt.Errorf("start %s: %w", svc.Agent().Name(), err)
		}
		r.log.Info("service started", "agent", svc.Agent().Name())
	}
	return nil
}

// Run is Start plus block-until-done: it serves until ctx cancels or the
// ops server fails, then shuts everything down.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	var ops *observability.OpsServer
	if r.cfg.Observability.MetricsEnabled {
		ops = observability.NewOpsServer(r.cfg.Observability.MetricsPort, r.Agents, r.log)
		group.Go(ops.Start)
	}

	group.Go(func() error {
		<-ctx.Done()
		if ops != nil {
			_ = ops.Shutdown(context.Background())
		}
		r.Shutdown()
		return ctx.Err()
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops services in reverse start order, then telemetry and the
// broker. Safe to call more than once.
func (r *Runner) Shutdown() {
	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Stop()
	}
	r.services = nil

	if r.provider != nil {
		_ = r.provider.Shutdown(context.Background())
		r.provider = nil
	}
	r.closeBroker()
}

// Agents snapshots every managed agent, sorted by name, for the health
// endpoint.
func (r *Runner) Agents() []*bus.Agent {
	out := make([]*bus.Agent, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc.Agent())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Runner) openBroker() error {
	switch r.cfg.Broker.BrokerName {
	case "memory":
		r.broker = bus.NewMemoryBroker(r.cfg.Broker.Memory.Buffer)
	case "nats":
		broker, err := bus.NewNatsBroker(r.cfg.Broker.Nats, r.log)
		if err != nil {
			return fmt.Errorf("connect nats at %s: %w", r.cfg.Broker.Nats.URL(), err)
		}
		r.broker = broker
	default:
		return fmt.Errorf("unknown broker %q", r.cfg.Broker.BrokerName)
	}
	return nil
}

func (r *Runner) closeBroker() {
	if r.broker != nil {
		_ = r.broker.Close()
		r.broker = nil
	}
}

// buildServices constructs the requested subset against the open broker.
func (r *Runner) buildServices(metrics *bus.Metrics) error {
	for _, name := range r.names {
		switch name {
		case ServiceFile:
			r.services = append(r.services,
				files.NewService(r.broker, r.cfg.Service.File, files.WithServiceMetrics(metrics)))

		case ServiceKG:
			r.services = append(r.services,
				kg.NewService(r.broker, r.cfg.Service.KG, kg.WithServiceMetrics(metrics)))

		case ServiceLLM:
			svc, err := llms.NewService(r.broker, r.cfg.Service.LLM, llms.WithServiceMetrics(metrics))
			if err != nil {
				return fmt.Errorf("build llm service: %w", err)
			}
			r.services = append(r.services, svc)

		case ServiceRetriever:
			// The extractor prompts over the bus through its own agent so
			// its sync calls never share the retriever's reply plumbing.
			chatAgent := bus.NewAgent("retriever-llm-client", r.broker, bus.WithMetrics(metrics))
			r.services = append(r.services, agentService{chatAgent})

			extractor := extract.NewExtractor(llms.NewBusClient(chatAgent, 0))
			r.services = append(r.services,
				retrieval.NewRetriever(r.broker, extractor, retrieval.WithRetrieverMetrics(metrics)))

		case ServiceSCQGenerator:
			gen, err := scq.NewGenerator(r.broker, r.cfg.Service.SCQ, scq.WithGeneratorMetrics(metrics))
			if err != nil {
				return fmt.Errorf("build scq generator: %w", err)
			}
			r.services = append(r.services, gen)

		case ServiceSCQEvaluator:
			r.services = append(r.services,
				scq.NewEvaluator(r.broker, scq.WithEvaluatorMetrics(metrics)))
		}
	}
	return nil
}

// agentService wraps a bare agent in the service lifecycle.
type agentService struct {
	agent *bus.Agent
}

func (s agentService) Agent() *bus.Agent               { return s.agent }
func (s agentService) Start(ctx context.Context) error { return s.agent.Start(ctx) }
func (s agentService) Stop()                           { s.agent.Terminate() }
