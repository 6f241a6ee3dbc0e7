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

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wastepro/wastepro/pkg/logger"
)

// State is the agent lifecycle position. Transitions only move forward:
// created → activating → active → terminating → terminated.
type State int32

const (
	StateCreated State = iota
	StateActivating
	StateActive
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler services one topic. A non-nil reply is published to the incoming
// parcel's TopicReturn; a returned error travels the same way as a wire
// error. Handler failures never kill the agent.
type Handler func(ctx context.Context, topic string, p *Parcel) (*Parcel, error)

// Hooks are the overridable lifecycle callbacks.
type Hooks struct {
	// OnActivate runs in the activating state; services register their
	// subscriptions here.
	OnActivate func(ctx context.Context) error
	// OnConnected runs once the agent reaches active.
	OnConnected func()
	// OnMessage observes every delivered parcel before its topic handler.
	OnMessage func(topic string, p *Parcel)
	// OnTerminated runs after the last handler has drained.
	OnTerminated func()
}

var agentCounter atomic.Uint64

// Agent is a long-lived actor with one identity and one handler per
// subscribed topic. Handlers on distinct topics may run concurrently;
// a single topic delivers in broker order.
type Agent struct {
	name    string
	id      string
	broker  Broker
	log     *slog.Logger
	metrics *Metrics
	hooks   Hooks

	state atomic.Int32

	mu   sync.Mutex
	subs map[string]*agentSubscription

	cancel   context.CancelFunc
	ctx      context.Context
	handlers sync.WaitGroup
}

type agentSubscription struct {
	mu        sync.Mutex
	handler   Handler
	brokerSub Subscription
}

// AgentOption configures a new Agent.
type AgentOption func(*Agent)

// WithHooks installs the lifecycle callbacks.
func WithHooks(hooks Hooks) AgentOption {
	return func(a *Agent) { a.hooks = hooks }
}

// WithLogger routes agent logging to log.
func WithLogger(log *slog.Logger) AgentOption {
	return func(a *Agent) { a.log = log }
}

// WithMetrics attaches the bus instrument set.
func WithMetrics(m *Metrics) AgentOption {
	return func(a *Agent) { a.metrics = m }
}

// NewAgent builds an agent in the created state. The agent id is the name
// plus a process-wide monotonic counter.
func NewAgent(name string, broker Broker, opts ...AgentOption) *Agent {
	a := &Agent{
		name:   name,
		id:     fmt.Sprintf("%s-%d", name, agentCounter.Add(1)),
		broker: broker,
		log:    slog.Default(),
		subs:   make(map[string]*agentSubscription),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("agent_id", a.id)
	return a
}

// ID returns the agent identity used as the caller id on parcels.
func (a *Agent) ID() string { return a.id }

// Name returns the agent name without the counter suffix.
func (a *Agent) Name() string { return a.name }

// State returns the current lifecycle position.
func (a *Agent) State() State { return State(a.state.Load()) }

// Logger returns the agent-scoped logger.
func (a *Agent) Logger() *slog.Logger { return a.log }

// Start activates the agent: runs OnActivate (where subscriptions are
// registered), transitions to active, then fires OnConnected. Message
// delivery begins only after the active transition.
func (a *Agent) Start(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateCreated), int32(StateActivating)) {
		return fmt.Errorf("agent %s: start from state %s", a.id, a.State())
	}
	a.ctx, a.cancel = context.WithCancel(ctx)

	if a.hooks.OnActivate != nil {
		if err := a.hooks.OnActivate(a.ctx); err != nil {
			a.state.Store(int32(StateTerminated))
			a.unsubscribeAll()
			return fmt.Errorf("agent %s: activate: %w", a.id, err)
		}
	}

	a.state.Store(int32(StateActive))
	a.log.Debug("agent active", "subscriptions", a.subscriptionCount())

	if a.hooks.OnConnected != nil {
		a.hooks.OnConnected()
	}
	return nil
}

// Subscribe registers handler for topic. Subscribing an already-subscribed
// topic replaces the prior handler and keeps the broker registration.
func (a *Agent) Subscribe(topic string, handler Handler) error {
	if a.State() >= StateTerminating {
		return fmt.Errorf("agent %s: subscribe %s: %w", a.id, topic, ErrTerminated)
	}

	a.mu.Lock()
	if sub, ok := a.subs[topic]; ok {
		a.mu.Unlock()
		sub.mu.Lock()
		sub.handler = handler
		sub.mu.Unlock()
		return nil
	}
	sub := &agentSubscription{handler: handler}
	a.subs[topic] = sub
	a.mu.Unlock()

	brokerSub, err := a.broker.Subscribe(topic, func(topic string, data []byte) {
		a.deliver(sub, topic, data)
	})
	if err != nil {
		a.mu.Lock()
		delete(a.subs, topic)
		a.mu.Unlock()
		return fmt.Errorf("agent %s: %w", a.id, err)
	}
	sub.brokerSub = brokerSub
	return nil
}

// Unsubscribe drops the topic registration; unknown topics are a no-op.
func (a *Agent) Unsubscribe(topic string) error {
	a.mu.Lock()
	sub, ok := a.subs[topic]
	delete(a.subs, topic)
	a.mu.Unlock()

	if !ok || sub.brokerSub == nil {
		return nil
	}
	return sub.brokerSub.Unsubscribe()
}

// Publish sends body to topic, fire-and-forget. Plain map bodies auto-wrap
// into a text parcel.
func (a *Agent) Publish(topic string, body any) error {
	if a.State() >= StateTerminating {
		return fmt.Errorf("agent %s: publish %s: %w", a.id, topic, ErrTerminated)
	}

	p, err := wrap(body)
	if err != nil {
		return fmt.Errorf("agent %s: publish %s: %w", a.id, topic, err)
	}
	if p.AgentID == "" {
		p.AgentID = a.id
	}

	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("agent %s: publish %s: %w", a.id, topic, err)
	}
	if err := a.broker.Publish(topic, data); err != nil {
		return fmt.Errorf("agent %s: %w", a.id, err)
	}
	a.metrics.RecordPublish(topic)
	return nil
}

// PublishSync sends the parcel and blocks until a reply lands on a private
// one-shot topic or the timeout elapses. On expiry the error wraps
// ErrTimeout; the reply topic is unsubscribed on every path. Safe for
// concurrent use from multiple handlers of the same agent.
func (a *Agent) PublishSync(ctx context.Context, topic string, p *Parcel, timeout time.Duration) (*Parcel, error) {
	if a.State() >= StateTerminating {
		return nil, fmt.Errorf("agent %s: publish-sync %s: %w", a.id, topic, ErrTerminated)
	}
	if p == nil {
		p = NewParcel(nil)
	}

	reply := replyTopic(a.id)
	replyCh := make(chan *Parcel, 1)

	sub, err := a.broker.Subscribe(reply, func(_ string, data []byte) {
		response, err := DecodeParcel(data)
		if err != nil {
			a.log.Warn("undecodable reply dropped", "topic", reply, "error", err)
			return
		}
		select {
		case replyCh <- response:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: subscribe reply topic: %w", a.id, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			a.log.Warn("reply topic unsubscribe failed", "topic", reply, "error", err)
		}
	}()

	p.TopicReturn = reply
	p.AgentID = a.id
	start := time.Now()
	if err := a.Publish(topic, p); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-replyCh:
		a.metrics.RecordSyncLatency(topic, time.Since(start))
		if response.Err != nil {
			return response, response.Err
		}
		return response, nil
	case <-timer.C:
		return nil, fmt.Errorf("agent %s: no reply on %s within %s: %w", a.id, topic, timeout, ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminate unsubscribes every topic, drains in-flight handlers, and
// transitions to terminated. Safe to call more than once.
func (a *Agent) Terminate() {
	if !a.state.CompareAndSwap(int32(StateActive), int32(StateTerminating)) &&
		!a.state.CompareAndSwap(int32(StateActivating), int32(StateTerminating)) &&
		!a.state.CompareAndSwap(int32(StateCreated), int32(StateTerminating)) {
		return
	}

	a.unsubscribeAll()
	a.handlers.Wait()
	if a.cancel != nil {
		a.cancel()
	}
	a.state.Store(int32(StateTerminated))
	a.log.Debug("agent terminated")

	if a.hooks.OnTerminated != nil {
		a.hooks.OnTerminated()
	}
}

func (a *Agent) unsubscribeAll() {
	a.mu.Lock()
	subs := a.subs
	a.subs = make(map[string]*agentSubscription)
	a.mu.Unlock()

	for topic, sub := range subs {
		if sub.brokerSub == nil {
			continue
		}
		if err := sub.brokerSub.Unsubscribe(); err != nil {
			a.log.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (a *Agent) subscriptionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// deliver runs the topic handler for one wire message. Panics and errors
// are logged and, when the parcel carries a reply address, surfaced to the
// caller as a wire error; they never propagate past this frame.
func (a *Agent) deliver(sub *agentSubscription, topic string, data []byte) {
	if a.State() != StateActive {
		logger.Verbose(a.log, "message dropped before active", "topic", topic)
		return
	}

	a.handlers.Add(1)
	defer a.handlers.Done()

	p, err := DecodeParcel(data)
	if err != nil {
		a.log.Warn("undecodable message dropped", "topic", topic, "error", err)
		return
	}
	a.metrics.RecordDelivery(topic)
	logger.Verbose(a.log, "delivered", "topic", topic, "parcel", p.String())

	if a.hooks.OnMessage != nil {
		a.hooks.OnMessage(topic, p)
	}

	sub.mu.Lock()
	handler := sub.handler
	sub.mu.Unlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.metrics.RecordHandlerError(topic)
			a.log.Error("handler panic",
				"topic", topic, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	result, err := handler(a.ctx, topic, p)
	if err != nil {
		a.metrics.RecordHandlerError(topic)
		a.log.Error("handler failed", "topic", topic, "error", err)
		if p.TopicReturn != "" {
			a.reply(p.TopicReturn, &Parcel{
				Version: parcelVersion,
				Err:     WireError(KindInternal, err),
			})
		}
		return
	}
	if result != nil && p.TopicReturn != "" {
		a.reply(p.TopicReturn, result)
	}
}

func (a *Agent) reply(topic string, p *Parcel) {
	p.AgentID = a.id
	data, err := p.Encode()
	if err != nil {
		a.log.Error("reply encode failed", "topic", topic, "error", err)
		return
	}
	if err := a.broker.Publish(topic, data); err != nil {
		a.log.Error("reply publish failed", "topic", topic, "error", err)
		return
	}
	a.metrics.RecordPublish(topic)
}

func wrap(body any) (*Parcel, error) {
	switch v := body.(type) {
	case *Parcel:
		return v, nil
	case map[string]any:
		return NewParcel(v), nil
	case nil:
		return NewParcel(nil), nil
	default:
		return nil, fmt.Errorf("unsupported parcel body %T", body)
	}
}
