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
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wastepro/wastepro/pkg/config"
)

// NatsBroker adapts a NATS connection to the Broker interface. Reconnects
// are handled by the client library; server-side interest survives them, so
// subscriptions need no re-registration at this layer.
type NatsBroker struct {
	conn *nats.Conn
	log  *slog.Logger
}

// NewNatsBroker connects to the configured NATS server. The connection
// retries forever with a bounded wait so that broker restarts stay
// transparent to the handler layer.
func NewNatsBroker(cfg config.NatsBrokerConfig, log *slog.Logger) (*NatsBroker, error) {
	if log == nil {
		log = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("wastepro"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.PingInterval(time.Duration(cfg.Keepalive) * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("broker disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("broker reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to broker at %s: %w", cfg.URL(), err)
	}

	return &NatsBroker{conn: conn, log: log}, nil
}

// Subscribe registers a handler for the topic. NATS dispatches each
// subscription on its own goroutine in arrival order, which provides the
// per-topic FIFO the agent layer relies on.
func (b *NatsBroker) Subscribe(topic string, handler MessageHandler) (Subscription, error) {
	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return natsSubscription{sub: sub}, nil
}

// Publish sends the payload to the topic, fire-and-forget.
func (b *NatsBroker) Publish(topic string, data []byte) error {
	if err := b.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending publishes and drops the connection.
func (b *NatsBroker) Close() error {
	if err := b.conn.Flush(); err != nil {
		b.log.Warn("broker flush on close failed", "error", err)
	}
	b.conn.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
