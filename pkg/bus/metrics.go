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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the bus-level instrument set. A nil *Metrics is valid and
// records nothing, so agents never need to branch on whether observability
// is enabled.
type Metrics struct {
	publishesTotal  metric.Int64Counter
	deliveriesTotal metric.Int64Counter
	handlerErrors   metric.Int64Counter
	syncLatency     metric.Float64Histogram
}

// NewMetrics creates the bus instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	publishesTotal, err := meter.Int64Counter(
		"wastepro_bus_publishes_total",
		metric.WithDescription("Parcels published, by topic"),
	)
	if err != nil {
		return nil, fmt.Errorf("create publishes counter: %w", err)
	}

	deliveriesTotal, err := meter.Int64Counter(
		"wastepro_bus_deliveries_total",
		metric.WithDescription("Parcels delivered to handlers, by topic"),
	)
	if err != nil {
		return nil, fmt.Errorf("create deliveries counter: %w", err)
	}

	handlerErrors, err := meter.Int64Counter(
		"wastepro_bus_handler_errors_total",
		metric.WithDescription("Handler failures and panics, by topic"),
	)
	if err != nil {
		return nil, fmt.Errorf("create handler errors counter: %w", err)
	}

	syncLatency, err := meter.Float64Histogram(
		"wastepro_bus_publish_sync_duration_seconds",
		metric.WithDescription("Round-trip latency of synchronous requests, by topic"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sync latency histogram: %w", err)
	}

	return &Metrics{
		publishesTotal:  publishesTotal,
		deliveriesTotal: deliveriesTotal,
		handlerErrors:   handlerErrors,
		syncLatency:     syncLatency,
	}, nil
}

// RecordPublish counts one published parcel.
func (m *Metrics) RecordPublish(topic string) {
	if m == nil || m.publishesTotal == nil {
		return
	}
	m.publishesTotal.Add(context.Background(), 1, metric.WithAttributes(topicAttr(topic)))
}

// RecordDelivery counts one parcel handed to a handler.
func (m *Metrics) RecordDelivery(topic string) {
	if m == nil || m.deliveriesTotal == nil {
		return
	}
	m.deliveriesTotal.Add(context.Background(), 1, metric.WithAttributes(topicAttr(topic)))
}

// RecordHandlerError counts one handler failure or panic.
func (m *Metrics) RecordHandlerError(topic string) {
	if m == nil || m.handlerErrors == nil {
		return
	}
	m.handlerErrors.Add(context.Background(), 1, metric.WithAttributes(topicAttr(topic)))
}

// RecordSyncLatency records one completed request/reply round trip.
func (m *Metrics) RecordSyncLatency(topic string, d time.Duration) {
	if m == nil || m.syncLatency == nil {
		return
	}
	m.syncLatency.Record(context.Background(), d.Seconds(), metric.WithAttributes(topicAttr(topic)))
}

func topicAttr(topic string) attribute.KeyValue {
	return attribute.String("topic", topic)
}
