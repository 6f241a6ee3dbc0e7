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

// MessageHandler receives the raw wire payload for one topic. Handlers for
// one subscription are invoked in broker order; handlers of distinct
// subscriptions may run concurrently.
type MessageHandler func(topic string, data []byte)

// Subscription is a live topic registration.
type Subscription interface {
	Unsubscribe() error
}

// Broker is the pub/sub transport agents are built on. Implementations must
// be safe for concurrent use and must deliver messages of a single
// subscription in FIFO order.
type Broker interface {
	Subscribe(topic string, handler MessageHandler) (Subscription, error)
	Publish(topic string, data []byte) error
	Close() error
}
