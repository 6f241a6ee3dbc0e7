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

// Package bus implements the agent runtime and the topic-addressed message
// fabric every service communicates through. A Parcel is the only unit of
// traffic: a structured body, an optional reply topic, and an optional wire
// error. Synchronous request/reply is layered on top of plain pub/sub by
// PublishSync, which allocates a one-shot private reply topic.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// parcelVersion is bumped when the wire layout changes incompatibly.
const parcelVersion = 3

// Parcel is the envelope carried on every topic. Text parcels populate
// Content; binary parcels populate Binary with Content as the sidecar
// mapping. A parcel used for request/reply carries a non-empty TopicReturn.
type Parcel struct {
	Version     int            `json:"version"`
	Content     map[string]any `json:"content,omitempty"`
	Binary      []byte         `json:"binary,omitempty"`
	TopicReturn string         `json:"topic_return,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	Err         *ParcelError   `json:"error,omitempty"`
}

// NewParcel wraps a plain body into a text parcel.
func NewParcel(content map[string]any) *Parcel {
	return &Parcel{Version: parcelVersion, Content: content}
}

// NewBinaryParcel wraps opaque bytes plus a sidecar mapping into a binary
// parcel. The sidecar may be nil.
func NewBinaryParcel(data []byte, sidecar map[string]any) *Parcel {
	return &Parcel{Version: parcelVersion, Binary: data, Content: sidecar}
}

// ErrorParcel builds a reply parcel carrying only a wire error.
func ErrorParcel(kind, message string) *Parcel {
	return &Parcel{Version: parcelVersion, Err: &ParcelError{Kind: kind, Message: message}}
}

// IsBinary reports whether the parcel carries an opaque byte payload.
func (p *Parcel) IsBinary() bool {
	return len(p.Binary) > 0
}

// Encode renders the parcel for the broker wire.
func (p *Parcel) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode parcel: %w", err)
	}
	return data, nil
}

// DecodeParcel parses a wire payload back into a Parcel.
func DecodeParcel(data []byte) (*Parcel, error) {
	var p Parcel
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode parcel: %w", err)
	}
	return &p, nil
}

// Decode maps the parcel content onto a typed request/reply struct. Field
// names follow the json tags of the target; numeric content values decode
// weakly so that JSON float64 page numbers land in int fields.
func (p *Parcel) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build content decoder: %w", err)
	}
	if err := decoder.Decode(p.Content); err != nil {
		return fmt.Errorf("decode parcel content: %w", err)
	}
	return nil
}

// String renders a short loggable description without the payload bytes.
func (p *Parcel) String() string {
	switch {
	case p == nil:
		return "Parcel(nil)"
	case p.Err != nil:
		return fmt.Sprintf("Parcel(error=%s)", p.Err.Kind)
	case p.IsBinary():
		return fmt.Sprintf("Parcel(binary=%dB, sidecar=%d keys)", len(p.Binary), len(p.Content))
	default:
		return fmt.Sprintf("Parcel(%d keys)", len(p.Content))
	}
}
