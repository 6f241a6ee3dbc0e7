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
	"errors"
	"fmt"
)

// Error kinds carried across the bus. Recoverable conditions are handled
// inside the component that raised them; the rest travel to the caller's
// reply topic inside a ParcelError.
const (
	KindTimeout              = "Timeout"
	KindTransport            = "Transport"
	KindLLMInvalidResponse   = "LLMInvalidResponse"
	KindKGQueryFailed        = "KGQueryFailed"
	KindNoConcepts           = "NoConcepts"
	KindNoTextMaterials      = "NoTextMaterials"
	KindPageExtractionFailed = "PageExtractionFailed"
	KindConfigError          = "ConfigError"
	KindFileIOError          = "FileIOError"
	KindInternal             = "Internal"
)

// ErrTimeout is returned by PublishSync when no reply arrives in time.
var ErrTimeout = errors.New("publish-sync timed out")

// ErrTerminated is returned when an operation hits a terminating agent.
var ErrTerminated = errors.New("agent terminated")

// ParcelError is the wire form of a failure: a kind from the taxonomy above
// and a human-readable message.
type ParcelError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ParcelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// WireError wraps err into a ParcelError, reusing the kind when err already
// carries one.
func WireError(kind string, err error) *ParcelError {
	var pe *ParcelError
	if errors.As(err, &pe) {
		return pe
	}
	return &ParcelError{Kind: kind, Message: err.Error()}
}
