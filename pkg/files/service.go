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

// Package files implements the file service: it persists uploaded binary
// parcels under a content-addressed layout and replies with the stored
// file's identity and location.
package files

import (
	"context"
	"fmt"
	"math/rand"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/config"
)

// StoredFile is the reply content added on top of the upload sidecar.
type StoredFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	MimeType string `json:"mime_type"`
	Encoding string `json:"encoding"`
}

// Service is the file service agent on FileUpload/FileService/Services.
type Service struct {
	agent   *bus.Agent
	home    string
	metrics *bus.Metrics
}

// ServiceOption configures the service agent.
type ServiceOption func(*Service)

// WithServiceMetrics attaches the bus instrument set.
func WithServiceMetrics(m *bus.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService builds the agent. The home directory is created on demand, not
// here, so construction never touches the filesystem.
func NewService(broker bus.Broker, cfg config.FileServiceConfig, opts ...ServiceOption) *Service {
	s := &Service{home: cfg.HomeDirectory}
	for _, opt := range opts {
		opt(s)
	}
	s.agent = bus.NewAgent("file-service", broker,
		bus.WithMetrics(s.metrics),
		bus.WithHooks(bus.Hooks{
			OnActivate: func(context.Context) error {
				return s.agent.Subscribe(bus.TopicFileUpload, s.handleUpload)
			},
		}))
	return s
}

// Agent exposes the underlying agent for lifecycle management.
func (s *Service) Agent() *bus.Agent { return s.agent }

// Start activates the service.
func (s *Service) Start(ctx context.Context) error { return s.agent.Start(ctx) }

// Stop terminates the service.
func (s *Service) Stop() { s.agent.Terminate() }

func (s *Service) handleUpload(_ context.Context, _ string, p *bus.Parcel) (*bus.Parcel, error) {
	filename, _ := p.Content["filename"].(string)
	if filename == "" {
		return nil, &bus.ParcelError{Kind: bus.KindFileIOError, Message: "upload parcel has no filename"}
	}
	if !p.IsBinary() {
		return nil, &bus.ParcelError{Kind: bus.KindFileIOError, Message: "upload parcel carries no content"}
	}

	fileID := NewFileID(filename)
	path := s.pathFor(fileID, filename)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, bus.WireError(bus.KindFileIOError, fmt.Errorf("create shard directory: %w", err))
	}
	if err := os.WriteFile(path, p.Binary, 0o644); err != nil {
		return nil, bus.WireError(bus.KindFileIOError, fmt.Errorf("write %s: %w", path, err))
	}

	s.agent.Logger().Info("file stored",
		"file_id", fileID, "path", path, "bytes", len(p.Binary))

	// Reply carries the caller's sidecar plus the storage facts.
	content := make(map[string]any, len(p.Content)+4)
	for k, v := range p.Content {
		content[k] = v
	}
	content["file_id"] = fileID
	content["file_path"] = path
	content["mime_type"] = MimeType(filename)
	content["encoding"] = "binary"

	return bus.NewParcel(content), nil
}

func (s *Service) pathFor(fileID, filename string) string {
	return filepath.Join(s.home, fileID[:2], fileID+"-"+filename)
}

// NewFileID derives a 32-hex-char identifier from the filename, the upload
// instant, and a random component. SHA1-based UUID, dashes stripped: stable
// length, no collisions across repeated uploads of the same file.
func NewFileID(filename string) string {
	seed := fmt.Sprintf("%s%d%d", filename, time.Now().UnixMilli(), rand.Int63())
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
	return strings.ReplaceAll(id.String(), "-", "")[:32]
}

// MimeType resolves a MIME type from the filename extension; unknown
// extensions report the generic octet-stream type.
func MimeType(filename string) string {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if mt == "" {
		return "application/octet-stream"
	}
	return mt
}
