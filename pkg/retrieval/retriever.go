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

package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/kg"
	"github.com/wastepro/wastepro/pkg/logger"
)

// UploadTimeout bounds the synchronous file-service call.
const UploadTimeout = 40 * time.Second

// pageAttempts is how many times one page is retried before being skipped.
const pageAttempts = 3

// TripletExtractor turns one page of text into graph triplets. The
// LLM-backed implementation lives in pkg/extract; tests use stubs.
type TripletExtractor interface {
	ExtractTriplets(ctx context.Context, pageText string, sections [][]string, meta map[string]any) ([]kg.Triplet, error)
}

// uploadRequest is the sidecar of a FileUpload/Pdf/Retrieval parcel; the
// binary payload carries the document bytes.
type uploadRequest struct {
	Filename string         `json:"filename"`
	KGName   string         `json:"kg_name"`
	Toc      []Chapter      `json:"toc,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// storedFileInfo is the file-service reply.
type storedFileInfo struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	FilePath string `json:"file_path"`
	MimeType string `json:"mime_type"`
	Encoding string `json:"encoding"`
}

// Retriever is the ingest agent: it persists the uploaded document, splits
// it into pages, and feeds extracted triplets to the subject's merge topic
// page by page.
type Retriever struct {
	agent     *bus.Agent
	extractor TripletExtractor
	metrics   *bus.Metrics
}

// RetrieverOption configures the agent.
type RetrieverOption func(*Retriever)

// WithRetrieverMetrics attaches the bus instrument set.
func WithRetrieverMetrics(m *bus.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// NewRetriever builds the ingest agent around a triplet extractor.
func NewRetriever(broker bus.Broker, extractor TripletExtractor, opts ...RetrieverOption) *Retriever {
	r := &Retriever{extractor: extractor}
	for _, opt := range opts {
		opt(r)
	}
	r.agent = bus.NewAgent("pdf-retriever", broker,
		bus.WithMetrics(r.metrics),
		bus.WithHooks(bus.Hooks{
			OnActivate: func(context.Context) error {
				return r.agent.Subscribe(bus.TopicPdfUpload, r.handleRetrieval)
			},
		}))
	return r
}

// Agent exposes the underlying agent for lifecycle management.
func (r *Retriever) Agent() *bus.Agent { return r.agent }

// Start activates the agent.
func (r *Retriever) Start(ctx context.Context) error { return r.agent.Start(ctx) }

// Stop terminates the agent.
func (r *Retriever) Stop() { r.agent.Terminate() }

func (r *Retriever) handleRetrieval(ctx context.Context, _ string, p *bus.Parcel) (*bus.Parcel, error) {
	var req uploadRequest
	if err := p.Decode(&req); err != nil {
		return nil, &bus.ParcelError{Kind: bus.KindFileIOError, Message: err.Error()}
	}
	if req.KGName == "" {
		return nil, &bus.ParcelError{Kind: bus.KindConfigError, Message: "upload has no kg_name"}
	}
	log := r.agent.Logger().With("filename", req.Filename, "kg", req.KGName)

	// Persist first; everything downstream works from the stored path.
	// Forwarding a copy keeps the caller's reply address off the inner call.
	upload := bus.NewBinaryParcel(p.Binary, p.Content)
	stored, err := r.agent.PublishSync(ctx, bus.TopicFileUpload, upload, UploadTimeout)
	if err != nil {
		return nil, err
	}
	var info storedFileInfo
	if err := stored.Decode(&info); err != nil {
		return nil, bus.WireError(bus.KindFileIOError, err)
	}
	log = log.With("file_id", info.FileID)

	pages, err := ExtractPages(ctx, info.FilePath)
	if err != nil {
		return nil, bus.WireError(bus.KindPageExtractionFailed, err)
	}
	log.Info("document extracted", "pages", len(pages))

	meta := make(map[string]any, len(req.Meta)+5)
	for k, v := range req.Meta {
		meta[k] = v
	}
	meta["filename"] = info.Filename
	meta["mime_type"] = info.MimeType
	meta["encoding"] = info.Encoding
	meta["file_path"] = info.FilePath
	title, _ := meta["title"].(string)
	if title == "" {
		title = strings.TrimSuffix(info.Filename, filepath.Ext(info.Filename))
		meta["title"] = title
	}

	toc := []Chapter{{Title: title, Start: 0, End: len(pages), Children: req.Toc}}
	topicAdd := bus.TripletsAddTopic(req.KGName)
	sourceType := strings.TrimPrefix(strings.ToLower(filepath.Ext(info.Filename)), ".")

	for pageNumber, pageText := range pages {
		for attempt := 1; ; attempt++ {
			err := r.processPage(ctx, topicAdd, sourceType, info.FileID, req.KGName, pageNumber, pageText, toc, meta)
			if err == nil {
				break
			}
			log.Warn("page processing failed",
				"page", pageNumber, "attempt", attempt, "error", err)
			if attempt == pageAttempts {
				log.Error("page skipped", "page", pageNumber)
				break
			}
		}
	}

	// The completion parcel goes out regardless of per-page skips.
	done := map[string]any{
		"file_id":  info.FileID,
		"filename": info.Filename,
		"kg_name":  req.KGName,
		"pages":    len(pages),
	}
	if err := r.agent.Publish(bus.TopicPdfRetrieved, done); err != nil {
		log.Error("completion publish failed", "error", err)
	}
	return bus.NewParcel(done), nil
}

func (r *Retriever) processPage(ctx context.Context, topicAdd, sourceType, fileID, kgName string,
	pageNumber int, pageText string, toc []Chapter, meta map[string]any) error {

	sections := LocateSections(pageNumber, toc)
	logger.Verbose(r.agent.Logger(), "sections located", "page", pageNumber, "sections", sections)

	triplets, err := r.extractor.ExtractTriplets(ctx, pageText, sections, meta)
	if err != nil {
		return err
	}

	return r.agent.Publish(topicAdd, map[string]any{
		"source_type": sourceType,
		"file_id":     fileID,
		"page_number": pageNumber,
		"kg_name":     kgName,
		"triplets":    triplets,
	})
}
