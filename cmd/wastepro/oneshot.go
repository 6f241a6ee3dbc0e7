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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/wastepro/wastepro/pkg/bus"
	"github.com/wastepro/wastepro/pkg/config"
	"github.com/wastepro/wastepro/pkg/kg"
	"github.com/wastepro/wastepro/pkg/retrieval"
	"github.com/wastepro/wastepro/pkg/runner"
)

// session is the bus attachment of a one-shot command. With the memory
// broker it runs the needed services inline for the duration of the
// command; with NATS it attaches a bare caller agent to the deployment
// already serving the topics.
type session struct {
	run    *runner.Runner
	broker bus.Broker
	caller *bus.Agent
}

func openSession(ctx context.Context, cfg *config.Config, log *slog.Logger, services []string) (*session, error) {
	s := &session{}

	if cfg.Broker.BrokerName == "memory" {
		r, err := runner.New(cfg, services, log)
		if err != nil {
			return nil, err
		}
		if err := r.Start(ctx); err != nil {
			return nil, err
		}
		s.run = r
		s.broker = r.Broker()
	} else {
		broker, err := bus.NewNatsBroker(cfg.Broker.Nats, log)
		if err != nil {
			return nil, fmt.Errorf("connect nats at %s: %w", cfg.Broker.Nats.URL(), err)
		}
		s.broker = broker
	}

	s.caller = bus.NewAgent("wastepro-cli", s.broker)
	if err := s.caller.Start(ctx); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	if s.caller != nil {
		s.caller.Terminate()
	}
	if s.run != nil {
		s.run.Shutdown()
	} else if s.broker != nil {
		_ = s.broker.Close()
	}
}

// IngestCmd uploads a document and drives the extraction pipeline until the
// completion parcel arrives.
type IngestCmd struct {
	File string `arg:"" help:"Document to ingest (pdf, docx, xlsx, or plain text)." type:"existingfile"`

	KG      string        `required:"" help:"Subject knowledge graph to merge into."`
	Toc     string        `help:"YAML table-of-contents file (list of {title, start, end, children})." type:"existingfile"`
	Title   string        `help:"Document title (default: file name without extension)."`
	Timeout time.Duration `help:"How long to wait for the full ingest." default:"60m"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	log, cleanup, err := cli.setupLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}

	var toc []retrieval.Chapter
	if c.Toc != "" {
		raw, err := os.ReadFile(c.Toc)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(raw, &toc); err != nil {
			return fmt.Errorf("parse toc %s: %w", c.Toc, err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, cfg, log, []string{
		runner.ServiceFile, runner.ServiceKG, runner.ServiceLLM, runner.ServiceRetriever,
	})
	if err != nil {
		return err
	}
	defer s.close()

	// Creating the graph first guarantees its merge topic has a subscriber
	// before the first page's triplets go out.
	if _, err := kg.NewClient(s.caller).Create(ctx, c.KG); err != nil {
		return fmt.Errorf("create knowledge graph %s: %w", c.KG, err)
	}

	content := map[string]any{
		"filename": filepath.Base(c.File),
		"kg_name":  c.KG,
	}
	if len(toc) > 0 {
		content["toc"] = toc
	}
	if c.Title != "" {
		content["meta"] = map[string]any{"title": c.Title}
	}

	reply, err := s.caller.PublishSync(ctx, bus.TopicPdfUpload,
		bus.NewBinaryParcel(data, content), c.Timeout)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", c.File, err)
	}

	var done struct {
		FileID string `json:"file_id"`
		Pages  int    `json:"pages"`
	}
	if err := reply.Decode(&done); err != nil {
		return err
	}
	fmt.Printf("ingested %s into %s: %d pages (file id %s)\n",
		filepath.Base(c.File), c.KG, done.Pages, done.FileID)
	return nil
}

// questionCriteria is one row of a quizbank criteria file, and the request
// body of a generation call.
type questionCriteria struct {
	QuestionID string   `yaml:"question_id" json:"question_id"`
	Subject    string   `yaml:"subject" json:"subject"`
	Document   string   `yaml:"document" json:"document"`
	Section    []string `yaml:"section" json:"section,omitempty"`
	Difficulty int      `yaml:"difficulty" json:"difficulty"`
}

func (c questionCriteria) content() map[string]any {
	if c.QuestionID == "" {
		c.QuestionID = uuid.NewString()
	}
	return map[string]any{
		"question_id": c.QuestionID,
		"subject":     c.Subject,
		"document":    c.Document,
		"section":     c.Section,
		"difficulty":  c.Difficulty,
	}
}

// generationServices is the subset a one-shot generation command needs in
// memory-broker mode.
var generationServices = []string{
	runner.ServiceKG, runner.ServiceLLM,
	runner.ServiceSCQGenerator, runner.ServiceSCQEvaluator,
}

// GenScqCmd generates a single question and prints it as JSON.
type GenScqCmd struct {
	Subject    string        `required:"" help:"Subject knowledge graph."`
	Document   string        `required:"" help:"Document title within the subject."`
	Section    []string      `help:"Section path narrowing the concept query." sep:","`
	Difficulty int           `help:"Difficulty (30, 50, or 70)." default:"50"`
	Timeout    time.Duration `help:"How long to wait for the question." default:"15m"`
}

func (c *GenScqCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	log, cleanup, err := cli.setupLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, cfg, log, generationServices)
	if err != nil {
		return err
	}
	defer s.close()

	criteria := questionCriteria{
		Subject:    c.Subject,
		Document:   c.Document,
		Section:    c.Section,
		Difficulty: c.Difficulty,
	}
	reply, err := s.caller.PublishSync(ctx, bus.TopicSCQCreate,
		bus.NewParcel(criteria.content()), c.Timeout)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(reply.Content, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// QuizbankCmd renders every criteria row of a YAML file into a question and
// writes the collected bank as a JSON array.
type QuizbankCmd struct {
	Criteria string        `required:"" help:"YAML file: a list of {question_id, subject, document, section, difficulty}." type:"existingfile"`
	Out      string        `required:"" help:"Output JSON file." type:"path"`
	Timeout  time.Duration `help:"How long to wait per question." default:"15m"`
}

func (c *QuizbankCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	log, cleanup, err := cli.setupLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	raw, err := os.ReadFile(c.Criteria)
	if err != nil {
		return err
	}
	var rows []questionCriteria
	if err := yaml.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("parse criteria %s: %w", c.Criteria, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("criteria file %s has no rows", c.Criteria)
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, cfg, log, generationServices)
	if err != nil {
		return err
	}
	defer s.close()

	bank := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		reply, err := s.caller.PublishSync(ctx, bus.TopicSCQCreate,
			bus.NewParcel(row.content()), c.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("question generation failed; row skipped",
				"row", i, "subject", row.Subject, "document", row.Document, "error", err)
			continue
		}
		bank = append(bank, reply.Content)
		log.Info("question generated", "row", i, "total", len(rows))
	}

	if len(bank) == 0 {
		return fmt.Errorf("no questions generated from %d criteria rows", len(rows))
	}

	out, err := json.MarshalIndent(bank, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Out, append(out, '\n'), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %d of %d questions to %s\n", len(bank), len(rows), c.Out)
	return nil
}
