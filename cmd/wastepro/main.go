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

// Command wastepro runs the document-ingest and question-generation agents.
//
// Usage:
//
//	wastepro serve --config wastepro.toml
//	wastepro serve --services=kg,llm,scq-generator
//	wastepro ingest textbook.pdf --kg WasteManagement --toc toc.yaml
//	wastepro gen-scq --subject WasteManagement --document textbook --difficulty 50
//	wastepro quizbank --criteria exam.yaml --out bank.json
//	wastepro kg-list
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/wastepro/wastepro/pkg/config"
	"github.com/wastepro/wastepro/pkg/kg"
	"github.com/wastepro/wastepro/pkg/logger"
	"github.com/wastepro/wastepro/pkg/runner"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Run the service agents until interrupted."`
	Ingest   IngestCmd   `cmd:"" help:"Ingest a document into a subject's knowledge graph."`
	GenScq   GenScqCmd   `cmd:"" name:"gen-scq" help:"Generate one single-choice question."`
	Quizbank QuizbankCmd `cmd:"" help:"Generate a question bank from a criteria file."`
	KgList   KgListCmd   `cmd:"" name:"kg-list" help:"List knowledge-graph subjects."`

	Config   string `short:"c" help:"Path to wastepro.toml (default: $WASTEPRO_CONFIG_PATH, then ./wastepro.toml)." type:"path"`
	LogLevel string `help:"Override the configured log level (verbose, debug, info, warning, error)."`
}

// loadConfig resolves and loads the configuration file. When no file was
// named explicitly and the default path does not exist, built-in defaults
// apply, so informational commands work without a config file.
func (cli *CLI) loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}

	path := cli.Config
	if path == "" {
		path = config.Path()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := &config.Config{}
			cfg.SetDefaults()
			return cfg, cfg.Validate()
		}
	}
	return config.LoadFile(path)
}

// setupLogger installs the process logger from the [logging] table, with
// the --log-level flag taking precedence. The returned cleanup closes the
// log file sink, if any.
func (cli *CLI) setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}

	opts := logger.Options{
		Level:  logger.ParseLevel(level),
		Format: cfg.Logging.Format,
		Name:   cfg.Logging.Name,
	}

	cleanup := func() {}
	if cfg.Logging.Path != "" {
		file, closeFile, err := logger.OpenLogFile(cfg.Logging.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.Logging.Path, err)
		}
		opts.Output = file
		cleanup = closeFile
	}
	return logger.Init(opts), cleanup, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()
	return ctx, cancel
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("wastepro version %s\n", version)
	return nil
}

// ServeCmd runs a subset of service agents in this process. Processes
// running different subsets cooperate through the configured broker.
type ServeCmd struct {
	Services []string `help:"Comma-separated service subset (file, kg, llm, retriever, scq-generator, scq-evaluator). Empty runs all." sep:","`
}

func (c *ServeCmd) Run(cli *CLI) error {
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

	r, err := runner.New(cfg, c.Services, log)
	if err != nil {
		return err
	}
	log.Info("serving", "services", r.Names(), "broker", cfg.Broker.BrokerName)
	return r.Run(ctx)
}

// KgListCmd lists the subjects the orchestrator knows, running or not.
type KgListCmd struct{}

func (c *KgListCmd) Run(cli *CLI) error {
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

	var orchestrator kg.Orchestrator
	if cfg.Service.KG.Orchestrator == "static" {
		orchestrator = kg.NewStaticOrchestrator(cfg.Service.KG.Static)
	} else {
		orchestrator = kg.NewDockerOrchestrator(cfg.Service.KG, log)
	}

	names, err := orchestrator.List(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no knowledge graphs found")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("wastepro"),
		kong.Description("Document ingest, knowledge-graph assembly, and exam question generation over a message bus."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
