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

// Package config loads and validates wastepro.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "WASTEPRO_CONFIG_PATH"

// EnvLoggerName names the environment variable carrying the logger handle
// set by the bootstrap for worker processes.
const EnvLoggerName = "LOGGER_NAME"

// DefaultConfigPath is used when WASTEPRO_CONFIG_PATH is unset.
const DefaultConfigPath = "./wastepro.toml"

// Config is the root of wastepro.toml.
type Config struct {
	System        SystemConfig        `koanf:"system"`
	Broker        BrokerConfig        `koanf:"broker"`
	Logging       LoggingConfig       `koanf:"logging"`
	Service       ServiceConfig       `koanf:"service"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// SystemConfig is the [system] table.
type SystemConfig struct {
	Version string `koanf:"version"`
}

// BrokerConfig is the [broker] table. BrokerName selects the active broker;
// the per-broker tables hold its parameters.
type BrokerConfig struct {
	BrokerName string             `koanf:"broker_name"`
	Nats       NatsBrokerConfig   `koanf:"nats"`
	Memory     MemoryBrokerConfig `koanf:"memory"`
}

// NatsBrokerConfig is the [broker.nats] table.
type NatsBrokerConfig struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	Keepalive int    `koanf:"keepalive"` // ping interval, seconds
}

// URL renders the nats:// connection string.
func (c NatsBrokerConfig) URL() string {
	return fmt.Sprintf("nats://%s:%d", c.Host, c.Port)
}

// MemoryBrokerConfig is the [broker.memory] table. The memory broker runs
// the whole agent set inside one process; Buffer sizes each subscription
// channel.
type MemoryBrokerConfig struct {
	Buffer int `koanf:"buffer"`
}

// LoggingConfig is the [logging] table.
type LoggingConfig struct {
	Name   string `koanf:"name"`
	Path   string `koanf:"path"`   // empty logs to stderr
	Level  string `koanf:"level"`  // VERBOSE, DEBUG, INFO, WARNING, ERROR
	Format string `koanf:"format"` // text or json
}

// ServiceConfig is the [service] table.
type ServiceConfig struct {
	File FileServiceConfig `koanf:"file"`
	KG   KGServiceConfig   `koanf:"kg"`
	LLM  LLMServiceConfig  `koanf:"llm"`
	SCQ  SCQServiceConfig  `koanf:"scq"`
}

// FileServiceConfig is the [service.file] table.
type FileServiceConfig struct {
	HomeDirectory string `koanf:"home_directory"`
}

// KGServiceConfig is the [service.kg] table.
type KGServiceConfig struct {
	Hostname     string         `koanf:"hostname"`
	Datapath     string         `koanf:"datapath"`
	Orchestrator string         `koanf:"orchestrator"` // docker or static
	Static       StaticKGConfig `koanf:"static"`
}

// StaticKGConfig points every subject at one externally managed instance.
type StaticKGConfig struct {
	HTTPURL  string `koanf:"http_url"`
	BoltURL  string `koanf:"bolt_url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// LLMServiceConfig is the [service.llm] table. Name selects the active
// provider; the per-provider tables hold credentials and model choices.
type LLMServiceConfig struct {
	Name    string            `koanf:"name"`
	ChatGpt LLMProviderConfig `koanf:"chatgpt"`
	Claude  LLMProviderConfig `koanf:"claude"`
	Llama   LLMProviderConfig `koanf:"llama"`
	OssGpt  LLMProviderConfig `koanf:"ossgpt"`
	Gemini  LLMProviderConfig `koanf:"gemini"`
}

// Provider returns the configuration table for the named provider.
func (c LLMServiceConfig) Provider(name string) (LLMProviderConfig, error) {
	switch strings.ToLower(name) {
	case "chatgpt":
		return c.ChatGpt, nil
	case "claude":
		return c.Claude, nil
	case "llama":
		return c.Llama, nil
	case "ossgpt":
		return c.OssGpt, nil
	case "gemini":
		return c.Gemini, nil
	default:
		return LLMProviderConfig{}, fmt.Errorf("unknown llm provider %q", name)
	}
}

// LLMProviderConfig is one [service.llm.<name>] table. Key names follow the
// config file vocabulary; each provider reads the fields it understands.
type LLMProviderConfig struct {
	OpenAIAPIKey    string  `koanf:"openai_api_key"`
	AnthropicAPIKey string  `koanf:"anthropic_api_key"`
	GeminiAPIKey    string  `koanf:"gemini_api_key"`
	BaseURL         string  `koanf:"base_url"`
	Model           string  `koanf:"model"`
	Temperature     float64 `koanf:"temperature"`
	MaxTokens       int     `koanf:"max_tokens"`
	TimeoutSeconds  int     `koanf:"timeout"`
}

// SCQServiceConfig is the [service.scq] table.
type SCQServiceConfig struct {
	Evaluate bool   `koanf:"evaluate"` // run the evaluator acceptance loop
	Ranker   string `koanf:"ranker"`   // simple, weighted, waste_management
}

// ObservabilityConfig is the [observability] table.
type ObservabilityConfig struct {
	MetricsEnabled bool    `koanf:"metrics_enabled"`
	MetricsPort    int     `koanf:"metrics_port"`
	TracingEnabled bool    `koanf:"tracing_enabled"`
	OTLPEndpoint   string  `koanf:"otlp_endpoint"`
	SamplingRate   float64 `koanf:"sampling_rate"`
	ServiceName    string  `koanf:"service_name"`
}

// SetDefaults fills every omitted field with its documented default.
func (c *Config) SetDefaults() {
	if c.System.Version == "" {
		c.System.Version = "1.0"
	}
	if c.Broker.BrokerName == "" {
		c.Broker.BrokerName = "nats"
	}
	if c.Broker.Nats.Host == "" {
		c.Broker.Nats.Host = "127.0.0.1"
	}
	if c.Broker.Nats.Port == 0 {
		c.Broker.Nats.Port = 4222
	}
	if c.Broker.Nats.Keepalive == 0 {
		c.Broker.Nats.Keepalive = 60
	}
	if c.Broker.Memory.Buffer == 0 {
		c.Broker.Memory.Buffer = 256
	}
	if c.Logging.Name == "" {
		c.Logging.Name = "wastepro"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Service.File.HomeDirectory == "" {
		c.Service.File.HomeDirectory = filepath.Join(".", "wastepro-files")
	}
	if c.Service.KG.Hostname == "" {
		c.Service.KG.Hostname = "127.0.0.1"
	}
	if c.Service.KG.Datapath == "" {
		c.Service.KG.Datapath = filepath.Join(".", "wastepro-kgs")
	}
	if c.Service.KG.Orchestrator == "" {
		c.Service.KG.Orchestrator = "docker"
	}
	if c.Service.LLM.Name == "" {
		c.Service.LLM.Name = "chatgpt"
	}
	c.Service.LLM.ChatGpt.setProviderDefaults("https://api.openai.com/v1", "gpt-4o-mini")
	c.Service.LLM.Claude.setProviderDefaults("https://api.anthropic.com", "claude-3-5-sonnet-20241022")
	c.Service.LLM.Llama.setProviderDefaults("http://localhost:11434", "llama3.2")
	c.Service.LLM.OssGpt.setProviderDefaults("http://localhost:11436", "gpt-oss:20b")
	c.Service.LLM.Gemini.setProviderDefaults("", "gemini-2.0-flash")
	if c.Service.SCQ.Ranker == "" {
		c.Service.SCQ.Ranker = "simple"
	}
	if c.Observability.MetricsPort == 0 {
		c.Observability.MetricsPort = 9464
	}
	if c.Observability.OTLPEndpoint == "" {
		c.Observability.OTLPEndpoint = "localhost:4317"
	}
	if c.Observability.SamplingRate == 0 {
		c.Observability.SamplingRate = 1.0
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "wastepro"
	}
}

func (p *LLMProviderConfig) setProviderDefaults(baseURL, model string) {
	if p.BaseURL == "" {
		p.BaseURL = baseURL
	}
	if p.Model == "" {
		p.Model = model
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 4096
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = 120
	}
}

// Validate rejects configurations the services cannot start from.
func (c *Config) Validate() error {
	switch c.Broker.BrokerName {
	case "nats", "memory":
	default:
		return fmt.Errorf("broker.broker_name: unknown broker %q", c.Broker.BrokerName)
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "VERBOSE", "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if _, err := c.Service.LLM.Provider(c.Service.LLM.Name); err != nil {
		return fmt.Errorf("service.llm.name: %w", err)
	}
	switch c.Service.KG.Orchestrator {
	case "docker", "static":
	default:
		return fmt.Errorf("service.kg.orchestrator: unknown orchestrator %q", c.Service.KG.Orchestrator)
	}
	if c.Service.KG.Orchestrator == "static" && c.Service.KG.Static.BoltURL == "" {
		return fmt.Errorf("service.kg.static.bolt_url: required with the static orchestrator")
	}
	switch c.Service.SCQ.Ranker {
	case "simple", "weighted", "waste_management":
	default:
		return fmt.Errorf("service.scq.ranker: unknown ranker %q", c.Service.SCQ.Ranker)
	}
	return nil
}

// Path resolves the config file location: WASTEPRO_CONFIG_PATH when set,
// otherwise ./wastepro.toml.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}
