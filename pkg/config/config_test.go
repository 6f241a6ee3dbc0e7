package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wastepro.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[system]
version = "1.0"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "nats", cfg.Broker.BrokerName)
	assert.Equal(t, "127.0.0.1", cfg.Broker.Nats.Host)
	assert.Equal(t, 4222, cfg.Broker.Nats.Port)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Broker.Nats.URL())
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "chatgpt", cfg.Service.LLM.Name)
	assert.Equal(t, "gpt-4o-mini", cfg.Service.LLM.ChatGpt.Model)
	assert.Equal(t, "simple", cfg.Service.SCQ.Ranker)
	assert.Equal(t, 9464, cfg.Observability.MetricsPort)
}

func TestLoadFileFullSchema(t *testing.T) {
	path := writeConfig(t, `
[system]
version = "2.3"

[broker]
broker_name = "memory"

[broker.memory]
buffer = 64

[logging]
name = "ingestd"
level = "VERBOSE"
format = "json"

[service.file]
home_directory = "/var/lib/wastepro/files"

[service.kg]
hostname = "10.0.0.5"
datapath = "/var/lib/wastepro/kgs"
orchestrator = "static"

[service.kg.static]
bolt_url = "bolt://10.0.0.5:7687"
http_url = "http://10.0.0.5:7474"

[service.llm]
name = "ossgpt"

[service.llm.ossgpt]
base_url = "http://10.0.0.9:11436"
model = "gpt-oss:20b"

[service.scq]
evaluate = true
ranker = "waste_management"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "2.3", cfg.System.Version)
	assert.Equal(t, "memory", cfg.Broker.BrokerName)
	assert.Equal(t, 64, cfg.Broker.Memory.Buffer)
	assert.Equal(t, "VERBOSE", cfg.Logging.Level)
	assert.Equal(t, "static", cfg.Service.KG.Orchestrator)
	assert.Equal(t, "bolt://10.0.0.5:7687", cfg.Service.KG.Static.BoltURL)
	assert.True(t, cfg.Service.SCQ.Evaluate)

	provider, err := cfg.Service.LLM.Provider(cfg.Service.LLM.Name)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.9:11436", provider.BaseURL)
	assert.Equal(t, "gpt-oss:20b", provider.Model)
}

func TestLoadFileExpandsEnvVars(t *testing.T) {
	t.Setenv("WASTEPRO_TEST_KEY", "sk-test-123")
	t.Setenv("WASTEPRO_TEST_PORT", "4333")

	path := writeConfig(t, `
[broker.nats]
host = "broker.local"
port = "${WASTEPRO_TEST_PORT}"

[service.llm.chatgpt]
openai_api_key = "${WASTEPRO_TEST_KEY}"
model = "${WASTEPRO_TEST_MODEL:-gpt-4o}"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4333, cfg.Broker.Nats.Port)
	assert.Equal(t, "sk-test-123", cfg.Service.LLM.ChatGpt.OpenAIAPIKey)
	assert.Equal(t, "gpt-4o", cfg.Service.LLM.ChatGpt.Model)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"broker", "[broker]\nbroker_name = \"rabbitmq\"\n"},
		{"level", "[logging]\nlevel = \"TRACE\"\n"},
		{"provider", "[service.llm]\nname = \"davinci\"\n"},
		{"ranker", "[service.scq]\nranker = \"pagerank\"\n"},
		{"orchestrator", "[service.kg]\norchestrator = \"k8s\"\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestStaticOrchestratorRequiresBoltURL(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "[service.kg]\norchestrator = \"static\"\n"))
	assert.Error(t, err)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/wastepro/custom.toml")
	assert.Equal(t, "/etc/wastepro/custom.toml", Path())

	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultConfigPath, Path())
}

func TestExpandEnvVarsInDataRetypes(t *testing.T) {
	t.Setenv("WASTEPRO_TEST_FLAG", "true")

	out := ExpandEnvVarsInData(map[string]interface{}{
		"flag":   "${WASTEPRO_TEST_FLAG}",
		"plain":  "unchanged",
		"nested": []interface{}{"$WASTEPRO_TEST_FLAG"},
	})

	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, m["flag"])
	assert.Equal(t, "unchanged", m["plain"])
	assert.Equal(t, []interface{}{true}, m["nested"])
}
