package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/detect"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/input"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/output"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/parser"
	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: debug
  format: console

input:
  files:
    - /var/log/app.log
    - /var/log/auth.log
  follow:
    - path: /var/log/live.log
      from_end: true
  kubernetes:
    - namespace: prod
      label_selector: app=api
      follow: true

parser:
  patterns:
    - name: nginx-error
      pattern: '^(?P<timestamp>\S+ \S+) \[(?P<level>\w+)\] (?P<message>.*)$'
    - grok: syslog

rules:
  - name: auth failures
    where:
      contains: [failed login, invalid password]
    action:
      bucket: auth
      addTag: security
      elevate: page

detectors:
  - name: Disk Pressure
    pattern: no space left
    threshold: 3
    severity: MEDIUM

aggregation:
  sample_cap: 3

pipeline:
  max_lines: 10000
  partitions: 4

output:
  sinks:
    - type: file
      file:
        path: /tmp/report.json
        compression: gzip
    - type: kafka
      kafka:
        brokers: [kafka-1:9092]
        topic: triage
  retry:
    max_retries: 5
    initial_backoff: 200ms

tracing:
  enabled: true
  endpoint: otel:4317
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if len(cfg.Input.Files) != 2 {
		t.Errorf("Expected 2 file inputs, got %d", len(cfg.Input.Files))
	}
	if len(cfg.Input.Follow) != 1 || !cfg.Input.Follow[0].FromEnd {
		t.Errorf("Follow = %+v", cfg.Input.Follow)
	}
	if len(cfg.Input.Kubernetes) != 1 || cfg.Input.Kubernetes[0].LabelSelector != "app=api" {
		t.Errorf("Kubernetes = %+v", cfg.Input.Kubernetes)
	}
	if len(cfg.Parser.Patterns) != 2 || cfg.Parser.Patterns[1].Grok != "syslog" {
		t.Errorf("Patterns = %+v", cfg.Parser.Patterns)
	}

	if len(cfg.Rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(cfg.Rules))
	}
	rule := cfg.Rules[0]
	if len(rule.Where.Contains) != 2 || !rule.Action.AddTag.Contains("security") || rule.Action.Elevate != "page" {
		t.Errorf("rule = %+v", rule)
	}

	if len(cfg.Detectors) != 1 || cfg.Detectors[0].Severity != types.SeverityMedium {
		t.Errorf("Detectors = %+v", cfg.Detectors)
	}

	if cfg.Aggregation.SampleCap != 3 || cfg.Aggregation.TopN != DefaultTopN || cfg.Aggregation.Ranked != DefaultRanked {
		t.Errorf("Aggregation = %+v", cfg.Aggregation)
	}
	if cfg.Pipeline.MaxLines != 10000 || cfg.Pipeline.Partitions != 4 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}

	if len(cfg.Output.Sinks) != 2 {
		t.Fatalf("Expected 2 sinks, got %d", len(cfg.Output.Sinks))
	}
	if cfg.Output.Sinks[0].File.Compression != output.CompressionGzip {
		t.Errorf("file compression = %q", cfg.Output.Sinks[0].File.Compression)
	}
	if cfg.Output.Sinks[1].Kafka.Topic != "triage" {
		t.Errorf("kafka topic = %q", cfg.Output.Sinks[1].Kafka.Topic)
	}
	if cfg.Output.Retry.MaxRetries != 5 || cfg.Output.Retry.InitialBackoff != 200*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Output.Retry)
	}

	if !cfg.Tracing.Enabled || cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}

	pc := cfg.PipelineConfig()
	if pc.MaxLines != 10000 || pc.SampleCap != 3 || len(pc.Detectors) != 1 {
		t.Errorf("PipelineConfig() = %+v", pc)
	}

	chain, err := cfg.ParserChain()
	if err != nil {
		t.Fatalf("ParserChain() error = %v", err)
	}
	if _, name, _ := chain.ParseNamed("2024/01/15 10:30:00 [error] upstream timed out"); name != "nginx-error" {
		t.Errorf("configured pattern not used, strategy = %s", name)
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("KAFKA_BROKER", "broker:9092")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: ${LOG_LEVEL}
output:
  sinks:
    - type: kafka
      kafka:
        brokers: [$KAFKA_BROKER]
        topic: triage
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level warn (from env var), got %s", cfg.Logging.Level)
	}
	if got := cfg.Output.Sinks[0].Kafka.Brokers; len(got) != 1 || got[0] != "broker:9092" {
		t.Errorf("Brokers = %v", got)
	}
}

func TestParse_ResolvesSecrets(t *testing.T) {
	t.Setenv("LOGTRIAGE_ES_PASSWORD", "es-secret")

	keyFile := filepath.Join(t.TempDir(), "api-key")
	if err := os.WriteFile(keyFile, []byte("key-from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Parse([]byte(`
server:
  api_keys:
    - file:` + keyFile + `
    - literal-key
output:
  sinks:
    - type: elasticsearch
      elasticsearch:
        addresses: [http://localhost:9200]
        index: triage
        username: triage
        password: env:LOGTRIAGE_ES_PASSWORD
  dead_letter:
    dir: /var/lib/logtriage/dlq
input:
  checkpoint_dir: /var/lib/logtriage/checkpoints
profiling:
  enabled: true
  mem_profile: /tmp/mem.pprof
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got := cfg.Server.APIKeys; len(got) != 2 || got[0] != "key-from-file" || got[1] != "literal-key" {
		t.Errorf("APIKeys = %v", got)
	}
	if got := cfg.Output.Sinks[0].Elasticsearch.Password; got != "es-secret" {
		t.Errorf("Password = %q, want es-secret", got)
	}
	if cfg.Output.DeadLetter.Dir != "/var/lib/logtriage/dlq" {
		t.Errorf("DeadLetter.Dir = %q", cfg.Output.DeadLetter.Dir)
	}
	if cfg.Input.CheckpointInterval != 5*time.Second {
		t.Errorf("CheckpointInterval = %v, want 5s default", cfg.Input.CheckpointInterval)
	}
	if !cfg.Profiling.Enabled || cfg.Profiling.MemProfilePath != "/tmp/mem.pprof" {
		t.Errorf("Profiling = %+v", cfg.Profiling)
	}

	if _, err := Parse([]byte(`
server:
  api_keys: [env:LOGTRIAGE_UNSET_KEY]
`)); err == nil {
		t.Error("Parse() expected error for unresolvable secret")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
	if _, err := Parse([]byte("logging: [unclosed")); err == nil {
		t.Error("Parse() expected error for malformed YAML")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "invalid" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *Config) { c.Logging.Format = "invalid" }, wantErr: true},
		{name: "negative max lines", mutate: func(c *Config) { c.Pipeline.MaxLines = -1 }, wantErr: true},
		{name: "zero partitions", mutate: func(c *Config) { c.Pipeline.Partitions = 0 }, wantErr: true},
		{name: "negative workers", mutate: func(c *Config) { c.Pipeline.Workers = -2 }, wantErr: true},
		{name: "negative sample cap", mutate: func(c *Config) { c.Aggregation.SampleCap = -1 }, wantErr: true},
		{name: "follow without path", mutate: func(c *Config) { c.Input.Follow = []input.FollowConfig{{}} }, wantErr: true},
		{name: "empty pattern", mutate: func(c *Config) { c.Parser.Patterns = []parser.PatternConfig{{Name: "x"}} }, wantErr: true},
		{name: "detector without name", mutate: func(c *Config) { c.Detectors = []detect.ThresholdConfig{{Pattern: "x", Threshold: 1}} }, wantErr: true},
		{name: "detector bad regex", mutate: func(c *Config) { c.Detectors = []detect.ThresholdConfig{{Name: "d", Pattern: "(", Threshold: 1}} }, wantErr: true},
		{name: "unknown sink", mutate: func(c *Config) { c.Output.Sinks = []output.SinkConfig{{Type: "fax"}} }, wantErr: true},
		{name: "file sink without path", mutate: func(c *Config) { c.Output.Sinks = []output.SinkConfig{{Type: "file"}} }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Output.Retry.MaxRetries = -1 }, wantErr: true},
		{name: "sample rate above one", mutate: func(c *Config) { c.Tracing.SampleRate = 1.5 }, wantErr: true},
		{name: "negative rate limit", mutate: func(c *Config) { c.Server.RateLimit = -1 }, wantErr: true},
		{name: "tls without key", mutate: func(c *Config) { c.Server.TLS.Enabled = true; c.Server.TLS.CertFile = "cert.pem" }, wantErr: true},
		{name: "negative dead letter size", mutate: func(c *Config) { c.Output.DeadLetter.MaxSize = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}

	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultLogLevel, cfg.Logging.Level)
	}
	if len(cfg.Output.Sinks) != 1 || cfg.Output.Sinks[0].Type != "stdout" {
		t.Errorf("Expected a single stdout sink, got %+v", cfg.Output.Sinks)
	}
	if cfg.Output.Retry.MaxRetries != 3 {
		t.Errorf("Expected default retry policy, got %+v", cfg.Output.Retry)
	}
	if cfg.Server.Address != DefaultAddress || cfg.Server.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Aggregation.SampleCap != DefaultSampleCap {
		t.Errorf("SampleCap = %d", cfg.Aggregation.SampleCap)
	}
}

func TestRateBurstDefault(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  rate_limit: 0.5\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.RateBurst != 1 {
		t.Errorf("RateBurst = %d, want 1", cfg.Server.RateBurst)
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	rulesContent := `
rules:
  - where: {level: fatal}
    action: {bucket: outage}
`
	if err := os.WriteFile(rulesPath, []byte(rulesContent), 0644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Rules = []types.TriageRule{{Name: "inline", Action: types.Action{Bucket: "first"}}}
	cfg.RulesFile = rulesPath

	loaded, err := cfg.LoadRules()
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(loaded) != 2 || loaded[0].Action.Bucket != "first" || loaded[1].Action.Bucket != "outage" {
		t.Errorf("LoadRules() = %+v", loaded)
	}

	cfg.RulesFile = filepath.Join(dir, "missing.yaml")
	if _, err := cfg.LoadRules(); err == nil {
		t.Error("LoadRules() expected error for missing file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil || cfg == nil {
		t.Fatalf("LoadOrDefault(\"\") = %v, %v", cfg, err)
	}
	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadOrDefault() expected error for a missing explicit path")
	}
}
