package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/detect"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/dlq"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/input"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/output"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/parser"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/profiling"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/reliability"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/rules"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/security"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// Config represents the main configuration
type Config struct {
	Logging     LoggingConfig            `yaml:"logging"`
	Input       InputConfig              `yaml:"input"`
	Parser      ParserConfig             `yaml:"parser"`
	Rules       []types.TriageRule       `yaml:"rules,omitempty"`
	RulesFile   string                   `yaml:"rules_file,omitempty"`
	Detectors   []detect.ThresholdConfig `yaml:"detectors,omitempty"`
	Aggregation AggregationConfig        `yaml:"aggregation"`
	Pipeline    PipelineConfig           `yaml:"pipeline"`
	Output      OutputConfig             `yaml:"output"`
	Metrics     MetricsConfig            `yaml:"metrics"`
	Server      ServerConfig             `yaml:"server"`
	Tracing     tracing.Config           `yaml:"tracing"`
	Profiling   profiling.Config         `yaml:"profiling"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// InputConfig defines where raw lines come from. With no inputs the CLI reads stdin.
type InputConfig struct {
	Files      []string             `yaml:"files,omitempty"`
	Follow     []input.FollowConfig `yaml:"follow,omitempty"`
	Kubernetes []input.PodConfig    `yaml:"kubernetes,omitempty"`

	// Followed files resume from the offsets saved here
	CheckpointDir      string        `yaml:"checkpoint_dir,omitempty"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval,omitempty"`
}

// ParserConfig holds user patterns tried before the fallback strategy
type ParserConfig struct {
	Patterns []parser.PatternConfig `yaml:"patterns,omitempty"`
}

// AggregationConfig bounds what the summary retains
type AggregationConfig struct {
	SampleCap int `yaml:"sample_cap"`
	TopN      int `yaml:"top_n"`
	Ranked    int `yaml:"ranked"`
}

// PipelineConfig controls how a run reads its input
type PipelineConfig struct {
	MaxLines   int `yaml:"max_lines"`  // Entries triaged per run across all sources, 0 for unlimited
	Partitions int `yaml:"partitions"` // Byte-range partitions per input file
	Workers    int `yaml:"workers"`
}

// OutputConfig lists the sinks a report is delivered to
type OutputConfig struct {
	Sinks   []output.SinkConfig     `yaml:"sinks"`
	Retry   reliability.RetryConfig `yaml:"retry"`
	Timeout time.Duration           `yaml:"timeout,omitempty"`

	// Reports a sink still rejects after retries are spooled here
	DeadLetter dlq.Config `yaml:"dead_letter,omitempty"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"` // Runtime stats refresh
}

// ServerConfig holds the triage HTTP service configuration
type ServerConfig struct {
	Address      string        `yaml:"address"`
	APIKeys      []string      `yaml:"api_keys,omitempty"`
	RateLimit    float64       `yaml:"rate_limit,omitempty"` // Requests per second per client, 0 for unlimited
	RateBurst    int           `yaml:"rate_burst,omitempty"`
	MaxBodySize  int64         `yaml:"max_body_size,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
	TLS          security.TLSConfig `yaml:"tls,omitempty"`
}

// Default values
const (
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultSampleCap   = 5
	DefaultTopN        = 10
	DefaultRanked      = 20
	DefaultPartitions  = 1
	DefaultMetricsPath = "/metrics"
	DefaultAddress     = ":8080"
	DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration document
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Aggregation.SampleCap == 0 {
		c.Aggregation.SampleCap = DefaultSampleCap
	}
	if c.Aggregation.TopN == 0 {
		c.Aggregation.TopN = DefaultTopN
	}
	if c.Aggregation.Ranked == 0 {
		c.Aggregation.Ranked = DefaultRanked
	}
	if c.Pipeline.Partitions == 0 {
		c.Pipeline.Partitions = DefaultPartitions
	}

	if len(c.Output.Sinks) == 0 {
		c.Output.Sinks = []output.SinkConfig{{Type: "stdout"}}
	}
	if c.Output.Retry == (reliability.RetryConfig{}) {
		c.Output.Retry = reliability.DefaultRetryConfig()
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = 15 * time.Second
	}

	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = DefaultMaxBodySize
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst == 0 {
		c.Server.RateBurst = int(c.Server.RateLimit)
		if c.Server.RateBurst < 1 {
			c.Server.RateBurst = 1
		}
	}

	if c.Input.CheckpointDir != "" && c.Input.CheckpointInterval == 0 {
		c.Input.CheckpointInterval = 5 * time.Second
	}

	if c.Tracing.Enabled && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
}

// resolveSecrets replaces env: and file: references in credential fields
// with the values they point to
func (c *Config) resolveSecrets() error {
	fields := make([]*string, 0, len(c.Server.APIKeys)+len(c.Output.Sinks)*5)
	for i := range c.Server.APIKeys {
		fields = append(fields, &c.Server.APIKeys[i])
	}
	for i := range c.Output.Sinks {
		s := &c.Output.Sinks[i]
		fields = append(fields,
			&s.Elasticsearch.Password,
			&s.Elasticsearch.APIKey,
			&s.Kafka.SASLPassword,
			&s.S3.AccessKeyID,
			&s.S3.SecretAccessKey,
			&s.S3.SessionToken,
		)
	}
	return security.ResolveSecrets(fields...)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	for i, f := range c.Input.Follow {
		if f.Path == "" {
			return fmt.Errorf("follow input %d has no path configured", i)
		}
	}

	for i, p := range c.Parser.Patterns {
		if p.Pattern == "" && p.Grok == "" {
			return fmt.Errorf("parser pattern %d has neither pattern nor grok", i)
		}
	}

	if c.Pipeline.MaxLines < 0 {
		return fmt.Errorf("pipeline.max_lines must be non-negative")
	}
	if c.Pipeline.Partitions < 1 {
		return fmt.Errorf("pipeline.partitions must be at least 1")
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must be non-negative")
	}
	if c.Aggregation.SampleCap < 0 || c.Aggregation.TopN < 0 || c.Aggregation.Ranked < 0 {
		return fmt.Errorf("aggregation limits must be non-negative")
	}

	if _, err := detect.NewSetFromConfig(c.Detectors); err != nil {
		return fmt.Errorf("invalid detector: %w", err)
	}

	validSinks := map[string]bool{
		"stdout": true, "stderr": true, "file": true, "kafka": true, "elasticsearch": true, "s3": true,
	}
	for i, s := range c.Output.Sinks {
		if !validSinks[s.Type] {
			return fmt.Errorf("output %d has unsupported type: %s", i, s.Type)
		}
		if s.Type == "file" && s.File.Path == "" {
			return fmt.Errorf("file output %d has no path configured", i)
		}
	}
	if c.Output.Retry.MaxRetries < 0 {
		return fmt.Errorf("output.retry.max_retries must be non-negative")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be non-negative")
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls requires cert_file and key_file")
	}
	if c.Output.DeadLetter.MaxSize < 0 {
		return fmt.Errorf("output.dead_letter.max_size must be non-negative")
	}

	return nil
}

// LoadRules returns the inline rules followed by the rules of RulesFile
func (c *Config) LoadRules() ([]types.TriageRule, error) {
	loaded := append([]types.TriageRule{}, c.Rules...)
	if c.RulesFile == "" {
		return loaded, nil
	}

	fromFile, err := rules.Load(c.RulesFile)
	if err != nil {
		return nil, err
	}
	return append(loaded, fromFile...), nil
}

// ParserChain builds the line parser with the configured patterns
func (c *Config) ParserChain() (*parser.Chain, error) {
	patterns := make([]*parser.PatternStrategy, 0, len(c.Parser.Patterns))
	for i, pc := range c.Parser.Patterns {
		p, err := parser.NewPatternStrategy(pc)
		if err != nil {
			return nil, fmt.Errorf("parser pattern %d: %w", i, err)
		}
		patterns = append(patterns, p)
	}
	return parser.NewChain(parser.WithPatterns(patterns...)), nil
}

// PipelineConfig maps the pipeline and aggregation sections onto pipeline.Config
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MaxLines:  c.Pipeline.MaxLines,
		Workers:   c.Pipeline.Workers,
		SampleCap: c.Aggregation.SampleCap,
		TopIssues: c.Aggregation.TopN,
		Ranked:    c.Aggregation.Ranked,
		Detectors: c.Detectors,
	}
}

// LoggerConfig maps the logging section onto logging.Config
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	}
}

// LoadOrDefault loads configuration from path, or returns the default
// configuration when path is empty
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
