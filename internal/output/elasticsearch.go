package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/reliability"
)

// ElasticsearchConfig contains Elasticsearch-specific configuration
type ElasticsearchConfig struct {
	BaseConfig `yaml:",inline"`

	// Addresses is the list of Elasticsearch node URLs
	Addresses []string `yaml:"addresses"`

	// Index receives one summary document per run, with the run ID as document ID
	Index string `yaml:"index"`

	// FindingsIndex receives one document per finding. Defaults to Index + "-findings".
	FindingsIndex string `yaml:"findings_index,omitempty"`

	// IndexRotation appends a date suffix (daily, monthly, none)
	IndexRotation string `yaml:"index_rotation,omitempty"`

	// Pipeline is the ingest pipeline to use
	Pipeline string `yaml:"pipeline,omitempty"`

	// Username for authentication
	Username string `yaml:"username,omitempty"`

	// Password for authentication
	Password string `yaml:"password,omitempty"`

	// CloudID for Elastic Cloud
	CloudID string `yaml:"cloud_id,omitempty"`

	// APIKey for authentication
	APIKey string `yaml:"api_key,omitempty"`

	// Transport overrides the HTTP transport
	Transport http.RoundTripper `yaml:"-"`
}

// DefaultElasticsearchConfig returns default Elasticsearch configuration
func DefaultElasticsearchConfig() ElasticsearchConfig {
	return ElasticsearchConfig{
		BaseConfig:    DefaultBaseConfig(),
		Addresses:     []string{"http://localhost:9200"},
		Index:         "logtriage",
		IndexRotation: "daily",
	}
}

// ElasticsearchSink indexes run summaries and bulk-indexes findings
type ElasticsearchSink struct {
	config ElasticsearchConfig
	client *elasticsearch.Client
	closed atomic.Bool
}

// NewElasticsearchSink creates the client and verifies the cluster is reachable
func NewElasticsearchSink(config ElasticsearchConfig) (*ElasticsearchSink, error) {
	if len(config.Addresses) == 0 && config.CloudID == "" {
		return nil, fmt.Errorf("no addresses or cloud ID specified")
	}
	if config.Index == "" {
		return nil, fmt.Errorf("no index specified")
	}
	if config.FindingsIndex == "" {
		config.FindingsIndex = config.Index + "-findings"
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: config.Addresses,
		CloudID:   config.CloudID,
		Username:  config.Username,
		Password:  config.Password,
		APIKey:    config.APIKey,
		Transport: config.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.Status())
	}

	return &ElasticsearchSink{config: config, client: client}, nil
}

// Send indexes the summary, then the findings in one bulk request. Document IDs
// derive from the run ID so a retried send overwrites instead of duplicating.
func (e *ElasticsearchSink) Send(ctx context.Context, result *pipeline.Result) error {
	if e.closed.Load() {
		return fmt.Errorf("elasticsearch sink is closed")
	}

	doc, err := Encode(result, false)
	if err != nil {
		return err
	}

	at := result.Summary.GeneratedAt
	req := esapi.IndexRequest{
		Index:      e.indexName(e.config.Index, at),
		DocumentID: result.Summary.RunID,
		Body:       bytes.NewReader(doc),
		Pipeline:   e.config.Pipeline,
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("failed to index summary: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := fmt.Errorf("elasticsearch returned error: %s", res.Status())
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return reliability.Permanent(err)
		}
		return err
	}

	return e.indexFindings(ctx, result, at)
}

// indexFindings sends finding documents using the Bulk API
func (e *ElasticsearchSink) indexFindings(ctx context.Context, result *pipeline.Result, at time.Time) error {
	docs := Findings(result)
	if len(docs) == 0 {
		return nil
	}

	index := e.indexName(e.config.FindingsIndex, at)

	var buf bytes.Buffer
	for i, doc := range docs {
		action := map[string]any{
			"_index": index,
			"_id":    fmt.Sprintf("%s-%d", result.Summary.RunID, i),
		}
		if e.config.Pipeline != "" {
			action["pipeline"] = e.config.Pipeline
		}

		meta, err := json.Marshal(map[string]any{"index": action})
		if err != nil {
			return fmt.Errorf("failed to marshal bulk action: %w", err)
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal finding: %w", err)
		}

		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(body)
		buf.WriteByte('\n')
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()), e.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk request returned error: %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to parse bulk response: %w", err)
	}

	if !bulkResp.Errors {
		return nil
	}

	var failed int
	var lastErr string
	for _, item := range bulkResp.Items {
		for _, op := range item {
			if op.Status >= 400 {
				failed++
				lastErr = string(op.Error)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d out of %d findings failed to index: %s", failed, len(docs), lastErr)
	}
	return nil
}

// indexName applies the configured rotation to base
func (e *ElasticsearchSink) indexName(base string, at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	switch strings.ToLower(e.config.IndexRotation) {
	case "daily":
		return fmt.Sprintf("%s-%s", base, at.Format("2006.01.02"))
	case "monthly":
		return fmt.Sprintf("%s-%s", base, at.Format("2006.01"))
	default:
		return base
	}
}

// Ping checks that the cluster answers
func (e *ElasticsearchSink) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch returned error: %s", res.Status())
	}
	return nil
}

// Close marks the sink closed
func (e *ElasticsearchSink) Close() error {
	e.closed.Store(true)
	return nil
}

// Name returns the sink name
func (e *ElasticsearchSink) Name() string {
	if e.config.Name != "" {
		return e.config.Name
	}
	return "elasticsearch"
}
