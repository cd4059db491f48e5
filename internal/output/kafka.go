package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/IBM/sarama"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
)

// KafkaConfig contains Kafka-specific configuration
type KafkaConfig struct {
	BaseConfig `yaml:",inline"`

	// Brokers is the list of Kafka broker addresses
	Brokers []string `yaml:"brokers"`

	// Topic receives one summary message per run, keyed by run ID
	Topic string `yaml:"topic"`

	// FindingsTopic receives one message per finding. Defaults to Topic.
	FindingsTopic string `yaml:"findings_topic,omitempty"`

	// RequiredAcks specifies the number of acknowledgments required (0, 1, -1)
	RequiredAcks int16 `yaml:"required_acks,omitempty"`

	// CompressionCodec specifies the producer codec (none, gzip, snappy, lz4, zstd)
	CompressionCodec string `yaml:"compression_codec,omitempty"`

	// MaxMessageBytes is the maximum size of a single message
	MaxMessageBytes int `yaml:"max_message_bytes,omitempty"`

	// IdempotentWrites enables the idempotent producer
	IdempotentWrites bool `yaml:"idempotent_writes,omitempty"`

	// EnableTLS enables TLS for connections
	EnableTLS bool `yaml:"enable_tls,omitempty"`

	// SASL configuration
	SASLEnabled   bool   `yaml:"sasl_enabled,omitempty"`
	SASLMechanism string `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	SASLUsername  string `yaml:"sasl_username,omitempty"`
	SASLPassword  string `yaml:"sasl_password,omitempty"`

	// ClientID is the client identifier
	ClientID string `yaml:"client_id,omitempty"`

	// Version is the Kafka protocol version
	Version string `yaml:"version,omitempty"`
}

// DefaultKafkaConfig returns default Kafka configuration
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		BaseConfig:       DefaultBaseConfig(),
		Brokers:          []string{"localhost:9092"},
		Topic:            "triage-summaries",
		RequiredAcks:     1,
		CompressionCodec: "none",
		MaxMessageBytes:  1000000, // 1MB
		ClientID:         "logtriage",
		Version:          "3.0.0",
	}
}

// KafkaSink publishes run summaries and findings to Kafka
type KafkaSink struct {
	config   KafkaConfig
	producer sarama.SyncProducer
	closed   atomic.Bool
}

// NewKafkaSink connects a synchronous producer to the brokers
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	saramaConfig, err := newSaramaConfig(config)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewKafkaSinkWithProducer(config, producer)
}

// NewKafkaSinkWithProducer creates a sink over an existing producer
func NewKafkaSinkWithProducer(config KafkaConfig, producer sarama.SyncProducer) (*KafkaSink, error) {
	if config.Topic == "" {
		return nil, fmt.Errorf("no topic specified")
	}
	if config.FindingsTopic == "" {
		config.FindingsTopic = config.Topic
	}

	return &KafkaSink{config: config, producer: producer}, nil
}

func newSaramaConfig(config KafkaConfig) (*sarama.Config, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers specified")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(config.RequiredAcks)
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	if config.ClientID != "" {
		saramaConfig.ClientID = config.ClientID
	}

	switch config.CompressionCodec {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	case "", "none":
		saramaConfig.Producer.Compression = sarama.CompressionNone
	default:
		return nil, fmt.Errorf("unsupported Kafka compression codec: %s", config.CompressionCodec)
	}

	if config.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = config.MaxMessageBytes
	}

	if config.Version != "" {
		version, err := sarama.ParseKafkaVersion(config.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid Kafka version: %w", err)
		}
		saramaConfig.Version = version
	}

	// The idempotent producer requires acks from all replicas and one in-flight request
	if config.IdempotentWrites {
		saramaConfig.Producer.Idempotent = true
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
		saramaConfig.Net.MaxOpenRequests = 1
	}

	if config.SASLEnabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = config.SASLUsername
		saramaConfig.Net.SASL.Password = config.SASLPassword

		switch config.SASLMechanism {
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	if config.EnableTLS {
		saramaConfig.Net.TLS.Enable = true
	}

	if err := saramaConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Kafka producer configuration: %w", err)
	}

	return saramaConfig, nil
}

// Send publishes the summary followed by one message per finding
func (k *KafkaSink) Send(ctx context.Context, result *pipeline.Result) error {
	if k.closed.Load() {
		return fmt.Errorf("kafka sink is closed")
	}

	messages, err := k.buildMessages(result)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := k.producer.SendMessages(messages); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			return fmt.Errorf("%d out of %d messages failed to send: %w", len(perrs), len(messages), err)
		}
		return fmt.Errorf("failed to send messages to Kafka: %w", err)
	}
	return nil
}

// buildMessages creates the summary and finding messages for a result
func (k *KafkaSink) buildMessages(result *pipeline.Result) ([]*sarama.ProducerMessage, error) {
	summary, err := Encode(result, false)
	if err != nil {
		return nil, err
	}

	runID := sarama.StringEncoder(result.Summary.RunID)
	header := []sarama.RecordHeader{{Key: []byte("content-type"), Value: []byte("application/json")}}

	messages := []*sarama.ProducerMessage{{
		Topic:   k.config.Topic,
		Key:     runID,
		Value:   sarama.ByteEncoder(summary),
		Headers: header,
	}}

	for _, doc := range Findings(result) {
		value, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal finding: %w", err)
		}
		messages = append(messages, &sarama.ProducerMessage{
			Topic:   k.config.FindingsTopic,
			Key:     runID,
			Value:   sarama.ByteEncoder(value),
			Headers: header,
		})
	}

	return messages, nil
}

// Close closes the producer
func (k *KafkaSink) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	return k.producer.Close()
}

// Name returns the sink name
func (k *KafkaSink) Name() string {
	if k.config.Name != "" {
		return k.config.Name
	}
	return "kafka"
}
