package output

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
)

// S3Config contains S3-specific configuration
type S3Config struct {
	BaseConfig `yaml:",inline"`

	// Bucket is the S3 bucket name
	Bucket string `yaml:"bucket"`

	// Region is the AWS region
	Region string `yaml:"region"`

	// Prefix is the key prefix for objects
	Prefix string `yaml:"prefix,omitempty"`

	// KeyTemplate is the template for object keys
	// ({{.Year}} {{.Month}} {{.Day}} {{.Hour}} {{.Timestamp}} {{.RunID}})
	KeyTemplate string `yaml:"key_template,omitempty"`

	// StorageClass is the S3 storage class (STANDARD, GLACIER, etc.)
	StorageClass string `yaml:"storage_class,omitempty"`

	// ServerSideEncryption specifies encryption (AES256, aws:kms)
	ServerSideEncryption string `yaml:"server_side_encryption,omitempty"`

	// AccessKeyID for static credentials (optional, uses the default chain if not set)
	AccessKeyID string `yaml:"access_key_id,omitempty"`

	// SecretAccessKey for static credentials
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`

	// SessionToken for temporary credentials
	SessionToken string `yaml:"session_token,omitempty"`

	// Endpoint for S3-compatible services (e.g., MinIO)
	Endpoint string `yaml:"endpoint,omitempty"`

	// UsePathStyle forces path-style addressing
	UsePathStyle bool `yaml:"use_path_style,omitempty"`
}

// DefaultS3Config returns default S3 configuration
func DefaultS3Config() S3Config {
	return S3Config{
		BaseConfig:   DefaultBaseConfig(),
		Region:       "us-east-1",
		Prefix:       "triage/",
		KeyTemplate:  "{{.Year}}/{{.Month}}/{{.Day}}/{{.RunID}}.json",
		StorageClass: "STANDARD",
	}
}

// objectPutter is the subset of the S3 client used by the sink
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads each result as one object
type S3Sink struct {
	config     S3Config
	client     objectPutter
	compressor Compressor
	closed     atomic.Bool
}

// NewS3Sink loads AWS configuration and creates an S3 client
func NewS3Sink(ctx context.Context, s3Config S3Config) (*S3Sink, error) {
	if s3Config.Region == "" {
		return nil, fmt.Errorf("no region specified")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3Config.Region)}
	if s3Config.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3Config.AccessKeyID, s3Config.SecretAccessKey, s3Config.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if s3Config.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(s3Config.Endpoint)
			o.UsePathStyle = s3Config.UsePathStyle
		})
	}

	return newS3Sink(s3Config, s3.NewFromConfig(cfg, opts...))
}

func newS3Sink(config S3Config, client objectPutter) (*S3Sink, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("no bucket specified")
	}

	compressor, err := GetCompressor(config.Compression)
	if err != nil {
		return nil, err
	}

	return &S3Sink{config: config, client: client, compressor: compressor}, nil
}

// Send uploads the encoded, compressed result
func (s *S3Sink) Send(ctx context.Context, result *pipeline.Result) error {
	if s.closed.Load() {
		return fmt.Errorf("s3 sink is closed")
	}

	data, err := Encode(result, false)
	if err != nil {
		return err
	}
	data, err = s.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.key(result.Summary.RunID, result.Summary.GeneratedAt)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"run-id": result.Summary.RunID},
	}
	if s.config.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.config.StorageClass)
	}
	if s.config.ServerSideEncryption != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryption(s.config.ServerSideEncryption)
	}
	if c := s.config.Compression; c != "" && c != CompressionNone {
		input.ContentEncoding = aws.String(string(c))
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// key renders the object key for a run
func (s *S3Sink) key(runID string, at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	key := s.config.KeyTemplate
	if key == "" {
		key = "{{.RunID}}.json"
	}

	replacer := strings.NewReplacer(
		"{{.Year}}", fmt.Sprintf("%04d", at.Year()),
		"{{.Month}}", fmt.Sprintf("%02d", at.Month()),
		"{{.Day}}", fmt.Sprintf("%02d", at.Day()),
		"{{.Hour}}", fmt.Sprintf("%02d", at.Hour()),
		"{{.Timestamp}}", fmt.Sprintf("%d", at.Unix()),
		"{{.RunID}}", runID,
	)

	return s.config.Prefix + replacer.Replace(key) + s.config.Compression.Extension()
}

// Close marks the sink closed
func (s *S3Sink) Close() error {
	s.closed.Store(true)
	return nil
}

// Name returns the sink name
func (s *S3Sink) Name() string {
	if s.config.Name != "" {
		return s.config.Name
	}
	return "s3"
}
