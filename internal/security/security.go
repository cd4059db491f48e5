package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// TLSConfig holds TLS configuration for the triage server
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file,omitempty"`     // Clients must present a certificate signed by this CA
	MinVersion string `yaml:"min_version,omitempty"` // 1.2 or 1.3
}

// LoadTLSConfig builds a server tls.Config. A disabled config yields nil.
func LoadTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("TLS requires both cert_file and key_file")
	}

	tlsConfig := &tls.Config{}

	switch cfg.MinVersion {
	case "", "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	case "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	default:
		return nil, fmt.Errorf("unsupported TLS min_version: %s", cfg.MinVersion)
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate and key: %w", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	// Load CA certificate if provided
	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		tlsConfig.ClientCAs = caCertPool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

// ResolveSecret dereferences a secret reference.
// Supports format: env:VAR_NAME, file:/path/to/secret, or plain text
func ResolveSecret(ref string) (string, error) {
	if strings.HasPrefix(ref, "env:") {
		envVar := strings.TrimPrefix(ref, "env:")
		value := os.Getenv(envVar)
		if value == "" {
			return "", fmt.Errorf("environment variable %s not found", envVar)
		}
		return value, nil
	}

	if strings.HasPrefix(ref, "file:") {
		filePath := strings.TrimPrefix(ref, "file:")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	return ref, nil
}

// ResolveSecrets dereferences every non-empty field in place, stopping at
// the first failure
func ResolveSecrets(fields ...*string) error {
	for _, f := range fields {
		if f == nil || *f == "" {
			continue
		}
		value, err := ResolveSecret(*f)
		if err != nil {
			return err
		}
		*f = value
	}
	return nil
}
