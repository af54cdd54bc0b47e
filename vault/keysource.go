// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Environment variables consulted by LoadKey.
const (
	// EncryptionKeyEnvVar holds the base64-encoded 32-byte master key.
	EncryptionKeyEnvVar = "ENCRYPTION_KEY"

	// EncryptionKeyARNEnvVar holds an AWS Secrets Manager ARN to fetch the
	// key from instead. Takes precedence over EncryptionKeyEnvVar.
	EncryptionKeyARNEnvVar = "ENCRYPTION_KEY_SECRET_ARN"
)

// LoadKey resolves the process-wide vault key at startup.
// If ENCRYPTION_KEY_SECRET_ARN is set the key is fetched from AWS Secrets
// Manager; otherwise ENCRYPTION_KEY must carry the base64-encoded key.
// A missing or malformed key is a startup-fatal error for callers.
func LoadKey(ctx context.Context) ([]byte, error) {
	if arn := os.Getenv(EncryptionKeyARNEnvVar); arn != "" {
		fetcher, err := NewSecretsManagerKeySource(ctx, SecretsManagerKeySourceOptions{})
		if err != nil {
			return nil, err
		}
		return fetcher.FetchKey(ctx, arn)
	}

	encoded := os.Getenv(EncryptionKeyEnvVar)
	if encoded == "" {
		return nil, fmt.Errorf("%s environment variable is not set", EncryptionKeyEnvVar)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", EncryptionKeyEnvVar, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%s must decode to %d bytes, got %d", EncryptionKeyEnvVar, KeySize, len(key))
	}

	return key, nil
}

// SecretsManagerKeySource fetches the vault key from AWS Secrets Manager,
// caching the fetched value for a bounded TTL.
type SecretsManagerKeySource struct {
	client *secretsmanager.Client
	logger *log.Logger
	ttl    time.Duration

	mu        sync.Mutex
	cached    []byte
	expiresAt time.Time
}

// SecretsManagerKeySourceOptions holds options for creating a key source.
type SecretsManagerKeySourceOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewSecretsManagerKeySource creates a key source backed by AWS Secrets Manager.
func NewSecretsManagerKeySource(ctx context.Context, opts SecretsManagerKeySourceOptions) (*SecretsManagerKeySource, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[VAULT_KEY] ", log.LstdFlags)
	}

	cfgOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &SecretsManagerKeySource{
		client: secretsmanager.NewFromConfig(cfg),
		logger: logger,
		ttl:    ttl,
	}, nil
}

// FetchKey retrieves and decodes the base64 vault key stored under secretARN.
func (s *SecretsManagerKeySource) FetchKey(ctx context.Context, secretARN string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Now().Before(s.expiresAt) {
		return s.cached, nil
	}

	s.logger.Printf("Fetching vault key %s from AWS Secrets Manager", maskARN(secretARN))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	key, err := base64.StdEncoding.DecodeString(*result.SecretString)
	if err != nil {
		return nil, fmt.Errorf("secret %s is not valid base64: %w", maskARN(secretARN), err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("secret %s must decode to %d bytes, got %d", maskARN(secretARN), KeySize, len(key))
	}

	s.cached = key
	s.expiresAt = time.Now().Add(s.ttl)

	return key, nil
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}
