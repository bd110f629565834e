// Package secrets resolves D-store/V-store credentials from AWS Secrets
// Manager, following the teacher's internal/secrets resolver shape
// (secrets.Resolver / secrets.Store split in
// internal/secrets/resolver.go and internal/secrets/store.go) but backed
// by github.com/aws/aws-sdk-go-v2 instead of the teacher's
// Redis-encrypted store, since spec.md §6's Credentials surface expects
// an external secret manager rather than a self-hosted one.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

const secretRefPrefix = "$SECRET:"

// Credentials is the JSON shape stored for a D-store/V-store secret.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// api is the subset of *secretsmanager.Client the resolver calls,
// narrowed so tests can substitute a fake instead of reaching AWS.
type api interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Client resolves secret ARNs to credential pairs.
type Client struct {
	sm api
}

// New builds a Client from the ambient AWS configuration (environment,
// shared config file, or EC2/ECS instance role), mirroring the standard
// aws-sdk-go-v2 client construction idiom.
func New(ctx context.Context, region string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return &Client{sm: secretsmanager.NewFromConfig(cfg)}, nil
}

// NewWithStaticCredentials builds a Client against explicit static
// credentials, used in tests and local development where no instance
// role or shared config file is available.
func NewWithStaticCredentials(ctx context.Context, region, accessKeyID, secretAccessKey string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return &Client{sm: secretsmanager.NewFromConfig(cfg)}, nil
}

// newWithAPI wraps an already-constructed secretsmanager-shaped client,
// used by tests to inject a fake.
func newWithAPI(a api) *Client { return &Client{sm: a} }

// Resolve fetches and decodes the credential pair stored at arn.
func (c *Client) Resolve(ctx context.Context, arn string) (Credentials, error) {
	out, err := c.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: get secret value: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &creds); err != nil {
		return Credentials{}, fmt.Errorf("secrets: decode secret %s: %w", arn, err)
	}
	return creds, nil
}

// IsSecretRef reports whether value is a $SECRET:arn reference, the same
// convention the teacher's resolver uses for environment variable values.
func IsSecretRef(value string) bool {
	return strings.HasPrefix(value, secretRefPrefix)
}

// RefARN extracts the ARN from a $SECRET:arn reference.
func RefARN(value string) string {
	return strings.TrimPrefix(value, secretRefPrefix)
}

// ResolveCredentials resolves cfg's Credentials block: if Password is a
// $SECRET: reference (or SecretsARN is set directly), the pair is
// fetched from Secrets Manager; otherwise the plain username/password
// pass through unchanged.
func (c *Client) ResolveCredentials(ctx context.Context, username, password, secretsARN string) (Credentials, error) {
	arn := secretsARN
	if arn == "" && IsSecretRef(password) {
		arn = RefARN(password)
	}
	if arn == "" {
		return Credentials{Username: username, Password: password}, nil
	}
	return c.Resolve(ctx, arn)
}
