package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeAPI struct {
	values map[string]Credentials
}

func (f *fakeAPI) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	creds, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("secret not found")
	}
	body, _ := json.Marshal(creds)
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(string(body))}, nil
}

func TestResolveDecodesSecretValue(t *testing.T) {
	arn := "arn:aws:secretsmanager:us-east-1:1234:secret:cortex/dstore"
	c := newWithAPI(&fakeAPI{values: map[string]Credentials{
		arn: {Username: "cortex", Password: "hunter2"},
	}})

	creds, err := c.Resolve(context.Background(), arn)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if creds.Username != "cortex" || creds.Password != "hunter2" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestIsSecretRef(t *testing.T) {
	if !IsSecretRef("$SECRET:arn:aws:secretsmanager:us-east-1:1234:secret:x") {
		t.Fatal("expected a $SECRET: prefixed value to be recognized")
	}
	if IsSecretRef("plain-password") {
		t.Fatal("expected a plain value to not be recognized as a secret ref")
	}
}

func TestResolveCredentialsPassesThroughPlainValues(t *testing.T) {
	c := newWithAPI(&fakeAPI{values: map[string]Credentials{}})
	creds, err := c.ResolveCredentials(context.Background(), "alice", "plain-password", "")
	if err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}
	if creds.Username != "alice" || creds.Password != "plain-password" {
		t.Fatalf("expected passthrough, got %+v", creds)
	}
}

func TestResolveCredentialsUsesSecretsARN(t *testing.T) {
	arn := "arn:aws:secretsmanager:us-east-1:1234:secret:cortex/dstore"
	c := newWithAPI(&fakeAPI{values: map[string]Credentials{
		arn: {Username: "cortex", Password: "s3cr3t"},
	}})

	creds, err := c.ResolveCredentials(context.Background(), "ignored", "ignored", arn)
	if err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}
	if creds.Username != "cortex" || creds.Password != "s3cr3t" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestResolveCredentialsUsesSecretRefInPassword(t *testing.T) {
	arn := "arn:aws:secretsmanager:us-east-1:1234:secret:cortex/dstore"
	c := newWithAPI(&fakeAPI{values: map[string]Credentials{
		arn: {Username: "cortex", Password: "s3cr3t"},
	}})

	creds, err := c.ResolveCredentials(context.Background(), "ignored", secretRefPrefix+arn, "")
	if err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}
	if creds.Password != "s3cr3t" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}
