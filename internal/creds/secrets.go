package creds

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoginFromSecret fetches the upstream login from a Secrets Manager secret.
// The secret must be a JSON string with EARTHDATA_USERNAME and
// EARTHDATA_PASSWORD fields.
func LoginFromSecret(ctx context.Context, client SecretsAPI, secretARN string) (Login, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return Login{}, fmt.Errorf("%w: get secret: %v", ErrAuth, err)
	}
	if out.SecretString == nil {
		return Login{}, fmt.Errorf("%w: secret is not a string", ErrAuth)
	}

	var parsed struct {
		Username string `json:"EARTHDATA_USERNAME"`
		Password string `json:"EARTHDATA_PASSWORD"`
	}
	if err := json.Unmarshal([]byte(*out.SecretString), &parsed); err != nil {
		return Login{}, fmt.Errorf("%w: decode secret: %v", ErrAuth, err)
	}
	if parsed.Username == "" || parsed.Password == "" {
		return Login{}, fmt.Errorf("%w: secret missing login fields", ErrAuth)
	}
	return Login{Username: parsed.Username, Password: parsed.Password}, nil
}

// NewSecretsClient builds a Secrets Manager client from ambient AWS config.
func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}
