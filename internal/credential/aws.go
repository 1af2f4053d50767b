package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerProvider reads one JSON object secret ({"rtm_token": "..."})
// and serves its fields as credentials. The secret is fetched once.
type SecretsManagerProvider struct {
	client   secretsManagerAPI
	secretID string

	once   sync.Once
	values map[string]string
	err    error
}

func NewSecretsManagerProvider(ctx context.Context, region, secretID string) (*SecretsManagerProvider, error) {
	if secretID == "" {
		return nil, errors.New("credentials.aws_secret_id is required for the aws provider")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return newSecretsManagerProvider(secretsmanager.NewFromConfig(cfg), secretID), nil
}

func newSecretsManagerProvider(client secretsManagerAPI, secretID string) *SecretsManagerProvider {
	return &SecretsManagerProvider{client: client, secretID: secretID}
}

func (p *SecretsManagerProvider) Name() string { return "aws" }

func (p *SecretsManagerProvider) Lookup(ctx context.Context, key string) (string, error) {
	p.once.Do(func() {
		p.values, p.err = p.fetch(ctx)
	})
	if p.err != nil {
		return "", p.err
	}
	v, ok := p.values[key]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (p *SecretsManagerProvider) fetch(ctx context.Context) (map[string]string, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("getting secret %s: %w", p.secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", p.secretID)
	}
	values := make(map[string]string)
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object of strings: %w", p.secretID, err)
	}
	return values, nil
}
