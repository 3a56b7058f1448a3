// Package awssm provides a SecretProvider backed by AWS Secrets Manager.
package awssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/ineyio/llmgate"
)

// API is the subset of the Secrets Manager client used here.
type API interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Provider fetches secrets by name (or ARN) from Secrets Manager.
type Provider struct {
	client API
	prefix string
}

var _ llmgate.SecretProvider = (*Provider)(nil)

// Option configures Provider.
type Option func(*Provider)

// WithPrefix prepends prefix to every secret name, e.g. "llmgate/prod/".
func WithPrefix(prefix string) Option {
	return func(p *Provider) { p.prefix = prefix }
}

// New creates a provider using client.
func New(client API, opts ...Option) *Provider {
	p := &Provider{client: client}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromDefaultConfig loads AWS credentials from the default chain.
func NewFromDefaultConfig(ctx context.Context, region string, opts ...Option) (*Provider, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("llmgate/awssm: load aws config: %w", err)
	}
	return New(secretsmanager.NewFromConfig(cfg), opts...), nil
}

func (p *Provider) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.prefix + name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", llmgate.ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("llmgate/awssm: get %s: %w", name, err)
	}

	value := aws.ToString(out.SecretString)
	if value == "" && len(out.SecretBinary) > 0 {
		value = string(out.SecretBinary)
	}
	if value == "" {
		return "", fmt.Errorf("%w: %s is empty", llmgate.ErrSecretNotFound, name)
	}
	return value, nil
}
