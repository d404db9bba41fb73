package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/systmms/secrets-replicator/pkg/provider"
)

// AWSOptions selects how the base AWS configuration is loaded.
type AWSOptions struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
}

// LoadAWSConfig loads the default AWS configuration. Static credentials are
// used when both keys are set, which is how LocalStack is usually reached.
// SDK level retries are disabled; replication retries are owned by the
// retry policy.
func LoadAWSConfig(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(1),
	}
	if opts.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// ClientFactory builds Secrets Manager stores for destinations, assuming
// cross-account roles where declared. Stores are reused per region and role.
type ClientFactory struct {
	base      aws.Config
	endpoint  string
	assumer   *RoleAssumer
	assumeOpt []AssumerOption
	newClient func(aws.Config) SecretsManagerAPI

	mu     sync.Mutex
	stores map[string]*SecretsManagerStore
}

// FactoryOption configures a ClientFactory.
type FactoryOption func(*ClientFactory)

// WithEndpoint points every client at a custom endpoint such as LocalStack
func WithEndpoint(endpoint string) FactoryOption {
	return func(f *ClientFactory) {
		f.endpoint = endpoint
	}
}

// WithRoleAssumer replaces the STS backed role assumer
func WithRoleAssumer(assumer *RoleAssumer) FactoryOption {
	return func(f *ClientFactory) {
		f.assumer = assumer
	}
}

// WithAssumerOptions configures the STS backed role assumer built by the
// factory. It has no effect together with WithRoleAssumer.
func WithAssumerOptions(opts ...AssumerOption) FactoryOption {
	return func(f *ClientFactory) {
		f.assumeOpt = append(f.assumeOpt, opts...)
	}
}

// WithSecretsManagerConstructor replaces how Secrets Manager clients are built
func WithSecretsManagerConstructor(fn func(aws.Config) SecretsManagerAPI) FactoryOption {
	return func(f *ClientFactory) {
		f.newClient = fn
	}
}

// NewClientFactory creates a factory from a base configuration
func NewClientFactory(base aws.Config, opts ...FactoryOption) *ClientFactory {
	f := &ClientFactory{
		base:   base,
		stores: make(map[string]*SecretsManagerStore),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.newClient == nil {
		f.newClient = func(cfg aws.Config) SecretsManagerAPI {
			return secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
				if f.endpoint != "" {
					o.BaseEndpoint = aws.String(f.endpoint)
				}
			})
		}
	}
	if f.assumer == nil {
		f.assumer = NewRoleAssumer(sts.NewFromConfig(base, func(o *sts.Options) {
			if f.endpoint != "" {
				o.BaseEndpoint = aws.String(f.endpoint)
			}
		}), f.assumeOpt...)
	}
	return f
}

// ForDestination implements provider.WriterFactory
func (f *ClientFactory) ForDestination(ctx context.Context, region, roleARN string) (provider.DestinationWriter, error) {
	store, err := f.Store(ctx, region, roleARN)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Store returns the Secrets Manager store for region, operating under
// roleARN when set. The role is assumed eagerly so trust policy failures
// surface here rather than on the first write.
func (f *ClientFactory) Store(ctx context.Context, region, roleARN string) (*SecretsManagerStore, error) {
	if roleARN != "" {
		if _, err := f.assumer.Assume(ctx, roleARN); err != nil {
			return nil, err
		}
	}

	key := region + "|" + roleARN
	f.mu.Lock()
	defer f.mu.Unlock()

	if store, ok := f.stores[key]; ok {
		return store, nil
	}

	cfg := f.base.Copy()
	if region != "" {
		cfg.Region = region
	}
	if roleARN != "" {
		cfg.Credentials = aws.NewCredentialsCache(f.assumer.Provider(roleARN))
	}

	store := NewSecretsManagerStore(f.newClient(cfg), cfg.Region)
	f.stores[key] = store
	return store, nil
}

// Source returns the store for the source region using base credentials
func (f *ClientFactory) Source(ctx context.Context) (*SecretsManagerStore, error) {
	return f.Store(ctx, f.base.Region, "")
}

// SSM returns a Parameter Store config source in the base region
func (f *ClientFactory) SSM() *SSMConfigSource {
	client := ssm.NewFromConfig(f.base, func(o *ssm.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
		}
	})
	return NewSSMConfigSource(client)
}
