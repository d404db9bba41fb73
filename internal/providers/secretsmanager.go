package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/pkg/provider"
)

const secretsManagerName = "aws-secretsmanager"

// ReplicaDescription is set on secrets created by the replicator.
const ReplicaDescription = "Replicated by secrets-replicator"

// SecretsManagerAPI is the subset of the Secrets Manager client the store uses.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	UpdateSecret(ctx context.Context, params *secretsmanager.UpdateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretOutput, error)
}

// SecretsManagerStore reads and writes secrets in one region.
type SecretsManagerStore struct {
	client SecretsManagerAPI
	region string
}

// NewSecretsManagerStore wraps a Secrets Manager client for region
func NewSecretsManagerStore(client SecretsManagerAPI, region string) *SecretsManagerStore {
	return &SecretsManagerStore{client: client, region: region}
}

// Region returns the store's region
func (s *SecretsManagerStore) Region() string {
	return s.region
}

// Fetch reads the current version of a secret. Binary secrets are returned
// with Binary set and an empty Value.
func (s *SecretsManagerStore) Fetch(ctx context.Context, name string) (provider.Secret, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return provider.Secret{}, classify(secretsManagerName, "get secret value", name, err)
	}

	secret := provider.Secret{
		Name:    name,
		ARN:     aws.ToString(out.ARN),
		Version: aws.ToString(out.VersionId),
	}
	if out.CreatedDate != nil {
		secret.CreatedAt = *out.CreatedDate
	}

	switch {
	case out.SecretString != nil:
		secret.Value = *out.SecretString
		secret.Size = len(secret.Value)
	case out.SecretBinary != nil:
		secret.Binary = true
		secret.Size = len(out.SecretBinary)
	default:
		return provider.Secret{}, dserrors.Malformed("get secret value", fmt.Sprintf("secret %s has no value", name), nil)
	}

	return secret, nil
}

// Exists reports whether a secret with this name exists. A secret scheduled
// for deletion cannot be written and is reported as an error.
func (s *SecretsManagerStore) Exists(ctx context.Context, name string) (bool, error) {
	out, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify(secretsManagerName, "describe secret", name, err)
	}
	if out.DeletedDate != nil {
		return true, dserrors.Malformed("describe secret", fmt.Sprintf("secret %s is scheduled for deletion on %s", name, out.DeletedDate.Format(time.RFC3339)), nil)
	}
	return true, nil
}

// Create creates a new secret and returns its first version id
func (s *SecretsManagerStore) Create(ctx context.Context, name, value, kmsKeyID string) (string, error) {
	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(value),
		Description:  aws.String(ReplicaDescription),
	}
	if kmsKeyID != "" {
		input.KmsKeyId = aws.String(kmsKeyID)
	}

	out, err := s.client.CreateSecret(ctx, input)
	if err != nil {
		return "", classify(secretsManagerName, "create secret", name, err)
	}
	return aws.ToString(out.VersionId), nil
}

// Update stores a new version of an existing secret. When kmsKeyID is set the
// secret's key is changed along with the value.
func (s *SecretsManagerStore) Update(ctx context.Context, name, value, kmsKeyID string) (string, error) {
	if kmsKeyID != "" {
		out, err := s.client.UpdateSecret(ctx, &secretsmanager.UpdateSecretInput{
			SecretId:     aws.String(name),
			SecretString: aws.String(value),
			KmsKeyId:     aws.String(kmsKeyID),
		})
		if err != nil {
			return "", classify(secretsManagerName, "update secret", name, err)
		}
		return aws.ToString(out.VersionId), nil
	}

	out, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err != nil {
		return "", classify(secretsManagerName, "put secret value", name, err)
	}
	return aws.ToString(out.VersionId), nil
}

// Get implements provider.ConfigSource over text secrets
func (s *SecretsManagerStore) Get(ctx context.Context, key string) (string, error) {
	secret, err := s.Fetch(ctx, key)
	if err != nil {
		return "", err
	}
	if secret.Binary {
		return "", dserrors.New(dserrors.KindUnsupported, "get config", fmt.Sprintf("configuration secret %s is binary", key), nil)
	}
	return secret.Value, nil
}
