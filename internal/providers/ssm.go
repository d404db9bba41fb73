package providers

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/systmms/secrets-replicator/pkg/provider"
)

const ssmName = "aws-ssm"

// SSMAPI is the subset of the Parameter Store client the config source uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMConfigSource serves configuration blobs from Parameter Store.
// SecureString parameters are decrypted.
type SSMConfigSource struct {
	client SSMAPI
}

// NewSSMConfigSource wraps a Parameter Store client
func NewSSMConfigSource(client SSMAPI) *SSMConfigSource {
	return &SSMConfigSource{client: client}
}

// Get implements provider.ConfigSource
func (s *SSMConfigSource) Get(ctx context.Context, key string) (string, error) {
	name := ParameterName(key)
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", classify(ssmName, "get parameter", name, err)
	}
	if out.Parameter == nil {
		return "", &provider.NotFoundError{Provider: ssmName, Key: name}
	}
	return aws.ToString(out.Parameter.Value), nil
}

// ParameterName maps a configuration key onto Parameter Store naming, where
// hierarchical names must start with '/'.
func ParameterName(key string) string {
	if strings.HasPrefix(key, "arn:") || strings.HasPrefix(key, "/") || !strings.Contains(key, "/") {
		return key
	}
	return "/" + key
}
