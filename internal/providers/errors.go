package providers

import (
	"errors"
	"fmt"

	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/pkg/provider"
)

// classify converts an AWS SDK error into the provider error types and the
// replication error taxonomy. The original error stays in the chain.
func classify(providerName, op, key string, err error) error {
	if err == nil {
		return nil
	}

	if isNotFound(err) {
		return &provider.NotFoundError{Provider: providerName, Key: key}
	}

	kind := dserrors.KindOf(err)
	switch kind {
	case dserrors.KindAccessDenied:
		return dserrors.New(kind, op, fmt.Sprintf("%s denied access to %s", providerName, key), err)
	case dserrors.KindTransient, dserrors.KindMalformed, dserrors.KindNotFound:
		return dserrors.New(kind, op, key, err)
	}
	return fmt.Errorf("%s %s %s: %w", providerName, op, key, err)
}

func isNotFound(err error) bool {
	var smNotFound *smtypes.ResourceNotFoundException
	if errors.As(err, &smNotFound) {
		return true
	}
	var paramNotFound *ssmtypes.ParameterNotFound
	if errors.As(err, &paramNotFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return dserrors.ClassifyCode(apiErr.ErrorCode()) == dserrors.KindNotFound
	}
	return false
}
