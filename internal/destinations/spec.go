package destinations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/bytedance/sonic"
	"github.com/xeipuuv/gojsonschema"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/pkg/provider"
)

// DefaultNamesCacheTTL applies when a destination does not set
// secret_names_cache_ttl.
const DefaultNamesCacheTTL = 300 * time.Second

// Spec declares one destination.
type Spec struct {
	Region              string            `json:"region" yaml:"region"`
	AccountRoleARN      string            `json:"account_role_arn,omitempty" yaml:"account_role_arn,omitempty"`
	Filters             string            `json:"filters,omitempty" yaml:"filters,omitempty"`
	SecretNames         string            `json:"secret_names,omitempty" yaml:"secret_names,omitempty"`
	SecretNamesCacheTTL *int              `json:"secret_names_cache_ttl,omitempty" yaml:"secret_names_cache_ttl,omitempty"`
	KMSKeyID            string            `json:"kms_key_id,omitempty" yaml:"kms_key_id,omitempty"`
	Transforms          string            `json:"transforms,omitempty" yaml:"transforms,omitempty"`
	Variables           map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// ID identifies the destination in logs, results and cache keys.
func (s Spec) ID() string {
	if account := s.AccountID(); account != "" {
		return s.Region + "/" + account
	}
	return s.Region
}

// NamesTTL returns how long the destination's name mapping may be cached.
// An explicit zero disables caching.
func (s Spec) NamesTTL() time.Duration {
	if s.SecretNamesCacheTTL == nil {
		return DefaultNamesCacheTTL
	}
	return time.Duration(*s.SecretNamesCacheTTL) * time.Second
}

// AccountID returns the account of the destination role, or "" when the
// destination is in the caller's own account.
func (s Spec) AccountID() string {
	if s.AccountRoleARN == "" {
		return ""
	}
	parsed, err := arn.Parse(s.AccountRoleARN)
	if err != nil {
		return ""
	}
	return parsed.AccountID
}

const specsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "destinations",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["region"],
    "properties": {
      "region": {"type": "string", "pattern": "^[a-z]{2}(-[a-z]+)+-[0-9]+$"},
      "account_role_arn": {"type": "string", "pattern": "^arn:aws[a-z-]*:iam::[0-9]{12}:role/.+$"},
      "filters": {"type": "string"},
      "secret_names": {"type": "string"},
      "secret_names_cache_ttl": {"type": "integer", "minimum": 0},
      "kms_key_id": {"type": "string"},
      "transforms": {"type": "string"},
      "variables": {
        "type": "object",
        "propertyNames": {"pattern": "^[A-Z_][A-Z0-9_]*$"},
        "additionalProperties": {"type": "string"}
      }
    }
  }
}`

var specsSchema = mustSchema(specsSchemaJSON)

func mustSchema(text string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
	if err != nil {
		panic(fmt.Sprintf("invalid destinations schema: %v", err))
	}
	return schema
}

// ParseSpecs validates a destination list document and decodes it.
func ParseSpecs(data []byte) ([]Spec, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, dserrors.Malformed("parse destinations", "destination list is empty", nil)
	}

	result, err := specsSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, dserrors.Malformed("parse destinations", "destination list is not valid JSON", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, dserrors.Malformed("parse destinations", "schema validation failed:\n  - "+strings.Join(problems, "\n  - "), nil)
	}

	var specs []Spec
	if err := sonic.Unmarshal(data, &specs); err != nil {
		return nil, dserrors.Malformed("parse destinations", "failed to decode destination list", err)
	}
	return specs, nil
}

// LoadSpecs reads and parses the destination list stored under key.
func LoadSpecs(ctx context.Context, source provider.ConfigSource, key string) ([]Spec, error) {
	if key == "" {
		key = DefaultDestinationsKey
	}
	text, err := source.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load destinations from %s: %w", key, err)
	}
	return ParseSpecs([]byte(text))
}
