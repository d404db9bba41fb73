// Package providers implements the pkg/provider contracts on AWS.
//
// SecretsManagerStore reads source secrets and writes replicas. RoleAssumer
// obtains temporary credentials for cross-account destinations and caches
// them until shortly before they expire. ClientFactory ties the two together
// into a provider.WriterFactory. SecretsManagerStore and SSMConfigSource both
// serve configuration blobs such as the destination list, filters, name
// mappings and transformation rules.
//
// AWS SDK clients are reached through narrow interfaces so tests can
// substitute the fakes in tests/fakes.
package providers
