// Package provider defines the contracts between the replication engine and
// the secret stores it reads from and writes to.
//
// The engine never talks to a cloud SDK directly. It consumes four narrow
// interfaces:
//
//   - SourceReader fetches the source secret exactly once per invocation
//   - DestinationWriter checks existence and creates or updates a replica
//   - WriterFactory hands out a DestinationWriter for a region, optionally
//     behind an assumed cross-account role
//   - ConfigSource returns opaque configuration blobs (destination lists,
//     filters, name mappings, transformation rules) by key
//
// # Error Handling
//
// Implementations should return the error types defined in this package:
//   - *NotFoundError for missing secrets or configuration blobs
//   - *AuthError for permission and trust-policy failures
//
// Anything else is classified by the caller (see internal/errors.KindOf).
//
// # Security Considerations
//
// Implementations must never log secret values and must honour context
// cancellation; the invocation deadline is the only timeout authority.
//
// # Testing
//
// RunStoreContract exercises any SecretStore against the behaviour the engine
// relies on. Provider packages call it from their tests with a store backed by
// a fake SDK client.
package provider
