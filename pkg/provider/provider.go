package provider

import (
	"context"
	"time"
)

// Secret is a value read from a secret store.
type Secret struct {
	// Name is the secret identifier as addressed by the caller.
	Name string

	// ARN is the fully qualified identifier, when the store exposes one.
	ARN string

	// Value holds the text payload. Empty when Binary is true.
	Value string

	// Binary is set when the store returned a binary payload.
	Binary bool

	// Size is the payload size in bytes.
	Size int

	// Version is the store's version tag for this value.
	Version string

	// CreatedAt is when this version was created.
	CreatedAt time.Time
}

// SourceReader fetches source secrets.
//
// Fetch returns *NotFoundError when the secret does not exist and *AuthError
// when the caller is not allowed to read it.
type SourceReader interface {
	Fetch(ctx context.Context, name string) (Secret, error)
}

// DestinationWriter writes replicas into one destination.
//
// Create and Update return the version tag assigned by the store. An empty
// kmsKeyID leaves the store's default encryption in place.
type DestinationWriter interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name, value, kmsKeyID string) (string, error)
	Update(ctx context.Context, name, value, kmsKeyID string) (string, error)
}

// SecretStore is a store that can act as both source and destination.
type SecretStore interface {
	SourceReader
	DestinationWriter
}

// WriterFactory returns a DestinationWriter for a region. When roleARN is set
// the writer operates under temporary credentials obtained for that role.
type WriterFactory interface {
	ForDestination(ctx context.Context, region, roleARN string) (DestinationWriter, error)
}

// ConfigSource returns configuration blobs by key.
//
// A missing key is reported as *NotFoundError.
type ConfigSource interface {
	Get(ctx context.Context, key string) (string, error)
}

// ConfigSourceFunc adapts a function to ConfigSource.
type ConfigSourceFunc func(ctx context.Context, key string) (string, error)

// Get implements ConfigSource
func (f ConfigSourceFunc) Get(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

// NotFoundError indicates that a secret or configuration key does not exist.
type NotFoundError struct {
	// Provider is the name of the store where the key was not found.
	Provider string

	// Key is the identifier that could not be found.
	Key string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return "secret not found: " + e.Key + " in " + e.Provider
}

// AuthError indicates that the store rejected the caller's credentials or
// permissions.
type AuthError struct {
	// Provider is the name of the store that rejected the call.
	Provider string

	// Message provides details about the failure.
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return "authentication failed for " + e.Provider + ": " + e.Message
}
