// Package testutil provides shared test helpers: a log capture for
// checking redaction, a builder for replicator.yaml files and assertions
// over command output.
package testutil
