package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/systmms/secrets-replicator/internal/config"
)

// TestConfigBuilder provides a fluent API for writing replicator.yaml files.
//
// Example usage:
//
//	path := NewTestConfig(t).
//	    With("source_region", "us-east-1").
//	    With("retry.max_attempts", 3).
//	    Write()
type TestConfigBuilder struct {
	values  map[string]interface{}
	tempDir string
	t       *testing.T
}

// NewTestConfig creates an empty builder backed by a test temp dir
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()

	return &TestConfigBuilder{
		values:  make(map[string]interface{}),
		tempDir: t.TempDir(),
		t:       t,
	}
}

// With sets a key. Dotted keys such as "retry.max_attempts" become nested
// YAML mappings.
func (b *TestConfigBuilder) With(key string, value interface{}) *TestConfigBuilder {
	b.t.Helper()

	parts := strings.Split(key, ".")
	node := b.values
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
	return b
}

// WithDestinations sets an inline destination list document
func (b *TestConfigBuilder) WithDestinations(doc string) *TestConfigBuilder {
	return b.With("destinations", doc)
}

// Write writes replicator.yaml into the temp dir and returns its path
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()

	data, err := yaml.Marshal(b.values)
	if err != nil {
		b.t.Fatalf("Failed to marshal test config: %v", err)
	}
	path := filepath.Join(b.tempDir, config.DefaultConfigName+".yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		b.t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// Load writes the file and loads it through config.Config
func (b *TestConfigBuilder) Load() *config.Config {
	b.t.Helper()

	cfg := &config.Config{
		Path:     b.Write(),
		EnvFiles: []string{b.writeEmptyEnv()},
	}
	if err := cfg.Load(); err != nil {
		b.t.Fatalf("Failed to load test config: %v", err)
	}
	return cfg
}

// writeEmptyEnv keeps Load from picking up a .env in the working directory
func (b *TestConfigBuilder) writeEmptyEnv() string {
	path := filepath.Join(b.tempDir, ".env")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		b.t.Fatalf("Failed to write env file: %v", err)
	}
	return path
}
