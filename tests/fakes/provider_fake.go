package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/secrets-replicator/pkg/provider"
)

// FakeStore is an in-memory provider.SecretStore that also serves
// configuration blobs. It is safe for concurrent use.
//
// Example usage:
//
//	store := fakes.NewFakeStore("us-east-1").
//	    WithSecret("app/db", `{"host":"db.us-east-1.example.com"}`).
//	    WithFailures("Update", "app/db", throttled, throttled)
type FakeStore struct {
	region string

	mu       sync.RWMutex
	secrets  map[string]provider.Secret
	failOn   map[string]error
	failNext map[string][]error
	delay    time.Duration
	calls    map[string]int
	writes   []Write
}

// Write records a Create or Update call that succeeded.
type Write struct {
	Op       string
	Name     string
	Value    string
	KMSKeyID string
}

// NewFakeStore creates an empty store for region
func NewFakeStore(region string) *FakeStore {
	return &FakeStore{
		region:   region,
		secrets:  make(map[string]provider.Secret),
		failOn:   make(map[string]error),
		failNext: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// WithSecret adds a text secret
func (f *FakeStore) WithSecret(name, value string) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.secrets[name] = provider.Secret{
		Name:      name,
		ARN:       fmt.Sprintf("arn:aws:secretsmanager:%s:111111111111:secret:%s-AbCdEf", f.region, name),
		Value:     value,
		Size:      len(value),
		Version:   "v1",
		CreatedAt: time.Now(),
	}
	return f
}

// WithBinary adds a binary secret of size bytes
func (f *FakeStore) WithBinary(name string, size int) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.secrets[name] = provider.Secret{Name: name, Binary: true, Size: size, Version: "v1"}
	return f
}

// WithError makes every operation on name fail with err
func (f *FakeStore) WithError(name string, err error) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failOn[name] = err
	return f
}

// WithFailures makes the next calls of op ("Fetch", "Exists", "Create",
// "Update", "Get") on name fail with errs in order.
func (f *FakeStore) WithFailures(op, name string, errs ...error) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := op + "|" + name
	f.failNext[k] = append(f.failNext[k], errs...)
	return f
}

// WithDelay adds latency to every call
func (f *FakeStore) WithDelay(d time.Duration) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.delay = d
	return f
}

// CallCount returns how many times op was called
func (f *FakeStore) CallCount(op string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls[op]
}

// Writes returns the successful writes in order
func (f *FakeStore) Writes() []Write {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// Value returns the stored text of name
func (f *FakeStore) Value(name string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.secrets[name]
	return s.Value, ok
}

func (f *FakeStore) enter(ctx context.Context, op, name string) error {
	f.mu.Lock()
	f.calls[op]++
	delay := f.delay
	var injected error
	k := op + "|" + name
	if errs := f.failNext[k]; len(errs) > 0 {
		injected = errs[0]
		f.failNext[k] = errs[1:]
	} else if err, ok := f.failOn[name]; ok {
		injected = err
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return injected
}

// Fetch implements provider.SourceReader
func (f *FakeStore) Fetch(ctx context.Context, name string) (provider.Secret, error) {
	if err := f.enter(ctx, "Fetch", name); err != nil {
		return provider.Secret{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.secrets[name]
	if !ok {
		return provider.Secret{}, &provider.NotFoundError{Provider: "fake", Key: name}
	}
	return s, nil
}

// Exists implements provider.DestinationWriter
func (f *FakeStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := f.enter(ctx, "Exists", name); err != nil {
		return false, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.secrets[name]
	return ok, nil
}

// Create implements provider.DestinationWriter
func (f *FakeStore) Create(ctx context.Context, name, value, kmsKeyID string) (string, error) {
	if err := f.enter(ctx, "Create", name); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.secrets[name]; ok {
		return "", fmt.Errorf("secret %s already exists", name)
	}
	f.secrets[name] = provider.Secret{Name: name, Value: value, Size: len(value), Version: "v1"}
	f.writes = append(f.writes, Write{Op: "Create", Name: name, Value: value, KMSKeyID: kmsKeyID})
	return "v1", nil
}

// Update implements provider.DestinationWriter
func (f *FakeStore) Update(ctx context.Context, name, value, kmsKeyID string) (string, error) {
	if err := f.enter(ctx, "Update", name); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.secrets[name]
	if !ok {
		return "", &provider.NotFoundError{Provider: "fake", Key: name}
	}
	version := fmt.Sprintf("v%d", countWrites(f.writes, name)+2)
	s.Value = value
	s.Size = len(value)
	s.Version = version
	f.secrets[name] = s
	f.writes = append(f.writes, Write{Op: "Update", Name: name, Value: value, KMSKeyID: kmsKeyID})
	return version, nil
}

// Get implements provider.ConfigSource
func (f *FakeStore) Get(ctx context.Context, key string) (string, error) {
	if err := f.enter(ctx, "Get", key); err != nil {
		return "", err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.secrets[key]
	if !ok {
		return "", &provider.NotFoundError{Provider: "fake", Key: key}
	}
	return s.Value, nil
}

func countWrites(writes []Write, name string) int {
	n := 0
	for _, w := range writes {
		if w.Name == name && w.Op == "Update" {
			n++
		}
	}
	return n
}

// FakeWriterFactory hands out one FakeStore per region and role.
type FakeWriterFactory struct {
	mu     sync.Mutex
	stores map[string]*FakeStore
	errors map[string]error
}

// NewFakeWriterFactory creates an empty factory
func NewFakeWriterFactory() *FakeWriterFactory {
	return &FakeWriterFactory{
		stores: make(map[string]*FakeStore),
		errors: make(map[string]error),
	}
}

func factoryKey(region, roleARN string) string {
	return region + "|" + roleARN
}

// Store returns the store for region and role, creating it on first use
func (f *FakeWriterFactory) Store(region, roleARN string) *FakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := factoryKey(region, roleARN)
	store, ok := f.stores[k]
	if !ok {
		store = NewFakeStore(region)
		f.stores[k] = store
	}
	return store
}

// WithError makes ForDestination fail for region and role
func (f *FakeWriterFactory) WithError(region, roleARN string, err error) *FakeWriterFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[factoryKey(region, roleARN)] = err
	return f
}

// ForDestination implements provider.WriterFactory
func (f *FakeWriterFactory) ForDestination(ctx context.Context, region, roleARN string) (provider.DestinationWriter, error) {
	f.mu.Lock()
	err := f.errors[factoryKey(region, roleARN)]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store(region, roleARN), nil
}
