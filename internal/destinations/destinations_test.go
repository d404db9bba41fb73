package destinations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secrets-replicator/internal/cache"
	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/pkg/provider"
)

type blobStore struct {
	mu    sync.Mutex
	blobs map[string]string
	gets  map[string]int
}

func newBlobStore(blobs map[string]string) *blobStore {
	return &blobStore{blobs: blobs, gets: map[string]int{}}
}

func (b *blobStore) Get(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets[key]++
	v, ok := b.blobs[key]
	if !ok {
		return "", &provider.NotFoundError{Provider: "test", Key: key}
	}
	return v, nil
}

func (b *blobStore) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gets[key]
}

func (b *blobStore) set(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = value
}

func ttl(seconds int) *int {
	return &seconds
}

func TestIsReserved(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want bool
	}{
		{"secrets-replicator/filters/prod", true},
		{"secrets-replicator/names/prod", true},
		{"secrets-replicator/transformations/region-swap", true},
		{"secrets-replicator/config/destinations", true},
		{"arn:aws:secretsmanager:us-east-1:111111111111:secret:secrets-replicator/config/destinations-AbCdEf", true},
		{"secrets-replicator/other", false},
		{"app/db", false},
		{"arn:aws:secretsmanager:us-east-1:111111111111:secret:app/db-AbCdEf", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsReserved(tt.id), tt.id)
	}
}

func TestQualifiedKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "secrets-replicator/transformations/region-swap", TransformationKey("region-swap"))
	assert.Equal(t, "secrets-replicator/filters/prod", FiltersKey("prod"))
	assert.Equal(t, "secrets-replicator/filters/prod", FiltersKey("secrets-replicator/filters/prod"))
	assert.Equal(t, "team/names", NamesKey("team/names"))
}

func TestParseSpecs(t *testing.T) {
	t.Parallel()

	specs, err := ParseSpecs([]byte(`[
		{"region": "us-west-2"},
		{"region": "eu-west-1",
		 "account_role_arn": "arn:aws:iam::222222222222:role/replicator",
		 "filters": "prod",
		 "secret_names": "prod",
		 "secret_names_cache_ttl": 60,
		 "kms_key_id": "alias/replica",
		 "transforms": "region-swap",
		 "variables": {"ENV": "prod"}}
	]`))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "us-west-2", specs[0].ID())
	assert.Equal(t, DefaultNamesCacheTTL, specs[0].NamesTTL())
	assert.Empty(t, specs[0].AccountID())

	assert.Equal(t, "222222222222", specs[1].AccountID())
	assert.Equal(t, "eu-west-1/222222222222", specs[1].ID())
	assert.Equal(t, time.Minute, specs[1].NamesTTL())
	assert.Equal(t, "alias/replica", specs[1].KMSKeyID)
	assert.Equal(t, map[string]string{"ENV": "prod"}, specs[1].Variables)
}

func TestParseSpecsRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty", doc: ""},
		{name: "not json", doc: "region: us-west-2"},
		{name: "object instead of list", doc: `{"region":"us-west-2"}`},
		{name: "missing region", doc: `[{"filters":"prod"}]`},
		{name: "bad region", doc: `[{"region":"not a region"}]`},
		{name: "bad role arn", doc: `[{"region":"us-west-2","account_role_arn":"role/replicator"}]`},
		{name: "negative ttl", doc: `[{"region":"us-west-2","secret_names_cache_ttl":-1}]`},
		{name: "non-string variable", doc: `[{"region":"us-west-2","variables":{"ENV":1}}]`},
		{name: "lowercase variable", doc: `[{"region":"us-west-2","variables":{"env":"prod"}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseSpecs([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, dserrors.KindMalformed, dserrors.KindOf(err))
		})
	}
}

func TestParseMappingsPreserveOrder(t *testing.T) {
	t.Parallel()

	filters, err := ParseFilters(`{"app/*": "region-swap", "app/legacy": null, "*": ""}`)
	require.NoError(t, err)
	require.Len(t, filters, 3)
	assert.Equal(t, "app/*", filters[0].Pattern)
	assert.Equal(t, "app/legacy", filters[1].Pattern)
	assert.Equal(t, "", filters[1].Value)
	assert.Equal(t, "*", filters[2].Pattern)

	_, err = ParseNameMapping(`{"app/*": ""}`)
	assert.Error(t, err)
	_, err = ParseFilters(`["app/*"]`)
	assert.Error(t, err)
	_, err = ParseFilters(`{"app/*": 3}`)
	assert.Error(t, err)
}

func TestResolveWithoutConfiguration(t *testing.T) {
	t.Parallel()

	r := NewResolver(newBlobStore(nil), nil)
	targets, err := r.Resolve(context.Background(), "app/db", []Spec{
		{Region: "us-west-2"},
		{Region: "eu-west-1", Transforms: "region-swap"},
	})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "app/db", targets[0].Name)
	assert.Empty(t, targets[0].ChainRef)
	assert.Equal(t, "region-swap", targets[1].ChainRef)
}

func TestFilterExclusivity(t *testing.T) {
	t.Parallel()

	store := newBlobStore(map[string]string{
		"secrets-replicator/filters/prod": `{"app/*": "region-swap"}`,
	})
	r := NewResolver(store, nil)
	specs := []Spec{{Region: "us-west-2", Filters: "prod"}}

	targets, err := r.Resolve(context.Background(), "billing/db", specs)
	require.NoError(t, err)
	assert.Empty(t, targets, "unmatched source must never reach the output")

	targets, err = r.Resolve(context.Background(), "app/db", specs)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "region-swap", targets[0].ChainRef)
	assert.NoError(t, targets[0].Err)
}

func TestFilterPrecedenceAndPassThrough(t *testing.T) {
	t.Parallel()

	store := newBlobStore(map[string]string{
		"secrets-replicator/filters/prod": `{"app/*": "region-swap", "app/static": ""}`,
	})
	r := NewResolver(store, nil)
	specs := []Spec{{Region: "us-west-2", Filters: "prod", Transforms: "ignored-default"}}

	targets, err := r.Resolve(context.Background(), "app/static", specs)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Empty(t, targets[0].ChainRef, "exact match wins and empty means pass-through")
}

func TestNameMapping(t *testing.T) {
	t.Parallel()

	store := newBlobStore(map[string]string{
		"secrets-replicator/names/prod": `{"app/*": "my-app/*"}`,
	})
	r := NewResolver(store, nil)
	specs := []Spec{{Region: "us-west-2", SecretNames: "prod"}}

	targets, err := r.Resolve(context.Background(), "app/prod/db", specs)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "my-app/prod/db", targets[0].Name)

	targets, err = r.Resolve(context.Background(), "billing/db", specs)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestNameMappingOverridesFilterMatch(t *testing.T) {
	t.Parallel()

	store := newBlobStore(map[string]string{
		"secrets-replicator/filters/all": `{"*": "region-swap"}`,
		"secrets-replicator/names/app":   `{"app/*": "my-app/*"}`,
	})
	r := NewResolver(store, nil)
	specs := []Spec{{Region: "us-west-2", Filters: "all", SecretNames: "app"}}

	decisions, err := r.Explain(context.Background(), "billing/db", specs)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Included)
	assert.Equal(t, "no name mapping pattern matched", decisions[0].Reason)
}

func TestLoadFailureIsPerDestination(t *testing.T) {
	t.Parallel()

	store := newBlobStore(map[string]string{
		"secrets-replicator/filters/good": `{"*": ""}`,
		"secrets-replicator/filters/bad":  `{not json`,
	})
	r := NewResolver(store, nil)

	targets, err := r.Resolve(context.Background(), "app/db", []Spec{
		{Region: "us-west-2", Filters: "missing"},
		{Region: "eu-west-1", Filters: "bad"},
		{Region: "ap-south-1", Filters: "good"},
	})
	require.NoError(t, err)
	require.Len(t, targets, 3)

	var notFound *provider.NotFoundError
	assert.True(t, errors.As(targets[0].Err, &notFound))
	assert.Equal(t, dserrors.KindMalformed, dserrors.KindOf(targets[1].Err))
	assert.NoError(t, targets[2].Err)
}

func TestReservedSourceNeverResolves(t *testing.T) {
	t.Parallel()

	r := NewResolver(newBlobStore(nil), nil)
	targets, err := r.Resolve(context.Background(), "secrets-replicator/filters/prod", []Spec{{Region: "us-west-2"}})
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestRenameIntoReservedNamespaceFails(t *testing.T) {
	t.Parallel()

	store := newBlobStore(map[string]string{
		"secrets-replicator/names/evil": `{"*": "secrets-replicator/config/*"}`,
	})
	r := NewResolver(store, nil)

	targets, err := r.Resolve(context.Background(), "destinations", []Spec{{Region: "us-west-2", SecretNames: "evil"}})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Error(t, targets[0].Err)
}

func TestSourceIsNotItsOwnDestination(t *testing.T) {
	t.Parallel()

	r := NewResolver(newBlobStore(nil), nil, WithSourceRegion("us-east-1"))
	targets, err := r.Resolve(context.Background(), "app/db", []Spec{
		{Region: "us-east-1"},
		{Region: "us-east-1", AccountRoleARN: "arn:aws:iam::222222222222:role/replicator"},
		{Region: "us-west-2"},
	})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "222222222222", targets[0].Spec.AccountID())
	assert.Equal(t, "us-west-2", targets[1].Spec.Region)
}

func TestRulesetsAreCachedPerDestination(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	store := newBlobStore(map[string]string{
		"secrets-replicator/filters/prod": `{"app/*": "v1"}`,
		"secrets-replicator/names/prod":   `{"app/*": "one/*"}`,
	})
	blobs := cache.New[cache.Key, string](mock, time.Minute)
	r := NewResolver(store, blobs, WithFilterTTL(time.Minute))
	specs := []Spec{
		{Region: "us-west-2", Filters: "prod", SecretNames: "prod", SecretNamesCacheTTL: ttl(10)},
		{Region: "eu-west-1", Filters: "prod"},
	}
	ctx := context.Background()

	_, err := r.Resolve(ctx, "app/db", specs)
	require.NoError(t, err)
	_, err = r.Resolve(ctx, "app/db", specs)
	require.NoError(t, err)
	assert.Equal(t, 2, store.count("secrets-replicator/filters/prod"), "one load per destination")
	assert.Equal(t, 1, store.count("secrets-replicator/names/prod"))

	store.set("secrets-replicator/names/prod", `{"app/*": "two/*"}`)
	store.set("secrets-replicator/filters/prod", `{"app/*": "v2"}`)
	mock.Add(11 * time.Second)

	targets, err := r.Resolve(ctx, "app/db", specs)
	require.NoError(t, err)
	assert.Equal(t, "two/db", targets[0].Name, "name mapping refreshed after its own ttl")
	assert.Equal(t, "v1", targets[0].ChainRef, "filter still within its ttl")

	mock.Add(time.Minute)
	targets, err = r.Resolve(ctx, "app/db", specs)
	require.NoError(t, err)
	assert.Equal(t, "v2", targets[0].ChainRef)
	assert.Equal(t, "v2", targets[1].ChainRef)
}

func TestZeroNamesTTLDisablesCaching(t *testing.T) {
	t.Parallel()

	store := newBlobStore(map[string]string{
		"secrets-replicator/names/prod": `{"app/*": "x/*"}`,
	})
	r := NewResolver(store, nil)
	specs := []Spec{{Region: "us-west-2", SecretNames: "prod", SecretNamesCacheTTL: ttl(0)}}

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "app/db", specs)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.count("secrets-replicator/names/prod"))
}

func TestLoadSpecs(t *testing.T) {
	t.Parallel()

	store := newBlobStore(map[string]string{
		DefaultDestinationsKey: `[{"region":"us-west-2"}]`,
	})

	specs, err := LoadSpecs(context.Background(), store, "")
	require.NoError(t, err)
	require.Len(t, specs, 1)

	_, err = LoadSpecs(context.Background(), store, "secrets-replicator/config/other")
	var notFound *provider.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}
