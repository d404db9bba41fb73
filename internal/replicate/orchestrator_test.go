package replicate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/systmms/secrets-replicator/internal/cache"
	"github.com/systmms/secrets-replicator/internal/destinations"
	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/internal/logging"
	"github.com/systmms/secrets-replicator/internal/retry"
	"github.com/systmms/secrets-replicator/tests/fakes"
)

const regionSwapKey = "secrets-replicator/transformations/region-swap"

var throttled = &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}

func fastPolicy() *retry.Policy {
	return retry.New(retry.Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		MaxAttempts:     5,
	})
}

type harness struct {
	source  *fakes.FakeStore
	writers *fakes.FakeWriterFactory
}

func newHarness() *harness {
	return &harness{
		source:  fakes.NewFakeStore("us-east-1"),
		writers: fakes.NewFakeWriterFactory(),
	}
}

func (h *harness) orchestrator(opts ...Option) *Orchestrator {
	base := []Option{WithRetryPolicy(fastPolicy()), WithSourceRegion("us-east-1")}
	return New(h.source, h.writers, h.source, append(base, opts...)...)
}

type recordingReporter struct {
	mu        sync.Mutex
	summaries []Summary
	err       error
}

func (r *recordingReporter) Name() string { return "recording" }

func (r *recordingReporter) Report(_ context.Context, s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return r.err
}

func TestRegionSwapScenario(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.
		WithSecret("app/db", `{"host":"db.us-east-1.example.com","region":"us-east-1"}`).
		WithSecret(destinations.DefaultDestinationsKey, `[{"region":"us-west-2","transforms":"region-swap","kms_key_id":"alias/replica"}]`).
		WithSecret(regionSwapKey, `s/us-east-1/${DEST_REGION}/g`)

	summary := h.orchestrator().Replicate(context.Background(), "app/db")

	require.Equal(t, OutcomeSuccess, summary.Outcome, summary.Reason)
	require.Len(t, summary.Results, 1)
	result := summary.Results[0]
	assert.True(t, result.Success)
	assert.True(t, result.Created)
	assert.Equal(t, "v1", result.Version)
	assert.Equal(t, []string{"region-swap"}, result.Chain)
	assert.Equal(t, 0, result.Retries)
	assert.Equal(t, "v1", summary.SourceVersion)

	dest := h.writers.Store("us-west-2", "")
	value, ok := dest.Value("app/db")
	require.True(t, ok)
	assert.Equal(t, `{"host":"db.us-west-2.example.com","region":"us-west-2"}`, value)

	writes := dest.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "alias/replica", writes[0].KMSKeyID)
	assert.Equal(t, 1, h.source.CallCount("Fetch"))
}

func TestChainedSedAndFieldRules(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.
		WithSecret("app/config", `{"env":"staging","url":"https://api.us-east-1.example.com"}`).
		WithSecret(regionSwapKey, `s/us-east-1/${DEST_REGION}/g`).
		WithSecret("secrets-replicator/transformations/env-promotion", `[{"path":"$.env","find":"staging","replace":"${ENV}"}]`)

	o := h.orchestrator(WithSpecs([]destinations.Spec{{
		Region:     "eu-west-1",
		Transforms: "region-swap, json:env-promotion",
		Variables:  map[string]string{"ENV": "production"},
	}}))

	summary := o.Replicate(context.Background(), "app/config")
	require.Equal(t, OutcomeSuccess, summary.Outcome, summary.Reason)

	value, _ := h.writers.Store("eu-west-1", "").Value("app/config")
	assert.Equal(t, `{"env":"production","url":"https://api.eu-west-1.example.com"}`, value)
	assert.Equal(t, []string{"region-swap", "env-promotion"}, summary.Results[0].Chain)
}

func TestFilterSkipsWithoutWrite(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.
		WithSecret("billing/db", "secret").
		WithSecret("secrets-replicator/filters/prod", `{"app/*":"region-swap"}`)

	o := h.orchestrator(WithSpecs([]destinations.Spec{{Region: "us-west-2", Filters: "prod"}}))
	summary := o.Replicate(context.Background(), "billing/db")

	assert.Equal(t, OutcomeFailure, summary.Outcome)
	assert.Equal(t, "no destinations matched", summary.Reason)
	assert.Empty(t, summary.Results)
	assert.Equal(t, 1, h.source.CallCount("Fetch"))
	assert.Equal(t, "v1", summary.SourceVersion)
	assert.Empty(t, h.writers.Store("us-west-2", "").Writes())
}

func TestSourceChecksPrecedeDestinationResolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		seed        func(*fakes.FakeStore)
		wantOutcome Outcome
		wantKind    dserrors.Kind
	}{
		{
			name:        "binary source without matching filter",
			seed:        func(s *fakes.FakeStore) { s.WithBinary("billing/blob", 10) },
			wantOutcome: OutcomeUnsupported,
			wantKind:    dserrors.KindUnsupported,
		},
		{
			name: "oversized source without matching filter",
			seed: func(s *fakes.FakeStore) {
				s.WithSecret("billing/blob", strings.Repeat("x", DefaultMaxSecretSize+1))
			},
			wantOutcome: OutcomeFailure,
			wantKind:    dserrors.KindMalformed,
		},
		{
			name:        "missing source without matching filter",
			seed:        func(*fakes.FakeStore) {},
			wantOutcome: OutcomeFailure,
			wantKind:    dserrors.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			h.source.WithSecret("secrets-replicator/filters/apps", `{"app/*":""}`)
			tt.seed(h.source)
			o := h.orchestrator(WithSpecs([]destinations.Spec{{Region: "us-west-2", Filters: "apps"}}))

			summary := o.Replicate(context.Background(), "billing/blob")

			assert.Equal(t, tt.wantOutcome, summary.Outcome)
			assert.Equal(t, tt.wantKind, summary.Kind)
			assert.NotEqual(t, "no destinations matched", summary.Reason)
			assert.Equal(t, 1, h.source.CallCount("Fetch"))
			assert.Equal(t, 0, h.source.CallCount("Get"))
			assert.Empty(t, summary.Results)
		})
	}
}

func TestNameMappingScenario(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.
		WithSecret("app/prod/db", "value").
		WithSecret("secrets-replicator/names/prod", `{"app/*":"my-app/*"}`)

	o := h.orchestrator(WithSpecs([]destinations.Spec{{Region: "us-west-2", SecretNames: "prod"}}))
	summary := o.Replicate(context.Background(), "app/prod/db")

	require.Equal(t, OutcomeSuccess, summary.Outcome, summary.Reason)
	assert.Equal(t, "my-app/prod/db", summary.Results[0].Name)

	value, ok := h.writers.Store("us-west-2", "").Value("my-app/prod/db")
	require.True(t, ok)
	assert.Equal(t, "value", value)
}

func TestThrottledTwiceThenSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.WithSecret("app/db", "new-value")
	h.writers.Store("us-west-2", "").
		WithSecret("app/db", "old-value").
		WithFailures("Update", "app/db", throttled, throttled)

	o := h.orchestrator(WithSpecs([]destinations.Spec{{Region: "us-west-2"}, {Region: "eu-west-1"}}))
	summary := o.Replicate(context.Background(), "app/db")

	require.Equal(t, OutcomeSuccess, summary.Outcome, summary.Reason)
	require.Len(t, summary.Results, 2)

	first := summary.Results[0]
	assert.Equal(t, "us-west-2", first.Region)
	assert.Equal(t, 2, first.Retries)
	assert.False(t, first.Created)
	assert.Equal(t, "updated", first.Action())
	assert.Equal(t, "v2", first.Version)
	assert.Equal(t, 3, h.writers.Store("us-west-2", "").CallCount("Update"))

	second := summary.Results[1]
	assert.Equal(t, "eu-west-1", second.Region)
	assert.True(t, second.Success)
	assert.True(t, second.Created)
	assert.Equal(t, 0, second.Retries)
	assert.Equal(t, 2, summary.Retries())
}

func TestRetryExhaustion(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.WithSecret("app/db", "value")
	h.writers.Store("us-west-2", "").WithError("app/db", throttled)

	o := h.orchestrator(WithSpecs([]destinations.Spec{{Region: "us-west-2"}}))
	summary := o.Replicate(context.Background(), "app/db")

	assert.Equal(t, OutcomeFailure, summary.Outcome)
	result := summary.Results[0]
	assert.Equal(t, dserrors.KindRetryExhausted, result.Kind)
	assert.Equal(t, 4, result.Retries)
}

func TestPartialFailureIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.WithSecret("app/db", "value")
	h.writers.WithError("eu-west-1", "", dserrors.AccessDenied("open", errors.New("not authorized")))

	o := h.orchestrator(WithSpecs([]destinations.Spec{
		{Region: "us-west-2"},
		{Region: "eu-west-1"},
		{Region: "ap-south-1"},
	}))
	summary := o.Replicate(context.Background(), "app/db")

	assert.Equal(t, OutcomePartial, summary.Outcome)
	require.Len(t, summary.Results, 3)
	assert.True(t, summary.Results[0].Success)
	assert.False(t, summary.Results[1].Success)
	assert.Equal(t, dserrors.KindAccessDenied, summary.Results[1].Kind)
	assert.True(t, summary.Results[2].Success)
	assert.Equal(t, 2, summary.Succeeded())
	assert.Equal(t, 1, summary.Failed())
}

func TestAllDestinationsFailing(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.WithSecret("app/db", "value")
	denied := dserrors.AccessDenied("open", errors.New("not authorized"))
	h.writers.WithError("us-west-2", "", denied).WithError("eu-west-1", "", denied)

	o := h.orchestrator(WithSpecs([]destinations.Spec{{Region: "us-west-2"}, {Region: "eu-west-1"}}))
	summary := o.Replicate(context.Background(), "app/db")

	assert.Equal(t, OutcomeFailure, summary.Outcome)
	assert.Equal(t, 0, summary.Succeeded())
}

func TestSourceGuards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		sourceID    string
		seed        func(*fakes.FakeStore)
		wantOutcome Outcome
		wantKind    dserrors.Kind
		wantFetches int
	}{
		{
			name:        "reserved source is skipped",
			sourceID:    "secrets-replicator/filters/prod",
			seed:        func(s *fakes.FakeStore) { s.WithSecret("secrets-replicator/filters/prod", `{"*":""}`) },
			wantOutcome: OutcomeSkipped,
		},
		{
			name:        "binary is unsupported",
			sourceID:    "app/cert",
			seed:        func(s *fakes.FakeStore) { s.WithBinary("app/cert", 128) },
			wantOutcome: OutcomeUnsupported,
			wantKind:    dserrors.KindUnsupported,
			wantFetches: 1,
		},
		{
			name:        "oversized is malformed",
			sourceID:    "app/big",
			seed:        func(s *fakes.FakeStore) { s.WithSecret("app/big", strings.Repeat("x", DefaultMaxSecretSize+1)) },
			wantOutcome: OutcomeFailure,
			wantKind:    dserrors.KindMalformed,
			wantFetches: 1,
		},
		{
			name:        "missing source",
			sourceID:    "app/missing",
			seed:        func(*fakes.FakeStore) {},
			wantOutcome: OutcomeFailure,
			wantKind:    dserrors.KindNotFound,
			wantFetches: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			tt.seed(h.source)
			o := h.orchestrator(WithSpecs([]destinations.Spec{{Region: "us-west-2"}}))

			summary := o.Replicate(context.Background(), tt.sourceID)
			assert.Equal(t, tt.wantOutcome, summary.Outcome)
			assert.Equal(t, tt.wantKind, summary.Kind)
			assert.Empty(t, summary.Results)
			assert.Equal(t, tt.wantFetches, h.source.CallCount("Fetch"))
			assert.Equal(t, 0, h.writers.Store("us-west-2", "").CallCount("Exists"))
		})
	}
}

func TestDestinationListLoadFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.WithSecret("app/db", "value")

	summary := h.orchestrator().Replicate(context.Background(), "app/db")
	assert.Equal(t, OutcomeFailure, summary.Outcome)
	assert.Equal(t, dserrors.KindNotFound, summary.Kind)
	assert.Contains(t, summary.Reason, "failed to load destinations")
	assert.Equal(t, 1, h.source.CallCount("Fetch"))
}

func TestTransformationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rules    string
		seed     bool
		wantKind dserrors.Kind
		wantErr  string
	}{
		{name: "undefined variable", rules: `s/a/${MISSING}/`, seed: true, wantKind: dserrors.KindMalformed, wantErr: "undefined variable ${MISSING}"},
		{name: "invalid rule", rules: `s/unterminated`, seed: true, wantKind: dserrors.KindMalformed, wantErr: "transformation 'region-swap' line 1"},
		{name: "missing rule set", seed: false, wantKind: dserrors.KindNotFound, wantErr: "failed to load transformation region-swap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			h.source.WithSecret("app/db", "value")
			if tt.seed {
				h.source.WithSecret(regionSwapKey, tt.rules)
			}
			o := h.orchestrator(WithSpecs([]destinations.Spec{
				{Region: "us-west-2", Transforms: "region-swap"},
				{Region: "eu-west-1"},
			}))

			summary := o.Replicate(context.Background(), "app/db")
			assert.Equal(t, OutcomePartial, summary.Outcome)
			failed := summary.Results[0]
			assert.False(t, failed.Success)
			assert.Equal(t, tt.wantKind, failed.Kind)
			assert.Contains(t, failed.Error, tt.wantErr)
			assert.NotContains(t, failed.Error, "value")
			assert.Empty(t, h.writers.Store("us-west-2", "").Writes())
			assert.True(t, summary.Results[1].Success)
		})
	}
}

func TestFilterLoadFailureIsPerDestination(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.WithSecret("app/db", "value")

	o := h.orchestrator(WithSpecs([]destinations.Spec{
		{Region: "us-west-2", Filters: "missing"},
		{Region: "eu-west-1"},
	}))
	summary := o.Replicate(context.Background(), "app/db")

	assert.Equal(t, OutcomePartial, summary.Outcome)
	assert.Equal(t, dserrors.KindNotFound, summary.Results[0].Kind)
	assert.True(t, summary.Results[1].Success)
}

func TestConcurrentFanOutPreservesOrder(t *testing.T) {
	t.Parallel()

	regions := []string{"us-west-1", "us-west-2", "eu-west-1", "eu-central-1", "ap-south-1", "ap-northeast-1"}
	var specs []destinations.Spec
	h := newHarness()
	h.source.WithSecret("app/db", "value")
	for _, region := range regions {
		specs = append(specs, destinations.Spec{Region: region})
		h.writers.Store(region, "").WithDelay(5 * time.Millisecond)
	}

	o := h.orchestrator(WithSpecs(specs), WithConcurrency(3))
	summary := o.Replicate(context.Background(), "app/db")

	require.Equal(t, OutcomeSuccess, summary.Outcome, summary.Reason)
	require.Len(t, summary.Results, len(regions))
	for i, region := range regions {
		assert.Equal(t, region, summary.Results[i].Region)
	}
	assert.Equal(t, 1, h.source.CallCount("Fetch"))
}

func TestTransformationRulesAreCached(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	h := newHarness()
	h.source.
		WithSecret("app/db", "us-east-1").
		WithSecret(regionSwapKey, `s/us-east-1/${DEST_REGION}/`)

	o := h.orchestrator(
		WithClock(mock),
		WithCacheTTL(time.Minute),
		WithSpecs([]destinations.Spec{{Region: "us-west-2", Transforms: "region-swap"}}),
	)
	ctx := context.Background()

	require.Equal(t, OutcomeSuccess, o.Replicate(ctx, "app/db").Outcome)
	require.Equal(t, OutcomeSuccess, o.Replicate(ctx, "app/db").Outcome)
	assert.Equal(t, 1, h.source.CallCount("Get"))

	mock.Add(time.Minute + time.Second)
	require.Equal(t, OutcomeSuccess, o.Replicate(ctx, "app/db").Outcome)
	assert.Equal(t, 2, h.source.CallCount("Get"))
}

func TestSharedCache(t *testing.T) {
	t.Parallel()

	shared := cache.New[cache.Key, string](nil, time.Minute)
	h := newHarness()
	h.source.
		WithSecret("app/db", "us-east-1").
		WithSecret(regionSwapKey, `s/us-east-1/${DEST_REGION}/`)
	specs := WithSpecs([]destinations.Spec{{Region: "us-west-2", Transforms: "region-swap"}})

	first := h.orchestrator(WithCache(shared), specs)
	second := h.orchestrator(WithCache(shared), specs)
	first.Replicate(context.Background(), "app/db")
	second.Replicate(context.Background(), "app/db")

	assert.Equal(t, 1, h.source.CallCount("Get"))
	assert.Equal(t, 1, shared.Len())
}

func TestVariablesIncludeAccounts(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.
		WithSecret("app/db", "arn:aws:iam::SOURCE:role/app").
		WithSecret("secrets-replicator/transformations/accounts",
			"s/SOURCE/${DEST_ACCOUNT}/\ns|$| from ${SOURCE_ACCOUNT} in ${SOURCE_REGION} as ${DEST_SECRET_NAME}|")

	o := h.orchestrator(WithSpecs([]destinations.Spec{{
		Region:         "us-west-2",
		AccountRoleARN: "arn:aws:iam::222222222222:role/replicator",
		Transforms:     "accounts",
	}}))
	summary := o.Replicate(context.Background(), "app/db")
	require.Equal(t, OutcomeSuccess, summary.Outcome, summary.Reason)

	value, ok := h.writers.Store("us-west-2", "arn:aws:iam::222222222222:role/replicator").Value("app/db")
	require.True(t, ok)
	assert.Equal(t, "arn:aws:iam::222222222222:role/app from 111111111111 in us-east-1 as app/db", value)
	assert.Equal(t, "us-west-2/222222222222", summary.Results[0].Destination)
}

func TestPlanDoesNotFetchOrWrite(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.
		WithSecret("app/db", "value").
		WithSecret("secrets-replicator/filters/prod", `{"app/*":"region-swap"}`)

	o := h.orchestrator(WithSpecs([]destinations.Spec{
		{Region: "us-west-2", Filters: "prod"},
		{Region: "eu-west-1", Filters: "prod"},
	}))

	decisions, err := o.Plan(context.Background(), "app/db")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.True(t, d.Included)
		assert.Equal(t, "region-swap", d.Target.ChainRef)
	}
	assert.Equal(t, 0, h.source.CallCount("Fetch"))
}

func TestReportersReceiveSummary(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := logging.FromZap(zap.New(core))

	h := newHarness()
	h.source.WithSecret("app/db", "super-secret-value")
	good := &recordingReporter{}
	bad := &recordingReporter{err: fmt.Errorf("push failed")}

	o := h.orchestrator(
		WithLogger(logger),
		WithSpecs([]destinations.Spec{{Region: "us-west-2"}}),
		WithReporters(bad, good, NewLogReporter(logger)),
	)
	summary := o.Replicate(context.Background(), "app/db")

	assert.Equal(t, OutcomeSuccess, summary.Outcome)
	require.Len(t, good.summaries, 1)
	assert.Equal(t, "app/db", good.summaries[0].SourceID)
	assert.Len(t, bad.summaries, 1)

	assert.Equal(t, 1, logs.FilterMessageSnippet("reporter recording failed").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("replicated to us-west-2").Len())
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, "super-secret-value")
		for _, field := range entry.Context {
			assert.NotContains(t, field.String, "super-secret-value")
		}
	}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	ok := Result{Success: true}
	bad := Result{}

	tests := []struct {
		name    string
		results []Result
		want    Outcome
	}{
		{name: "none", results: nil, want: OutcomeFailure},
		{name: "all succeeded", results: []Result{ok, ok}, want: OutcomeSuccess},
		{name: "some succeeded", results: []Result{ok, bad}, want: OutcomePartial},
		{name: "none succeeded", results: []Result{bad, bad}, want: OutcomeFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, _ := aggregate(tt.results)
			assert.Equal(t, tt.want, got)
		})
	}
}
