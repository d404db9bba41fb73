package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/internal/replicate"
)

func partialSummary() replicate.Summary {
	return replicate.Summary{
		SourceID:  "app/db",
		Outcome:   replicate.OutcomePartial,
		StartedAt: time.Unix(1700000000, 0),
		Elapsed:   1500 * time.Millisecond,
		Results: []replicate.Result{
			{Destination: "us-west-2", Success: true, Created: true, Retries: 2, Elapsed: time.Second},
			{Destination: "eu-west-1", Success: true, Elapsed: time.Second},
			{Destination: "ap-south-1", Kind: dserrors.KindAccessDenied, Elapsed: 10 * time.Millisecond},
		},
	}
}

func TestReportRecordsSummary(t *testing.T) {
	t.Parallel()

	r := NewReporter()
	require.NoError(t, r.Report(context.Background(), partialSummary()))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.invocations.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.writes.WithLabelValues("us-west-2", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.writes.WithLabelValues("eu-west-1", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.writes.WithLabelValues("ap-south-1", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("us-west-2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("access_denied")))
	assert.Equal(t, float64(1700000001), testutil.ToFloat64(r.lastSuccess.WithLabelValues("us-west-2")))

	assert.Equal(t, 1, testutil.CollectAndCount(r.retries))
	assert.Equal(t, 3, testutil.CollectAndCount(r.writeDuration))
}

func TestReportClassifiesInvocationFailures(t *testing.T) {
	t.Parallel()

	r := NewReporter()
	summary := replicate.Summary{
		SourceID: "app/cert",
		Outcome:  replicate.OutcomeUnsupported,
		Kind:     dserrors.KindUnsupported,
	}
	require.NoError(t, r.Report(context.Background(), summary))
	require.NoError(t, r.Report(context.Background(), summary))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.invocations.WithLabelValues("unsupported")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.failures.WithLabelValues("unsupported")))
	assert.Equal(t, 0, testutil.CollectAndCount(r.writes))
}

func TestReportersDoNotShareState(t *testing.T) {
	t.Parallel()

	first := NewReporter()
	second := NewReporter()
	require.NoError(t, first.Report(context.Background(), partialSummary()))

	assert.Equal(t, 1.0, testutil.ToFloat64(first.invocations.WithLabelValues("partial")))
	assert.Equal(t, 0, testutil.CollectAndCount(second.invocations))
}

func TestWithRegistry(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	r := NewReporter(WithRegistry(registry))
	require.NoError(t, r.Report(context.Background(), partialSummary()))

	count, err := testutil.GatherAndCount(registry, "secrets_replicator_invocations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Same(t, registry, r.Registry())
}

func TestTextfileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "replicator.prom")
	r := NewReporter(WithTextfile(path))
	require.NoError(t, r.Report(context.Background(), partialSummary()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `secrets_replicator_invocations_total{outcome="partial"} 1`)
	assert.Contains(t, text, `secrets_replicator_destination_writes_total{action="created",destination="us-west-2"} 1`)
	assert.False(t, strings.Contains(text, "app/db"), "source identifiers are not labels")
}

func TestTextfileErrorIsReturned(t *testing.T) {
	t.Parallel()

	r := NewReporter(WithTextfile(filepath.Join(t.TempDir(), "missing", "dir", "replicator.prom")))
	err := r.Report(context.Background(), partialSummary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write metrics")
}
