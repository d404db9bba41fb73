package replicate

import (
	"context"

	"go.uber.org/zap"

	"github.com/systmms/secrets-replicator/internal/logging"
)

// Reporter receives the summary of every invocation.
type Reporter interface {
	// Name identifies the reporter in logs (e.g., "log", "prometheus").
	Name() string

	// Report publishes a summary. Errors are logged by the caller and never
	// change the invocation's outcome.
	Report(ctx context.Context, summary Summary) error
}

// LogReporter writes one structured entry per summary and one per result.
type LogReporter struct {
	logger *logging.Logger
}

// NewLogReporter creates a reporter writing to logger
func NewLogReporter(logger *logging.Logger) *LogReporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Name implements Reporter
func (r *LogReporter) Name() string {
	return "log"
}

// Report implements Reporter
func (r *LogReporter) Report(_ context.Context, summary Summary) error {
	base := r.logger.With(
		zap.String("source", summary.SourceID),
		zap.String("outcome", string(summary.Outcome)),
	)

	for _, result := range summary.Results {
		fields := []zap.Field{
			zap.String("destination", result.Destination),
			zap.String("name", result.Name),
			zap.String("action", result.Action()),
			zap.Int("retries", result.Retries),
			zap.Duration("elapsed", result.Elapsed),
		}
		if result.Success {
			base.With(append(fields, zap.String("version", result.Version))...).Info("replicated to %s", result.Destination)
			continue
		}
		fields = append(fields, zap.String("kind", string(result.Kind)), zap.String("error", result.Error))
		base.With(fields...).Error("replication to %s failed", result.Destination)
	}

	entry := base.With(
		zap.Int("succeeded", summary.Succeeded()),
		zap.Int("failed", summary.Failed()),
		zap.Duration("elapsed", summary.Elapsed),
	)
	switch summary.Outcome {
	case OutcomeSuccess, OutcomeSkipped:
		entry.Info("replication %s: %s", summary.Outcome, reasonOrDefault(summary.Reason))
	case OutcomePartial:
		entry.Warn("replication %s: %s", summary.Outcome, reasonOrDefault(summary.Reason))
	default:
		entry.With(zap.String("kind", string(summary.Kind))).Error("replication %s: %s", summary.Outcome, reasonOrDefault(summary.Reason))
	}
	return nil
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "ok"
	}
	return reason
}
