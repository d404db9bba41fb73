package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/secrets-replicator/internal/config"
	"github.com/systmms/secrets-replicator/internal/logging"
	"github.com/systmms/secrets-replicator/internal/metrics"
	"github.com/systmms/secrets-replicator/internal/providers"
	"github.com/systmms/secrets-replicator/internal/replicate"
	"github.com/systmms/secrets-replicator/internal/retry"
	"github.com/systmms/secrets-replicator/pkg/provider"
)

// App carries state shared by every command.
type App struct {
	Config  *config.Config
	Debug   bool
	Timeout time.Duration

	// NewRuntime builds the stores commands talk to.
	NewRuntime RuntimeFactory

	logger *logging.Logger
}

// Runtime is the set of stores one invocation works against.
type Runtime struct {
	Region  string
	Source  provider.SourceReader
	Writers provider.WriterFactory
	Config  provider.ConfigSource
}

// RuntimeFactory builds a Runtime from loaded settings.
type RuntimeFactory func(ctx context.Context, settings *config.Settings, logger *logging.Logger) (*Runtime, error)

// NewAWSRuntime wires Secrets Manager, STS and, when configured, SSM.
func NewAWSRuntime(ctx context.Context, s *config.Settings, logger *logging.Logger) (*Runtime, error) {
	awsCfg, err := providers.LoadAWSConfig(ctx, providers.AWSOptions{
		Region:          s.SourceRegion,
		Profile:         s.AWSProfile,
		AccessKeyID:     s.AWSAccessKeyID,
		SecretAccessKey: s.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("no source region: set source_region or AWS_REGION")
	}

	factory := providers.NewClientFactory(awsCfg,
		providers.WithEndpoint(s.Endpoint),
		providers.WithAssumerOptions(
			providers.WithSessionName(s.SessionName),
			providers.WithSessionDuration(s.SessionDuration),
			providers.WithExternalID(s.ExternalID),
			providers.WithAssumerLogger(logger),
		),
	)

	source, err := factory.Source(ctx)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Region: awsCfg.Region, Source: source, Writers: factory, Config: source}
	if s.ConfigStore == config.StoreSSM {
		rt.Config = factory.SSM()
	}
	return rt, nil
}

// load reads the configuration and sets up logging.
func (a *App) load() error {
	if a.Config.Settings == nil {
		if err := a.Config.Load(); err != nil {
			return err
		}
	}

	if a.logger == nil {
		level := a.Config.Settings.LogLevel
		if a.Debug {
			level = "debug"
		}
		logger, err := logging.NewWithLevel(level)
		if err != nil {
			return err
		}
		a.logger = logger
		a.Config.Logger = logger
	}
	return nil
}

// Logger returns the command logger, a no-op one before load
func (a *App) Logger() *logging.Logger {
	if a.logger == nil {
		return logging.NewNop()
	}
	return a.logger
}

// SetLogger overrides the logger built from settings
func (a *App) SetLogger(logger *logging.Logger) {
	a.logger = logger
}

func (a *App) context(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if a.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, a.Timeout)
}

// orchestrator builds an orchestrator over rt from the loaded settings.
func (a *App) orchestrator(rt *Runtime) (*replicate.Orchestrator, error) {
	s := a.Config.Settings
	logger := a.Logger()

	region := s.SourceRegion
	if region == "" {
		region = rt.Region
	}

	opts := []replicate.Option{
		replicate.WithDestinationsKey(s.DestinationsKey),
		replicate.WithSourceRegion(region),
		replicate.WithMaxSecretSize(s.MaxSecretSize),
		replicate.WithConcurrency(s.Concurrency),
		replicate.WithRegexTimeout(s.RegexTimeout),
		replicate.WithCacheTTL(s.CacheTTL),
		replicate.WithRetryPolicy(retry.New(s.Retry, retry.WithLogger(logger))),
		replicate.WithLogger(logger),
		replicate.WithReporters(replicate.NewLogReporter(logger)),
	}

	specs, err := s.Specs()
	if err != nil {
		return nil, err
	}
	if specs != nil {
		opts = append(opts, replicate.WithSpecs(specs))
	}
	if s.MetricsFile != "" {
		opts = append(opts, replicate.WithReporters(metrics.NewReporter(metrics.WithTextfile(s.MetricsFile))))
	}

	return replicate.New(rt.Source, rt.Writers, rt.Config, opts...), nil
}
