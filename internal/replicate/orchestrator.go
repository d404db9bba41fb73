// Package replicate drives one replication invocation: resolve destinations,
// fetch the source secret once, transform and write it to every target and
// reduce the per-destination results into a single outcome.
package replicate

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/systmms/secrets-replicator/internal/cache"
	"github.com/systmms/secrets-replicator/internal/destinations"
	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/internal/logging"
	"github.com/systmms/secrets-replicator/internal/retry"
	"github.com/systmms/secrets-replicator/internal/secure"
	"github.com/systmms/secrets-replicator/internal/transform"
	"github.com/systmms/secrets-replicator/internal/variables"
	"github.com/systmms/secrets-replicator/pkg/provider"
)

// DefaultMaxSecretSize is the largest value Secrets Manager accepts.
const DefaultMaxSecretSize = 65536

// Orchestrator replicates source secrets to their resolved destinations.
type Orchestrator struct {
	source    provider.SourceReader
	writers   provider.WriterFactory
	config    provider.ConfigSource
	resolver  *destinations.Resolver
	blobs     *cache.Cache[cache.Key, string]
	policy    *retry.Policy
	reporters []Reporter
	logger    *logging.Logger
	clock     clock.Clock

	specs           []destinations.Spec
	destinationsKey string
	sourceRegion    string
	maxSecretSize   int
	concurrency     int
	regexTimeout    time.Duration
	rulesTTL        time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSpecs uses a fixed destination list instead of loading one per invocation
func WithSpecs(specs []destinations.Spec) Option {
	return func(o *Orchestrator) {
		o.specs = specs
	}
}

// WithDestinationsKey sets the configuration key holding the destination list
func WithDestinationsKey(key string) Option {
	return func(o *Orchestrator) {
		if key != "" {
			o.destinationsKey = key
		}
	}
}

// WithSourceRegion sets the region source secrets are read from
func WithSourceRegion(region string) Option {
	return func(o *Orchestrator) {
		o.sourceRegion = region
	}
}

// WithMaxSecretSize sets the size limit for source and transformed values
func WithMaxSecretSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSecretSize = n
		}
	}
}

// WithConcurrency sets how many destinations are written in parallel.
// Values below two keep the sequential fan-out.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = n
	}
}

// WithRegexTimeout sets the per-match budget of substitution rules
func WithRegexTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.regexTimeout = d
		}
	}
}

// WithCache shares a ruleset cache across orchestrators or invocations
func WithCache(c *cache.Cache[cache.Key, string]) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.blobs = c
		}
	}
}

// WithCacheTTL sets how long filter and transformation rulesets are cached
func WithCacheTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.rulesTTL = d
		}
	}
}

// WithRetryPolicy replaces the default retry policy
func WithRetryPolicy(p *retry.Policy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithReporters adds summary reporters
func WithReporters(reporters ...Reporter) Option {
	return func(o *Orchestrator) {
		o.reporters = append(o.reporters, reporters...)
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for elapsed times and cache expiry
func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) {
		if clk != nil {
			o.clock = clk
		}
	}
}

// New creates an orchestrator reading from source, writing through writers
// and loading configuration blobs from config.
func New(source provider.SourceReader, writers provider.WriterFactory, config provider.ConfigSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:          source,
		writers:         writers,
		config:          config,
		logger:          logging.NewNop(),
		clock:           clock.New(),
		destinationsKey: destinations.DefaultDestinationsKey,
		maxSecretSize:   DefaultMaxSecretSize,
		concurrency:     1,
		regexTimeout:    transform.DefaultRegexTimeout,
		rulesTTL:        cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.policy == nil {
		o.policy = retry.New(retry.DefaultConfig(), retry.WithLogger(o.logger))
	}
	if o.blobs == nil {
		o.blobs = cache.New[cache.Key, string](o.clock, o.rulesTTL)
	}
	o.resolver = destinations.NewResolver(
		provider.ConfigSourceFunc(o.getConfig),
		o.blobs,
		destinations.WithFilterTTL(o.rulesTTL),
		destinations.WithSourceRegion(o.sourceRegion),
		destinations.WithLogger(o.logger),
	)
	return o
}

// snapshot is the source secret as fetched for one invocation.
type snapshot struct {
	id      string
	region  string
	account string
	version string
	value   *secure.Value
}

// Replicate runs one invocation for sourceID and reports the summary to
// every configured reporter. It never returns an error; failures are
// expressed through the summary's outcome and results.
func (o *Orchestrator) Replicate(ctx context.Context, sourceID string) Summary {
	start := o.clock.Now()
	summary := o.run(ctx, sourceID)
	summary.StartedAt = start
	summary.Elapsed = o.clock.Now().Sub(start)

	o.report(ctx, summary)
	return summary
}

func (o *Orchestrator) run(ctx context.Context, sourceID string) Summary {
	summary := Summary{SourceID: sourceID, Results: []Result{}}
	log := o.logger.With(zap.String("source", sourceID))

	if destinations.IsReserved(sourceID) {
		log.Debug("skipping replicator configuration secret")
		summary.Outcome = OutcomeSkipped
		summary.Reason = "source is a replicator configuration secret"
		return summary
	}

	var secret provider.Secret
	_, err := o.policy.Do(ctx, "fetch "+sourceID, func(ctx context.Context) error {
		var fetchErr error
		secret, fetchErr = o.source.Fetch(ctx, sourceID)
		return fetchErr
	})
	if err != nil {
		return failed(summary, "failed to fetch source secret", err)
	}
	summary.SourceVersion = secret.Version

	if secret.Binary {
		summary.Outcome = OutcomeUnsupported
		summary.Reason = "binary secrets are not supported"
		summary.Kind = dserrors.KindUnsupported
		return summary
	}
	size := secret.Size
	if size == 0 {
		size = len(secret.Value)
	}
	if size > o.maxSecretSize {
		summary.Outcome = OutcomeFailure
		summary.Reason = fmt.Sprintf("secret is %d bytes, limit is %d", size, o.maxSecretSize)
		summary.Kind = dserrors.KindMalformed
		return summary
	}

	specs, err := o.Specs(ctx)
	if err != nil {
		return failed(summary, "failed to load destinations", err)
	}

	targets, err := o.resolver.Resolve(ctx, sourceID, specs)
	if err != nil {
		return failed(summary, "failed to resolve destinations", err)
	}
	if len(targets) == 0 {
		log.Info("no destinations matched")
		summary.Outcome = OutcomeFailure
		summary.Reason = "no destinations matched"
		return summary
	}

	snap := &snapshot{
		id:      sourceID,
		region:  o.sourceRegion,
		version: secret.Version,
		value:   secure.NewValue(secret.Value),
	}
	defer snap.value.Destroy()
	if parsed, err := arn.Parse(secret.ARN); err == nil {
		snap.account = parsed.AccountID
		if snap.region == "" {
			snap.region = parsed.Region
		}
	}

	log.Debug("replicating version %s to %d destinations", secret.Version, len(targets))
	summary.Results = o.fanOut(ctx, snap, targets)
	summary.Outcome, summary.Reason = aggregate(summary.Results)
	return summary
}

// Specs returns the destination list for the next invocation
func (o *Orchestrator) Specs(ctx context.Context) ([]destinations.Spec, error) {
	if o.specs != nil {
		return o.specs, nil
	}
	return destinations.LoadSpecs(ctx, provider.ConfigSourceFunc(o.getConfig), o.destinationsKey)
}

// Plan explains, per destination, whether sourceID would be replicated and
// under which name and chain. Nothing is fetched from the source or written.
func (o *Orchestrator) Plan(ctx context.Context, sourceID string) ([]destinations.Decision, error) {
	specs, err := o.Specs(ctx)
	if err != nil {
		return nil, err
	}
	return o.resolver.Explain(ctx, sourceID, specs)
}

func (o *Orchestrator) fanOut(ctx context.Context, snap *snapshot, targets []destinations.Target) []Result {
	results := make([]Result, len(targets))
	if o.concurrency < 2 || len(targets) == 1 {
		for i, target := range targets {
			results[i] = o.replicateTo(ctx, snap, target)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = o.replicateTo(ctx, snap, target)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) replicateTo(ctx context.Context, snap *snapshot, target destinations.Target) Result {
	start := o.clock.Now()
	spec := target.Spec
	result := Result{Region: spec.Region, Destination: spec.ID(), Name: target.Name}
	log := o.logger.With(zap.String("source", snap.id), zap.String("destination", spec.ID()), zap.String("name", target.Name))

	finish := func(err error) Result {
		result.Elapsed = o.clock.Now().Sub(start)
		if err != nil {
			result.Kind = dserrors.KindOf(err)
			result.Error = err.Error()
			log.Debug("destination failed: %v", err)
			return result
		}
		result.Success = true
		return result
	}

	if target.Err != nil {
		return finish(target.Err)
	}

	vars := o.variablesFor(snap, target)
	chain, err := o.buildChain(ctx, target, vars)
	if err != nil {
		return finish(err)
	}
	result.Chain = chain.Names()

	plain, err := snap.value.Reveal()
	if err != nil {
		return finish(err)
	}
	value, err := chain.Apply(plain)
	if err != nil {
		return finish(err)
	}
	if len(value) > o.maxSecretSize {
		return finish(dserrors.Malformed("transform", fmt.Sprintf("transformed value is %d bytes, limit is %d", len(value), o.maxSecretSize), nil))
	}

	var writer provider.DestinationWriter
	err = o.attempt(ctx, &result, "open "+spec.ID(), func(ctx context.Context) error {
		var openErr error
		writer, openErr = o.writers.ForDestination(ctx, spec.Region, spec.AccountRoleARN)
		return openErr
	})
	if err != nil {
		return finish(err)
	}

	var exists bool
	err = o.attempt(ctx, &result, "describe "+target.Name, func(ctx context.Context) error {
		var existsErr error
		exists, existsErr = writer.Exists(ctx, target.Name)
		return existsErr
	})
	if err != nil {
		return finish(err)
	}

	op, write := "create "+target.Name, writer.Create
	if exists {
		op, write = "update "+target.Name, writer.Update
	}
	err = o.attempt(ctx, &result, op, func(ctx context.Context) error {
		version, writeErr := write(ctx, target.Name, value, spec.KMSKeyID)
		result.Version = version
		return writeErr
	})
	if err != nil {
		return finish(err)
	}

	result.Created = !exists
	log.Debug("%s version %s", result.Action(), result.Version)
	return finish(nil)
}

// attempt runs fn under the retry policy and adds the retries to result.
func (o *Orchestrator) attempt(ctx context.Context, result *Result, op string, fn func(context.Context) error) error {
	attempts, err := o.policy.Do(ctx, op, fn)
	if attempts > 1 {
		result.Retries += attempts - 1
	}
	return err
}

func (o *Orchestrator) variablesFor(snap *snapshot, target destinations.Target) variables.Context {
	destAccount := target.Spec.AccountID()
	if destAccount == "" {
		destAccount = snap.account
	}
	return variables.NewContext(variables.Core{
		DestRegion:     target.Spec.Region,
		SourceRegion:   snap.region,
		SecretName:     snap.id,
		DestSecretName: target.Name,
		DestAccount:    destAccount,
		SourceAccount:  snap.account,
	}, target.Spec.Variables)
}

// buildChain loads every stage's rule text, expands variables for this
// destination and parses the result. Rule text is cached before expansion.
func (o *Orchestrator) buildChain(ctx context.Context, target destinations.Target, vars variables.Context) (transform.Chain, error) {
	refs, err := transform.ParseChainRef(target.ChainRef)
	if err != nil {
		return nil, err
	}

	chain := make(transform.Chain, 0, len(refs))
	for _, ref := range refs {
		key := destinations.TransformationKey(ref.Name)
		text, err := o.blobs.GetOrLoad(ctx, cache.Key{Kind: cache.KindTransform, Ref: key, Destination: target.Spec.ID()}, o.rulesTTL,
			func(ctx context.Context) (string, error) {
				return o.getConfig(ctx, key)
			})
		if err != nil {
			return nil, fmt.Errorf("failed to load transformation %s: %w", ref.Name, err)
		}

		expanded, err := variables.Expand(text, vars)
		if err != nil {
			return nil, fmt.Errorf("transformation %s: %w", ref.Name, err)
		}

		rules, err := transform.Parse(expanded, ref.Format, transform.WithRegexTimeout(o.regexTimeout))
		if err != nil {
			return nil, transform.WithStage(err, ref.Name)
		}
		chain = append(chain, transform.Stage{Name: ref.Name, Rules: rules})
	}
	return chain, nil
}

// getConfig reads a configuration blob under the retry policy.
func (o *Orchestrator) getConfig(ctx context.Context, key string) (string, error) {
	var text string
	_, err := o.policy.Do(ctx, "load "+key, func(ctx context.Context) error {
		var getErr error
		text, getErr = o.config.Get(ctx, key)
		return getErr
	})
	return text, err
}

func (o *Orchestrator) report(ctx context.Context, summary Summary) {
	for _, reporter := range o.reporters {
		if err := reporter.Report(ctx, summary); err != nil {
			o.logger.Warn("reporter %s failed: %v", reporter.Name(), err)
		}
	}
}

func failed(summary Summary, reason string, err error) Summary {
	summary.Outcome = OutcomeFailure
	summary.Reason = reason + ": " + err.Error()
	summary.Kind = dserrors.KindOf(err)
	return summary
}
