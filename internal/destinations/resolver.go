// Package destinations decides where a source secret is replicated.
//
// A destination list declares regions and accounts. Each destination may
// carry a filter ruleset, which both gates replication and picks the
// transform chain, and a name mapping, which both gates and renames. The two
// are independent: either, both or neither may be configured.
package destinations

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/systmms/secrets-replicator/internal/cache"
	"github.com/systmms/secrets-replicator/internal/logging"
	"github.com/systmms/secrets-replicator/internal/pattern"
	"github.com/systmms/secrets-replicator/pkg/provider"
)

// Target is a destination the source secret should be written to.
type Target struct {
	Spec Spec

	// Name is the identifier to write at the destination.
	Name string

	// ChainRef names the transform chain; empty means pass-through.
	ChainRef string

	// Err is set when the destination's filter or name mapping could not be
	// loaded. Such a target is reported as failed without a write attempt.
	Err error
}

// Decision records why a destination was included or left out.
type Decision struct {
	Target   Target
	Included bool
	Reason   string
}

// Resolver evaluates filters and name mappings against destination specs.
type Resolver struct {
	source       provider.ConfigSource
	blobs        *cache.Cache[cache.Key, string]
	filterTTL    time.Duration
	sourceRegion string
	logger       *logging.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFilterTTL sets how long filter rulesets are cached. Non-positive values
// use cache.DefaultTTL.
func WithFilterTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.filterTTL = ttl
	}
}

// WithSourceRegion lets the resolver drop destinations that would overwrite
// the source secret itself.
func WithSourceRegion(region string) ResolverOption {
	return func(r *Resolver) {
		r.sourceRegion = region
	}
}

// WithLogger sets the resolver's logger
func WithLogger(logger *logging.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver reading rulesets from source through blobs.
func NewResolver(source provider.ConfigSource, blobs *cache.Cache[cache.Key, string], opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source: source,
		blobs:  blobs,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.filterTTL <= 0 {
		r.filterTTL = cache.DefaultTTL
	}
	if r.blobs == nil {
		r.blobs = cache.New[cache.Key, string](nil, r.filterTTL)
	}
	return r
}

// Resolve returns the targets sourceID replicates to, in spec order.
func (r *Resolver) Resolve(ctx context.Context, sourceID string, specs []Spec) ([]Target, error) {
	decisions, err := r.Explain(ctx, sourceID, specs)
	if err != nil {
		return nil, err
	}

	targets := make([]Target, 0, len(decisions))
	for _, d := range decisions {
		if d.Included {
			targets = append(targets, d.Target)
		}
	}
	return targets, nil
}

// Explain evaluates every spec and reports the decision for each.
func (r *Resolver) Explain(ctx context.Context, sourceID string, specs []Spec) ([]Decision, error) {
	if IsReserved(sourceID) {
		decisions := make([]Decision, len(specs))
		for i, spec := range specs {
			decisions[i] = Decision{Target: Target{Spec: spec}, Reason: "source is in a reserved namespace"}
		}
		return decisions, nil
	}

	decisions := make([]Decision, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := r.decide(ctx, sourceID, spec)
		r.logger.Debug("destination %s: included=%t %s", spec.ID(), d.Included, d.Reason)
		decisions = append(decisions, d)
	}
	return decisions, nil
}

func (r *Resolver) decide(ctx context.Context, sourceID string, spec Spec) Decision {
	target := Target{Spec: spec, Name: sourceID, ChainRef: spec.Transforms}
	reason := "no filter configured"

	if spec.Filters != "" {
		filters, err := r.loadMapping(ctx, cache.KindFilter, FiltersKey(spec.Filters), spec, r.filterTTL, ParseFilters)
		if err != nil {
			target.Err = err
			return Decision{Target: target, Included: true, Reason: "filter could not be loaded"}
		}
		entry, _, ok := filters.Lookup(sourceID)
		if !ok {
			return Decision{Target: target, Reason: "no filter pattern matched"}
		}
		target.ChainRef = entry.Value
		reason = fmt.Sprintf("filter pattern %q matched", entry.Pattern)
	}

	if spec.SecretNames != "" {
		names, err := r.loadMapping(ctx, cache.KindNames, NamesKey(spec.SecretNames), spec, spec.NamesTTL(), ParseNameMapping)
		if err != nil {
			target.Err = err
			return Decision{Target: target, Included: true, Reason: "name mapping could not be loaded"}
		}
		name, ok := names.Rename(sourceID)
		if !ok {
			return Decision{Target: target, Reason: "no name mapping pattern matched"}
		}
		target.Name = name
	}

	if IsReserved(target.Name) {
		target.Err = fmt.Errorf("destination name %q is in a reserved namespace", target.Name)
		return Decision{Target: target, Included: true, Reason: "destination name is reserved"}
	}
	if r.sourceRegion != "" && spec.Region == r.sourceRegion && spec.AccountRoleARN == "" && target.Name == sourceID {
		return Decision{Target: target, Reason: "destination is the source secret"}
	}

	return Decision{Target: target, Included: true, Reason: reason}
}

func (r *Resolver) loadMapping(ctx context.Context, kind cache.Kind, key string, spec Spec, ttl time.Duration, parse func(string) (pattern.Mapping, error)) (pattern.Mapping, error) {
	load := func(ctx context.Context) (string, error) {
		r.logger.With(zap.String("key", key), zap.String("destination", spec.ID())).Debug("loading %s", kind)
		return r.source.Get(ctx, key)
	}

	var text string
	var err error
	if ttl <= 0 {
		text, err = load(ctx)
	} else {
		text, err = r.blobs.GetOrLoad(ctx, cache.Key{Kind: kind, Ref: key, Destination: spec.ID()}, ttl, load)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", kind, key, err)
	}

	mapping, err := parse(text)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, key, err)
	}
	return mapping, nil
}
