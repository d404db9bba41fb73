package replicate

import (
	"context"
	"fmt"

	"github.com/systmms/secrets-replicator/internal/destinations"
	"github.com/systmms/secrets-replicator/internal/pattern"
	"github.com/systmms/secrets-replicator/internal/transform"
	"github.com/systmms/secrets-replicator/internal/variables"
)

// Problem is one configuration error found by Validate.
type Problem struct {
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
	Key         string `json:"key" yaml:"key"`
	Message     string `json:"message" yaml:"message"`
}

func (p Problem) String() string {
	if p.Destination == "" {
		return fmt.Sprintf("%s: %s", p.Key, p.Message)
	}
	return fmt.Sprintf("%s: %s: %s", p.Destination, p.Key, p.Message)
}

// Validate loads the destination list and every filter ruleset, name
// mapping and transformation it references, and reports each one that
// cannot be loaded or parsed. Transformations are expanded with placeholder
// secret names so that ${NAME} tokens are checked too. The error return is
// reserved for a destination list that cannot be loaded at all.
func (o *Orchestrator) Validate(ctx context.Context) ([]Problem, error) {
	specs, err := o.Specs(ctx)
	if err != nil {
		return nil, err
	}

	var problems []Problem
	checked := make(map[string]bool)
	for _, spec := range specs {
		report := func(key string, err error) {
			problems = append(problems, Problem{Destination: spec.ID(), Key: key, Message: err.Error()})
		}

		if spec.Filters != "" {
			key := destinations.FiltersKey(spec.Filters)
			if err := o.checkMapping(ctx, key, checked, destinations.ParseFilters); err != nil {
				report(key, err)
			}
		}
		if spec.SecretNames != "" {
			key := destinations.NamesKey(spec.SecretNames)
			if err := o.checkMapping(ctx, key, checked, destinations.ParseNameMapping); err != nil {
				report(key, err)
			}
		}

		for _, ref := range o.chainRefs(ctx, spec) {
			if err := o.checkChain(ctx, spec, ref); err != nil {
				report(ref, err)
			}
		}
	}
	return problems, nil
}

func (o *Orchestrator) checkMapping(ctx context.Context, key string, checked map[string]bool, parse func(string) (pattern.Mapping, error)) error {
	if checked[key] {
		return nil
	}
	checked[key] = true

	text, err := o.getConfig(ctx, key)
	if err != nil {
		return err
	}
	_, err = parse(text)
	return err
}

// chainRefs collects every chain a destination can apply: its own
// transforms and each chain named by its filter ruleset.
func (o *Orchestrator) chainRefs(ctx context.Context, spec destinations.Spec) []string {
	var refs []string
	if spec.Transforms != "" {
		refs = append(refs, spec.Transforms)
	}
	if spec.Filters == "" {
		return refs
	}

	text, err := o.getConfig(ctx, destinations.FiltersKey(spec.Filters))
	if err != nil {
		return refs
	}
	filters, err := destinations.ParseFilters(text)
	if err != nil {
		return refs
	}
	for _, entry := range filters {
		if entry.Value != "" {
			refs = append(refs, entry.Value)
		}
	}
	return refs
}

func (o *Orchestrator) checkChain(ctx context.Context, spec destinations.Spec, ref string) error {
	stages, err := transform.ParseChainRef(ref)
	if err != nil {
		return err
	}

	vars := variables.NewContext(variables.Core{
		DestRegion:     spec.Region,
		SourceRegion:   o.sourceRegion,
		SecretName:     "example",
		DestSecretName: "example",
		DestAccount:    spec.AccountID(),
		SourceAccount:  spec.AccountID(),
	}, spec.Variables)

	for _, stage := range stages {
		text, err := o.getConfig(ctx, destinations.TransformationKey(stage.Name))
		if err != nil {
			return fmt.Errorf("failed to load transformation %s: %w", stage.Name, err)
		}
		expanded, err := variables.Expand(text, vars)
		if err != nil {
			return fmt.Errorf("transformation %s: %w", stage.Name, err)
		}
		if _, err := transform.Parse(expanded, stage.Format, transform.WithRegexTimeout(o.regexTimeout)); err != nil {
			return transform.WithStage(err, stage.Name)
		}
	}
	return nil
}
