package transform

import (
	"errors"
	"strings"
)

// StageRef names one rule set in a chain reference, optionally pinned to a
// format with a "sed:" or "json:" prefix.
type StageRef struct {
	Name   string
	Format Format
}

func (r StageRef) String() string {
	if r.Format == FormatAuto || r.Format == "" {
		return r.Name
	}
	return string(r.Format) + ":" + r.Name
}

// ParseChainRef splits "region-swap, json:env-promotion" into stage
// references. Commas and pipes both separate stages; blanks are dropped.
func ParseChainRef(ref string) ([]StageRef, error) {
	fields := strings.FieldsFunc(ref, func(r rune) bool {
		return r == ',' || r == '|'
	})

	var stages []StageRef
	for _, field := range fields {
		name := strings.TrimSpace(field)
		if name == "" {
			continue
		}

		format := FormatAuto
		if prefix, rest, ok := strings.Cut(name, ":"); ok {
			parsed, err := ParseFormat(prefix)
			if err != nil {
				return nil, &TransformationError{Stage: name, Reason: "invalid mode override", Err: err}
			}
			format = parsed
			name = strings.TrimSpace(rest)
		}
		if name == "" {
			return nil, &TransformationError{Stage: field, Reason: "empty rule set name"}
		}

		stages = append(stages, StageRef{Name: name, Format: format})
	}
	return stages, nil
}

// Stage is a parsed, named rule set.
type Stage struct {
	Name  string
	Rules RuleSet
}

// Chain applies stages left to right. The zero value is pass-through.
type Chain []Stage

// Apply runs each stage on the previous stage's output.
func (c Chain) Apply(value string) (string, error) {
	result := value
	for _, stage := range c {
		out, err := stage.Rules.Apply(result)
		if err != nil {
			return "", WithStage(err, stage.Name)
		}
		result = out
	}
	return result, nil
}

// Then returns a new chain running c followed by next. Neither input is
// modified.
func (c Chain) Then(next Chain) Chain {
	out := make(Chain, 0, len(c)+len(next))
	out = append(out, c...)
	return append(out, next...)
}

// IsPassThrough reports whether applying the chain returns its input unchanged
func (c Chain) IsPassThrough() bool {
	return len(c) == 0
}

// Names lists the stage names in order
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, stage := range c {
		names[i] = stage.Name
	}
	return names
}

// WithStage attributes err to the named stage unless it already names one
func WithStage(err error, name string) error {
	var te *TransformationError
	if errors.As(err, &te) {
		if te.Stage != "" {
			return err
		}
		stamped := *te
		stamped.Stage = name
		return &stamped
	}
	return &TransformationError{Stage: name, Reason: "stage failed", Err: err}
}
