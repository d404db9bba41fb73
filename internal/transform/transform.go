// Package transform parses and applies value-rewrite rules.
//
// Two rule families exist. Substitution rules are sed-style lines such as
// s/us-east-1/us-west-2/g applied with a regular expression engine that
// enforces a per-match time budget. Field rules are a JSON document naming a
// path inside a JSON secret value together with a literal to find and a literal
// to put in its place. Rule text is parsed once into a RuleSet and can then be
// applied any number of times; application never mutates the rules.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
)

// DefaultRegexTimeout bounds a single regular expression match.
const DefaultRegexTimeout = 2 * time.Second

// Format identifies a rule family.
type Format string

const (
	FormatAuto         Format = "auto"
	FormatSubstitution Format = "sed"
	FormatField        Format = "json"
)

// ParseFormat parses a user supplied mode name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "sed", "regex", "substitution":
		return FormatSubstitution, nil
	case "json", "field", "fields":
		return FormatField, nil
	}
	return "", fmt.Errorf("unknown transformation mode %q (must be auto, sed, or json)", s)
}

// DetectFormat inspects rule text: a JSON object or array is field rules,
// anything else is substitution rules.
func DetectFormat(text string) Format {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return FormatSubstitution
	}
	if (trimmed[0] == '{' || trimmed[0] == '[') && gjson.Valid(trimmed) {
		return FormatField
	}
	return FormatSubstitution
}

// RuleSet is a parsed, immutable list of rules from one family.
type RuleSet interface {
	Format() Format
	Len() int
	Apply(value string) (string, error)
}

// Options tune parsing.
type Options struct {
	RegexTimeout time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithRegexTimeout sets the budget for a single regular expression match
func WithRegexTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.RegexTimeout = d
		}
	}
}

// Parse parses rule text in the given format. FormatAuto detects the format
// from the content; any other format is used as given.
func Parse(text string, format Format, opts ...Option) (RuleSet, error) {
	options := Options{RegexTimeout: DefaultRegexTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	if format == FormatAuto || format == "" {
		format = DetectFormat(text)
	}

	switch format {
	case FormatSubstitution:
		return parseSubstitutions(text, options)
	case FormatField:
		return parseFields(text)
	}
	return nil, &TransformationError{Reason: fmt.Sprintf("unknown rule format %q", format)}
}

// TransformationError reports malformed rules, invalid paths, regex budget
// exhaustion or input the rules cannot be applied to.
type TransformationError struct {
	Stage  string
	Line   int
	Reason string
	Err    error
}

func (e *TransformationError) Error() string {
	var b strings.Builder
	b.WriteString("transformation")
	if e.Stage != "" {
		b.WriteString(" '")
		b.WriteString(e.Stage)
		b.WriteString("'")
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransformationError) Unwrap() error {
	return e.Err
}

// Kind implements errors.Classified
func (e *TransformationError) Kind() dserrors.Kind {
	return dserrors.KindMalformed
}
