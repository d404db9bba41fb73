package replicate

import (
	"time"

	dserrors "github.com/systmms/secrets-replicator/internal/errors"
)

// Outcome is the overall result of one invocation.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomePartial     Outcome = "partial"
	OutcomeFailure     Outcome = "failure"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeSkipped     Outcome = "skipped"
)

// OK reports whether the outcome should be treated as a clean run
func (o Outcome) OK() bool {
	return o == OutcomeSuccess || o == OutcomeSkipped
}

// Result describes the write to one destination.
type Result struct {
	Region      string        `json:"region" yaml:"region"`
	Destination string        `json:"destination" yaml:"destination"`
	Name        string        `json:"name" yaml:"name"`
	Chain       []string      `json:"chain,omitempty" yaml:"chain,omitempty"`
	Success     bool          `json:"success" yaml:"success"`
	Created     bool          `json:"created,omitempty" yaml:"created,omitempty"`
	Version     string        `json:"version,omitempty" yaml:"version,omitempty"`
	Kind        dserrors.Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	Retries     int           `json:"retries" yaml:"retries"`
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Action returns "created", "updated" or "failed"
func (r Result) Action() string {
	switch {
	case !r.Success:
		return "failed"
	case r.Created:
		return "created"
	default:
		return "updated"
	}
}

// Summary is the outcome of replicating one source secret.
type Summary struct {
	SourceID      string        `json:"source_id" yaml:"source_id"`
	SourceVersion string        `json:"source_version,omitempty" yaml:"source_version,omitempty"`
	Outcome       Outcome       `json:"outcome" yaml:"outcome"`
	Reason        string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Kind          dserrors.Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Results       []Result      `json:"results" yaml:"results"`
	StartedAt     time.Time     `json:"started_at" yaml:"started_at"`
	Elapsed       time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Succeeded counts successful destination writes
func (s Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// Failed counts failed destination writes
func (s Summary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// Retries sums the retry counts of all results
func (s Summary) Retries() int {
	n := 0
	for _, r := range s.Results {
		n += r.Retries
	}
	return n
}

// aggregate derives the outcome from per-destination results: all succeeded
// is success, none is failure, anything in between is partial.
func aggregate(results []Result) (Outcome, string) {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}

	switch {
	case len(results) == 0:
		return OutcomeFailure, "no destinations matched"
	case succeeded == len(results):
		return OutcomeSuccess, ""
	case succeeded == 0:
		return OutcomeFailure, "all destinations failed"
	default:
		return OutcomePartial, "some destinations failed"
	}
}
