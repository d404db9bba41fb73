package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/systmms/secrets-replicator/internal/destinations"
	"github.com/systmms/secrets-replicator/internal/replicate"
	"github.com/systmms/secrets-replicator/internal/transform"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func checkOutputFormat(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (must be text, json, or yaml)", format)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return enc.Close()
}

// writeSummaryTable prints one row per destination and a closing outcome line
func writeSummaryTable(w io.Writer, summary replicate.Summary) error {
	fmt.Fprintf(w, "Source: %s", summary.SourceID)
	if summary.SourceVersion != "" {
		fmt.Fprintf(w, " (version %s)", summary.SourceVersion)
	}
	fmt.Fprintln(w)

	if len(summary.Results) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DESTINATION\tNAME\tACTION\tVERSION\tRETRIES\tERROR")
		for _, r := range summary.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.Destination, r.Name, r.Action(), dash(r.Version), r.Retries, dash(r.Error))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Outcome: %s", summary.Outcome)
	if len(summary.Results) > 0 {
		fmt.Fprintf(w, " (%d/%d succeeded, %d retries)", summary.Succeeded(), len(summary.Results), summary.Retries())
	}
	if summary.Reason != "" {
		fmt.Fprintf(w, ": %s", summary.Reason)
	}
	fmt.Fprintln(w)
	return nil
}

// planEntry is the serialized form of one resolver decision.
type planEntry struct {
	Destination string   `json:"destination" yaml:"destination"`
	Region      string   `json:"region" yaml:"region"`
	Role        string   `json:"account_role_arn,omitempty" yaml:"account_role_arn,omitempty"`
	Included    bool     `json:"included" yaml:"included"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Chain       []string `json:"chain,omitempty" yaml:"chain,omitempty"`
	Reason      string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
}

func planEntries(decisions []destinations.Decision) []planEntry {
	entries := make([]planEntry, 0, len(decisions))
	for _, d := range decisions {
		entry := planEntry{
			Destination: d.Target.Spec.ID(),
			Region:      d.Target.Spec.Region,
			Role:        d.Target.Spec.AccountRoleARN,
			Included:    d.Included,
			Reason:      d.Reason,
		}
		if d.Included {
			entry.Name = d.Target.Name
			entry.Chain = chainNames(d.Target.ChainRef)
		}
		if d.Target.Err != nil {
			entry.Error = d.Target.Err.Error()
		}
		entries = append(entries, entry)
	}
	return entries
}

func writePlanTable(w io.Writer, sourceID string, entries []planEntry) error {
	fmt.Fprintf(w, "Plan for %s\n\n", sourceID)
	if len(entries) == 0 {
		fmt.Fprintln(w, "No destinations configured.")
		return nil
	}

	included := 0
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DESTINATION\tSTATUS\tNAME\tTRANSFORMS\tREASON")
	for _, e := range entries {
		status := "skip"
		if e.Included {
			status = "write"
			included++
		}
		if e.Error != "" {
			status = "error"
		}
		reason := e.Reason
		if e.Error != "" {
			reason = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Destination, status, dash(e.Name), dash(strings.Join(e.Chain, " -> ")), dash(reason))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d of %d destinations would be written\n", included, len(entries))
	return nil
}

func chainNames(ref string) []string {
	stages, err := transform.ParseChainRef(ref)
	if err != nil {
		return []string{ref}
	}
	names := make([]string, len(stages))
	for i, stage := range stages {
		names[i] = stage.String()
	}
	return names
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
