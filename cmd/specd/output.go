package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fyrsmithlabs/specd/internal/coordinator"
	"github.com/fyrsmithlabs/specd/internal/docstore"
)

func validateOutput() error {
	switch outputFormat {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text or json)", outputFormat)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printAction(w io.Writer, a coordinator.NextAction) error {
	if outputFormat == "json" {
		return printJSON(w, a)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", a.SpecID, a.Kind)
	switch {
	case a.From != "" && a.Status != "" && a.From != a.Status:
		fmt.Fprintf(&b, " (%s -> %s)", a.From, a.Status)
	case a.Status != "":
		fmt.Fprintf(&b, " (%s)", a.Status)
	}
	if a.Role != "" {
		fmt.Fprintf(&b, " role=%s", a.Role)
	}
	if a.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", a.Reason)
	}
	fmt.Fprintln(w, b.String())
	for _, r := range a.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	return nil
}

func printSpec(w io.Writer, spec *docstore.Specification) error {
	if outputFormat == "json" {
		return printJSON(w, spec)
	}
	fmt.Fprintf(w, "%s  %s\n", spec.ID, spec.Title)
	fmt.Fprintf(w, "  status:   %s\n", spec.Status)
	fmt.Fprintf(w, "  revision: %d\n", spec.Revision)
	if len(spec.Metadata.Tags) > 0 {
		fmt.Fprintf(w, "  tags:     %s\n", strings.Join(spec.Metadata.Tags, ", "))
	}
	if len(spec.Metadata.DependsOn) > 0 {
		fmt.Fprintf(w, "  depends:  %s\n", strings.Join(spec.Metadata.DependsOn, ", "))
	}
	if len(spec.Tasks) > 0 {
		done := 0
		for _, t := range spec.Tasks {
			if t.Done {
				done++
			}
		}
		fmt.Fprintf(w, "  tasks:    %d/%d completed\n", done, len(spec.Tasks))
	}
	if spec.Stall != nil {
		fmt.Fprintf(w, "  stalled:  %s\n", spec.Stall.Reason)
	}
	return nil
}

func printStatus(w io.Writer, info *coordinator.StatusInfo) error {
	if outputFormat == "json" {
		return printJSON(w, info)
	}
	if err := printSpec(w, info.Spec); err != nil {
		return err
	}
	if info.Session != nil {
		fmt.Fprintf(w, "  session:  %s role=%s seq=%d state=%s\n",
			info.Session.ID, info.Session.Role, info.Session.Seq, info.Session.State)
	}
	switch {
	case info.AwaitingApproval:
		fmt.Fprintln(w, "  next:     awaiting approval")
	case info.NextRole != "":
		fmt.Fprintf(w, "  next:     %s\n", info.NextRole)
	}
	return nil
}

func printList(w io.Writer, specs []*docstore.Specification) error {
	if outputFormat == "json" {
		return printJSON(w, specs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tREVISION\tTITLE")
	for _, s := range specs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Status, s.Revision, s.Title)
	}
	return tw.Flush()
}
