package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/florianilch/ticketbridge/internal/fields"
	"github.com/florianilch/ticketbridge/internal/resolver"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printOutcome renders out for a terminal, or as JSON when asJSON is set.
func printOutcome(w io.Writer, out resolver.Outcome, asJSON bool) error {
	if asJSON {
		return printJSON(w, out)
	}

	switch out.Kind {
	case resolver.KindSuccess:
		fmt.Fprintf(w, "%s via %s\n", green("✓ success"), out.Source)
		if out.Snapshot != nil {
			printSnapshot(w, *out.Snapshot)
		}
		if len(out.UpdatedFieldKeys) > 0 {
			fmt.Fprintf(w, "  updated: %s\n", strings.Join(out.UpdatedFieldKeys, ", "))
		}
	case resolver.KindRequiresRemoteBridge:
		fmt.Fprintf(w, "%s (cause: %s)\n", yellow("→ requires remote bridge"), out.Bridge.Cause)
		fmt.Fprintln(w, "  apply in the browser context with: ticketbridge bridge apply --input <file>")
		return printJSON(w, out.Bridge)
	default:
		fmt.Fprintf(w, "%s [%s] %s\n", red("✗ failure"), out.Class, out.Reason)
		if out.RequiresManualUpdate {
			fmt.Fprintln(w, "  apply these fields by hand:")
			return printJSON(w, out.FieldMap)
		}
	}
	return nil
}

func printSnapshot(w io.Writer, s fields.Snapshot) {
	fmt.Fprintf(w, "%s  %s\n", bold(s.Key), s.Summary)
	if s.Status != "" {
		fmt.Fprintf(w, "  status:     %s\n", s.Status)
	}
	if s.Priority != "" {
		fmt.Fprintf(w, "  priority:   %s\n", s.Priority)
	}
	if s.Assignee != "" {
		fmt.Fprintf(w, "  assignee:   %s\n", s.Assignee)
	}
	if len(s.Components) > 0 {
		fmt.Fprintf(w, "  components: %s\n", strings.Join(s.Components, ", "))
	}
	if len(s.Labels) > 0 {
		fmt.Fprintf(w, "  labels:     %s\n", strings.Join(s.Labels, ", "))
	}
	if s.Description != "" {
		fmt.Fprintf(w, "\n%s\n", s.Description)
	}
}

func printSnapshots(w io.Writer, snaps []fields.Snapshot, asJSON bool) error {
	if asJSON {
		return printJSON(w, snaps)
	}
	if len(snaps) == 0 {
		fmt.Fprintln(w, "no issues")
		return nil
	}
	for _, s := range snaps {
		fmt.Fprintf(w, "%s  %s", bold(s.Key), s.Summary)
		if s.Status != "" {
			fmt.Fprintf(w, "  [%s]", s.Status)
		}
		fmt.Fprintln(w)
	}
	return nil
}
