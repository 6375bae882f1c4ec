package main

import (
	"fmt"
	"io"

	"github.com/c360studio/legion/workflow"
)

// printSummary writes the outcome of a run for the terminal.
func printSummary(out io.Writer, w *workflow.Instance, result *workflow.Result) {
	if w == nil {
		fmt.Fprintln(out, "No workflow was started.")
		return
	}
	fmt.Fprintf(out, "Workflow %s (%s): %s\n", w.ID, w.Mission.Title(), w.Status)

	answered := 0
	for _, q := range w.Questions() {
		if q.Answered {
			answered++
		}
	}
	fmt.Fprintf(out, "Questions answered: %d/%d\n", answered, len(w.Questions()))
	if w.Clarifications > 0 {
		fmt.Fprintf(out, "Clarifications: %d\n", w.Clarifications)
	}

	if w.Status == workflow.StatusFailed {
		fmt.Fprintf(out, "Failed at %s (%s): %s\n", w.FailedStep, w.FailedAgent, w.Error)
		return
	}
	if result == nil {
		return
	}
	fmt.Fprintf(out, "Deliverables (%d):\n", len(result.Deliverables))
	for _, d := range result.Deliverables {
		if d.URI != "" {
			fmt.Fprintf(out, "  - %s [%s] %s\n", d.Title, d.Format, d.URI)
		} else {
			fmt.Fprintf(out, "  - %s [%s]\n", d.Title, d.Format)
		}
	}
}
