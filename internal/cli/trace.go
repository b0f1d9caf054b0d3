package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarry-data/quarry/internal/lineage"
	"github.com/quarry-data/quarry/internal/manifest"
)

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	var latest string

	cmd := &cobra.Command{
		Use:   "trace [execution-id]",
		Short: "Reconstruct and verify an execution's lineage",
		Long: `Walk an execution's provenance tree from the root down to its
curation leaves and verify it: every upstream record must exist, one
document id must thread the whole tree, and every leaf must still
resolve to its source artifact.

With --latest <layer> the trace roots at the layer's most recent
execution. A broken trace prints the partial tree, the breaks, and
exits 1.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && latest == "" {
				return NewExitError(ExitCommandError, "an execution id or --latest <layer> is required")
			}
			executionID := ""
			if len(args) > 0 {
				executionID = args[0]
			}
			return runTrace(rootOpts, executionID, latest, cmd)
		},
	}

	cmd.Flags().StringVar(&latest, "latest", "", "trace the most recent execution of a layer (curation|semantics|retrieval)")

	return cmd
}

func runTrace(opts *RootOptions, executionID, latest string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	var trace *lineage.Trace
	if executionID != "" {
		trace, err = a.tracer.Trace(cmd.Context(), executionID)
	} else {
		layer, perr := manifest.ParseLayer(latest)
		if perr != nil {
			return WrapExitError(ExitCommandError, "trace", perr)
		}
		trace, err = a.tracer.TraceLatest(cmd.Context(), layer)
	}
	if err != nil {
		if formatter.Format == "json" {
			if jerr := formatter.JSONError("TRACE", err.Error(), nil, nil); jerr != nil {
				return jerr
			}
		} else {
			formatter.Textf("✗ %s", err.Error())
		}
		return WrapExitError(ExitCommandError, "trace", err)
	}

	if formatter.Format == "json" {
		if trace.Verdict == lineage.VerdictValid {
			if jerr := formatter.JSON(trace); jerr != nil {
				return jerr
			}
		} else {
			if jerr := formatter.JSONError("TRACE_FAILED", "lineage is broken", trace, trace.Breaks); jerr != nil {
				return jerr
			}
		}
	} else {
		printTrace(formatter, trace)
	}

	if trace.Verdict != lineage.VerdictValid {
		return NewExitError(ExitFailure, "trace failed")
	}
	return nil
}

func printTrace(formatter *OutputFormatter, trace *lineage.Trace) {
	formatter.Textf("%s", trace.Verdict)
	printNode(formatter, trace.Root, 0)
	for _, b := range trace.Breaks {
		formatter.Textf("break [%s] at %s: %s", b.Code, b.ExecutionID, b.Message)
	}
}

func printNode(formatter *OutputFormatter, node *lineage.Node, depth int) {
	if node == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	formatter.Textf("%s%s %s %s (execution %s, document %s, %s)",
		indent, node.Layer, node.ManifestID, node.Version, node.ExecutionID, node.DocumentID, node.Status)
	if node.Layer == manifest.LayerCuration && node.SourcePath != "" {
		formatter.Textf("%s  source %s", indent, node.SourcePath)
	}
	for _, child := range node.Children {
		printNode(formatter, child, depth+1)
	}
}
