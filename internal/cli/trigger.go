package cli

import (
	"github.com/spf13/cobra"

	"github.com/quarry-data/quarry/internal/engine"
	"github.com/quarry-data/quarry/internal/evidence"
)

// NewTriggerCommand creates the trigger command.
func NewTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	var version string
	var replayOf string

	cmd := &cobra.Command{
		Use:   "trigger <manifest-id>",
		Short: "Execute a deployed manifest",
		Long: `Trigger one execution of a deployed manifest.

Resolves the requested version (default: the latest pointer), mints a
fresh execution id, dispatches the manifest's steps to its engine, and
records evidence for the attempt. With --replay-of the manifest
coordinates and document id come from the original execution.

Exit code 1 means the execution was recorded but did not succeed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestID := ""
			if len(args) > 0 {
				manifestID = args[0]
			}
			if manifestID == "" && replayOf == "" {
				return NewExitError(ExitCommandError, "a manifest id or --replay-of is required")
			}
			return runTrigger(rootOpts, engine.TriggerRequest{
				ManifestID: manifestID,
				Version:    version,
				ReplayOf:   replayOf,
			}, cmd)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "manifest version to execute (default: latest)")
	cmd.Flags().StringVar(&replayOf, "replay-of", "", "execution id to replay")

	return cmd
}

func runTrigger(opts *RootOptions, req engine.TriggerRequest, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.orch.Trigger(cmd.Context(), req)
	if rec == nil {
		if err == nil {
			return NewExitError(ExitCommandError, "trigger produced no record")
		}
		if formatter.Format == "json" {
			if jerr := formatter.JSONError("TRIGGER", err.Error(), nil, nil); jerr != nil {
				return jerr
			}
		} else {
			formatter.Textf("✗ %s", err.Error())
		}
		return WrapExitError(ExitCommandError, "trigger", err)
	}

	if formatter.Format == "json" {
		if rec.Status == evidence.StatusSuccess || rec.Status == evidence.StatusQuarantined {
			if jerr := formatter.JSON(rec); jerr != nil {
				return jerr
			}
		} else {
			if jerr := formatter.JSONError(string(rec.Status), rec.Error, rec, nil); jerr != nil {
				return jerr
			}
		}
	} else {
		printRecord(formatter, rec)
	}

	if rec.Status == evidence.StatusFailed {
		return NewExitError(ExitFailure, "execution failed: "+rec.Error)
	}
	return nil
}

func printRecord(formatter *OutputFormatter, rec *evidence.Record) {
	switch rec.Status {
	case evidence.StatusSuccess:
		formatter.Textf("✓ %s %s succeeded", rec.ManifestID, rec.Version)
	case evidence.StatusQuarantined:
		formatter.Textf("! %s %s quarantined: %s", rec.ManifestID, rec.Version, rec.Error)
	default:
		formatter.Textf("✗ %s %s failed: %s", rec.ManifestID, rec.Version, rec.Error)
	}

	formatter.Textf("  execution  %s", rec.ExecutionID)
	formatter.Textf("  record     %s", rec.RecordID)
	if rec.DocumentID != "" {
		formatter.Textf("  document   %s", rec.DocumentID)
	}
	if rec.OutputRef != "" {
		formatter.Textf("  output     %s", rec.OutputRef)
	}
	if rec.ReplayOf != "" {
		formatter.Textf("  replay of  %s", rec.ReplayOf)
	}
	for _, entry := range rec.BOM {
		formatter.Textf("  step %-20s %s %s", entry.Component, entry.Version, entry.Status)
	}
}
