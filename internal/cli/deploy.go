package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/quarry-data/quarry/internal/manifest"
	"github.com/quarry-data/quarry/internal/store"
)

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <manifest-file>",
		Short: "Validate and deploy a manifest version",
		Long: `Validate a manifest and write it to the manifest store.

Deployment is idempotent: redeploying identical content is a recorded
no-op, while different content under an existing version is rejected.
The latest pointer advances only when the new version is the highest
deployed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(rootOpts, args[0], cmd)
		},
	}
}

func runDeploy(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read manifest", err)
	}

	_, doc, err := manifest.Load(data)
	if err != nil {
		verr := manifest.ValidationError{Field: "document", Message: err.Error(), Code: manifest.ErrDocMalformed}
		return outputValidationErrors(formatter, path, []manifest.ValidationError{verr})
	}

	v, err := manifest.NewValidator()
	if err != nil {
		return WrapExitError(ExitCommandError, "compile schemas", err)
	}
	d, verrs := v.Validate(doc)
	if len(verrs) > 0 {
		return outputValidationErrors(formatter, path, verrs)
	}

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.store.Deploy(cmd.Context(), d, doc)
	if err != nil {
		if store.IsConflict(err) {
			if formatter.Format == "json" {
				if jerr := formatter.JSONError("CONFLICT", err.Error(), nil, nil); jerr != nil {
					return jerr
				}
			} else {
				formatter.Textf("✗ %s", err.Error())
			}
			return WrapExitError(ExitFailure, "deploy rejected", err)
		}
		return WrapExitError(ExitCommandError, "deploy", err)
	}

	if formatter.Format == "json" {
		return formatter.JSON(res)
	}

	switch res.Status {
	case store.StatusSkipped:
		formatter.Textf("= %s %s already deployed (content %s)", res.ManifestID, res.Version, res.ContentHash)
	default:
		formatter.Textf("✓ deployed %s %s (content %s, latest %s)", res.ManifestID, res.Version, res.ContentHash, res.Latest)
	}
	return nil
}
