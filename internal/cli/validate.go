package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarry-data/quarry/internal/manifest"
)

// ValidationResult holds validation results for one manifest file.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Manifest string                     `json:"manifest,omitempty"`
	Version  string                     `json:"version,omitempty"`
	Layer    string                     `json:"layer,omitempty"`
	Errors   []manifest.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest-file>",
		Short: "Validate a manifest without deploying it",
		Long: `Validate a manifest file against its declared schema version.

Reports every violation found, not just the first. Accepts both YAML
and JSON manifests.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
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

	formatter.VerboseLog("validated %s against schema major %d", path, d.SchemaMajor)

	if formatter.Format == "json" {
		return formatter.JSON(ValidationResult{
			Valid:    true,
			Manifest: d.ID,
			Version:  d.Version,
			Layer:    string(d.Layer),
		})
	}
	formatter.Textf("✓ %s is valid (%s %s, %s layer)", path, d.ID, d.Version, d.Layer)
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, path string, errs []manifest.ValidationError) error {
	if formatter.Format == "json" {
		result := ValidationResult{Valid: false, Errors: errs}
		if err := formatter.JSONError(errs[0].Code, errs[0].Message, result, nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	formatter.Textf("✗ %s failed validation", path)
	formatter.Textf("")
	for _, e := range errs {
		formatter.Textf("  [%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
