package cli

import (
	"github.com/spf13/cobra"

	"github.com/quarry-data/quarry/internal/evidence"
	"github.com/quarry-data/quarry/internal/manifest"
)

// NewListCommand creates the list command group.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List platform state",
	}

	cmd.AddCommand(newListManifestsCommand(rootOpts))
	cmd.AddCommand(newListExecutionsCommand(rootOpts))
	cmd.AddCommand(newListSchemasCommand(rootOpts))
	cmd.AddCommand(newListComponentsCommand(rootOpts))

	return cmd
}

func newListManifestsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "manifests",
		Short:         "List deployed manifests with version counts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			manifests, err := a.store.ListManifests(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "list manifests", err)
			}

			if formatter.Format == "json" {
				return formatter.JSON(manifests)
			}
			if len(manifests) == 0 {
				formatter.Textf("no manifests deployed")
				return nil
			}
			for _, m := range manifests {
				formatter.Textf("%-12s %-30s latest %-8s (%d versions)", m.Layer, m.ManifestID, m.Latest, m.Versions)
			}
			return nil
		},
	}
}

func newListExecutionsCommand(rootOpts *RootOptions) *cobra.Command {
	var layer string

	cmd := &cobra.Command{
		Use:           "executions [manifest-id]",
		Short:         "List evidence records for a manifest or layer",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			if len(args) == 0 && layer == "" {
				return NewExitError(ExitCommandError, "a manifest id or --layer is required")
			}

			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := listRecords(cmd, a, args, layer)
			if err != nil {
				return WrapExitError(ExitCommandError, "list executions", err)
			}

			if formatter.Format == "json" {
				return formatter.JSON(records)
			}
			if len(records) == 0 {
				formatter.Textf("no executions recorded")
				return nil
			}
			for _, rec := range records {
				formatter.Textf("%-28s %-12s %s %s %s", rec.RecordID, rec.Status, rec.ManifestID, rec.Version, rec.CreatedAt)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "list a whole layer instead of one manifest")

	return cmd
}

func newListSchemasCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "schemas",
		Short:         "List onboarded schema versions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			schemas, err := a.store.ListSchemas(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "list schemas", err)
			}

			if formatter.Format == "json" {
				return formatter.JSON(schemas)
			}
			if len(schemas) == 0 {
				formatter.Textf("no schemas onboarded")
				return nil
			}
			for _, s := range schemas {
				formatter.Textf("%-12s major %d  %s", s.Layer, s.Major, s.Hash)
			}
			return nil
		},
	}
}

func newListComponentsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "components",
		Short:         "List onboarded component versions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			components, err := a.store.ListComponents(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "list components", err)
			}

			if formatter.Format == "json" {
				return formatter.JSON(components)
			}
			if len(components) == 0 {
				formatter.Textf("no components onboarded")
				return nil
			}
			for _, c := range components {
				formatter.Textf("%-8s %-12s %-20s %-8s %s", c.Engine, c.Layer, c.Name, c.Version, c.InterfaceID)
			}
			return nil
		},
	}
}

// listRecords resolves the executions listing target: one manifest id
// or a whole layer.
func listRecords(cmd *cobra.Command, a *app, args []string, layer string) ([]evidence.Record, error) {
	if len(args) > 0 {
		return a.recorder.ListForManifest(cmd.Context(), args[0])
	}
	l, err := manifest.ParseLayer(layer)
	if err != nil {
		return nil, err
	}
	return a.recorder.ListForLayer(cmd.Context(), l)
}
