package cli

import (
	"github.com/spf13/cobra"

	"github.com/quarry-data/quarry/internal/artifact"
	"github.com/quarry-data/quarry/internal/engine"
	"github.com/quarry-data/quarry/internal/evidence"
	"github.com/quarry-data/quarry/internal/lineage"
	"github.com/quarry-data/quarry/internal/store"
)

// app is the wired platform a command runs against: the store, the
// evidence recorder, the artifact store, the orchestrator with the
// built-in engine registered, and the lineage tracer.
type app struct {
	store     *store.Store
	recorder  *evidence.Recorder
	artifacts *artifact.Store
	orch      *engine.Orchestrator
	tracer    *lineage.Tracer
}

// openApp opens the platform at the paths the global flags point to.
func openApp(opts *RootOptions) (*app, error) {
	s, err := store.Open(opts.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	r := evidence.NewRecorder(s)
	a := artifact.NewStore(opts.DataDir)

	reg := engine.NewRegistry()
	if err := reg.Register(engine.NewNative()); err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "register engine", err)
	}

	return &app{
		store:     s,
		recorder:  r,
		artifacts: a,
		orch:      engine.NewOrchestrator(s, r, a, reg, engine.UUIDv7Generator{}),
		tracer:    lineage.NewTracer(r, a),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newFormatter builds the output formatter for a command invocation.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
