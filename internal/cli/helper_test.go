package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// cliEnv runs commands against one platform (shared db and data dir),
// so multi-command flows like deploy-trigger-trace work in tests.
type cliEnv struct {
	db   string
	data string
	dir  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	return &cliEnv{
		db:   filepath.Join(t.TempDir(), "quarry.db"),
		data: t.TempDir(),
		dir:  t.TempDir(),
	}
}

// run executes one CLI invocation and returns combined output.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--db", e.db, "--data", e.data}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *cliEnv) seedSource(t *testing.T) {
	t.Helper()
	dir := filepath.Join(e.data, "wild", "bls")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "employment_stats.csv"), []byte("state,jobs\nCA,1200\nTX,900\n"), 0o644))
}

const curationYAML = `
manifestId: bls_employment_stats
agency: bls
version: 1.0.0
layer: curation
engine: native
engineVersion: "1.0.0"
source:
  type: file
  path: wild/bls/employment_stats.csv
processing:
  steps:
    - component: csv_parser
      version: "1.0.0"
    - component: fact_writer
      version: "1.0.0"
`

const brokenYAML = `
manifestId: broken
agency: bls
layer: warehouse
engine: native
source:
  type: file
  path: wild/bls/broken.csv
processing:
  steps:
    - component: csv_parser
      version: "1.0.0"
`
