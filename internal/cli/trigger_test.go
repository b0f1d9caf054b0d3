package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerExecutesDeployedManifest(t *testing.T) {
	env := newCLIEnv(t)
	env.seedSource(t)
	path := env.writeManifest(t, "curation.yaml", curationYAML)

	_, err := env.run(t, "deploy", path)
	require.NoError(t, err)

	out, err := env.run(t, "trigger", "bls_employment_stats")
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "step csv_parser")
	assert.Contains(t, out, "step fact_writer")
}

func TestTriggerMissingSourceExitsOne(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeManifest(t, "curation.yaml", curationYAML)

	_, err := env.run(t, "deploy", path)
	require.NoError(t, err)

	out, err := env.run(t, "trigger", "bls_employment_stats")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "failed")
}

func TestTriggerUnknownManifestIsCommandError(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "trigger", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTriggerWithoutArgumentsIsCommandError(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "trigger")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTriggerJSONEnvelopeCarriesRecord(t *testing.T) {
	env := newCLIEnv(t)
	env.seedSource(t)
	path := env.writeManifest(t, "curation.yaml", curationYAML)

	_, err := env.run(t, "deploy", path)
	require.NoError(t, err)

	out, err := env.run(t, "--format", "json", "trigger", "bls_employment_stats")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "SUCCESS", data["status"])
	assert.NotEmpty(t, data["executionId"])
	assert.NotEmpty(t, data["documentId"])
}

func TestListExecutionsShowsRecord(t *testing.T) {
	env := newCLIEnv(t)
	env.seedSource(t)
	path := env.writeManifest(t, "curation.yaml", curationYAML)

	_, err := env.run(t, "deploy", path)
	require.NoError(t, err)
	_, err = env.run(t, "trigger", "bls_employment_stats")
	require.NoError(t, err)

	out, err := env.run(t, "list", "executions", "bls_employment_stats")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "curation-0001-")

	out, err = env.run(t, "list", "executions", "--layer", "curation")
	require.NoError(t, err)
	assert.Contains(t, out, "bls_employment_stats")
}

func TestListComponentsShowsOnboarded(t *testing.T) {
	env := newCLIEnv(t)
	env.seedSource(t)
	path := env.writeManifest(t, "curation.yaml", curationYAML)

	_, err := env.run(t, "deploy", path)
	require.NoError(t, err)
	_, err = env.run(t, "trigger", "bls_employment_stats")
	require.NoError(t, err)

	out, err := env.run(t, "list", "components")
	require.NoError(t, err)
	assert.Contains(t, out, "csv_parser")
	assert.Contains(t, out, "quarry.component.run/v1")

	out, err = env.run(t, "list", "schemas")
	require.NoError(t, err)
	assert.Contains(t, out, "curation")
}
