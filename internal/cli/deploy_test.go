package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployThenRedeployIsIdempotent(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeManifest(t, "curation.yaml", curationYAML)

	out, err := env.run(t, "deploy", path)
	require.NoError(t, err)
	assert.Contains(t, out, "deployed bls_employment_stats 1.0.0")

	out, err = env.run(t, "deploy", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already deployed")
}

func TestDeployConflictingContentRejected(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeManifest(t, "curation.yaml", curationYAML)

	_, err := env.run(t, "deploy", path)
	require.NoError(t, err)

	changed := strings.Replace(curationYAML, `engineVersion: "1.0.0"`, `engineVersion: "2.0.0"`, 1)
	conflicting := env.writeManifest(t, "conflicting.yaml", changed)

	out, err := env.run(t, "deploy", conflicting)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗")

	// The stored version is untouched.
	out, err = env.run(t, "deploy", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already deployed")
}

func TestDeployRejectsInvalidManifest(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeManifest(t, "broken.yaml", brokenYAML)

	_, err := env.run(t, "deploy", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestDeployJSONEnvelopeCarriesResult(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeManifest(t, "curation.yaml", curationYAML)

	out, err := env.run(t, "--format", "json", "deploy", path)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "bls_employment_stats", data["manifestId"])
	assert.Equal(t, "DEPLOYED", data["status"])
}

func TestListManifestsShowsDeployment(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeManifest(t, "curation.yaml", curationYAML)

	_, err := env.run(t, "deploy", path)
	require.NoError(t, err)

	out, err := env.run(t, "list", "manifests")
	require.NoError(t, err)
	assert.Contains(t, out, "bls_employment_stats")
	assert.Contains(t, out, "1.0.0")
}
