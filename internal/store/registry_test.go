package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-data/quarry/internal/manifest"
)

func TestOnboardSchemaFirstUse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	def, ok := manifest.SchemaDefinition(1)
	require.True(t, ok)

	onboarded, err := s.OnboardSchema(ctx, manifest.LayerCuration, 1, def)
	require.NoError(t, err)
	assert.True(t, onboarded)

	registered, err := s.SchemaOnboarded(ctx, manifest.LayerCuration, 1)
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestOnboardSchemaIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	def, _ := manifest.SchemaDefinition(1)

	_, err := s.OnboardSchema(ctx, manifest.LayerCuration, 1, def)
	require.NoError(t, err)

	onboarded, err := s.OnboardSchema(ctx, manifest.LayerCuration, 1, def)
	require.NoError(t, err)
	assert.False(t, onboarded, "identical re-onboard must no-op")
}

func TestOnboardSchemaConflictingDefinition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.OnboardSchema(ctx, manifest.LayerCuration, 1, "#Manifest: {a: string}")
	require.NoError(t, err)

	_, err = s.OnboardSchema(ctx, manifest.LayerCuration, 1, "#Manifest: {b: int}")
	require.Error(t, err)
	assert.True(t, IsInterfaceConflict(err))

	// A different major at the same layer registers alongside.
	onboarded, err := s.OnboardSchema(ctx, manifest.LayerCuration, 2, "#Manifest: {b: int}")
	require.NoError(t, err)
	assert.True(t, onboarded)
}

func TestOnboardComponentIdempotentAndConflicting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	onboarded, err := s.OnboardComponent(ctx, "native", manifest.LayerCuration, "csv_parser", "1.0.0", "iface-a")
	require.NoError(t, err)
	assert.True(t, onboarded)

	onboarded, err = s.OnboardComponent(ctx, "native", manifest.LayerCuration, "csv_parser", "1.0.0", "iface-a")
	require.NoError(t, err)
	assert.False(t, onboarded)

	_, err = s.OnboardComponent(ctx, "native", manifest.LayerCuration, "csv_parser", "1.0.0", "iface-b")
	require.Error(t, err)
	assert.True(t, IsInterfaceConflict(err))

	// Same name at a new version registers alongside, never replacing.
	onboarded, err = s.OnboardComponent(ctx, "native", manifest.LayerCuration, "csv_parser", "2.0.0", "iface-b")
	require.NoError(t, err)
	assert.True(t, onboarded)
}

func TestListSchemasAndComponents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.OnboardSchema(ctx, manifest.LayerSemantics, 2, "def-b")
	require.NoError(t, err)
	_, err = s.OnboardSchema(ctx, manifest.LayerCuration, 1, "def-a")
	require.NoError(t, err)

	schemas, err := s.ListSchemas(ctx)
	require.NoError(t, err)
	require.Len(t, schemas, 2)
	assert.Equal(t, "curation", schemas[0].Layer)
	assert.Equal(t, "semantics", schemas[1].Layer)

	_, err = s.OnboardComponent(ctx, "native", manifest.LayerCuration, "zeta", "1.0.0", "i1")
	require.NoError(t, err)
	_, err = s.OnboardComponent(ctx, "native", manifest.LayerCuration, "alpha", "1.0.0", "i2")
	require.NoError(t, err)

	comps, err := s.ListComponents(ctx)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "alpha", comps[0].Name)
	assert.Equal(t, "zeta", comps[1].Name)
}

func TestListEmptyRegistriesNotNil(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	schemas, err := s.ListSchemas(ctx)
	require.NoError(t, err)
	assert.NotNil(t, schemas)
	assert.Empty(t, schemas)

	comps, err := s.ListComponents(ctx)
	require.NoError(t, err)
	assert.NotNil(t, comps)
	assert.Empty(t, comps)
}
