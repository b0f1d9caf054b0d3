package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidVersion(t *testing.T) {
	valid := []string{"0.0.1", "1.0.0", "10.20.30", "2.1.0"}
	for _, v := range valid {
		assert.True(t, ValidVersion(v), "expected %q to be valid", v)
	}

	invalid := []string{"", "1", "1.0", "1.0.0.0", "v1.0.0", "1.0.0-rc1", "01.0.0", "1.0.a", "+1.0.0"}
	for _, v := range invalid {
		assert.False(t, ValidVersion(v), "expected %q to be invalid", v)
	}
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, CompareVersions("1.0.0", "1.0.0"))
	assert.Equal(t, -1, CompareVersions("1.0.0", "1.0.1"))
	assert.Equal(t, 1, CompareVersions("2.0.0", "1.9.9"))

	// Numeric, not lexicographic: 1.10.0 > 1.9.0
	assert.Equal(t, 1, CompareVersions("1.10.0", "1.9.0"))
}

func TestSchemaMajorOf(t *testing.T) {
	major, err := SchemaMajorOf("2.0.0")
	assert.NoError(t, err)
	assert.Equal(t, 2, major)

	major, err = SchemaMajorOf("1.4.2")
	assert.NoError(t, err)
	assert.Equal(t, 1, major)

	_, err = SchemaMajorOf("x.0.0")
	assert.Error(t, err)
}
