package webfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleMemoizes(t *testing.T) {
	f1, err := Simple("https://example.com/data.bin")
	require.NoError(t, err)
	defer f1.Close()

	f2, err := Simple("https://example.com/data.bin")
	require.NoError(t, err)
	assert.Same(t, f1, f2)

	other, err := Simple("https://example.com/other.bin")
	require.NoError(t, err)
	defer other.Close()
	assert.NotSame(t, f1, other)
}

func TestSimpleCloseForgets(t *testing.T) {
	f1, err := Simple("https://example.com/forget.bin")
	require.NoError(t, err)
	require.NoError(t, f1.Close())

	f2, err := Simple("https://example.com/forget.bin")
	require.NoError(t, err)
	defer f2.Close()
	assert.NotSame(t, f1, f2)
}

func TestSimpleDeterministicPath(t *testing.T) {
	f1, err := Simple("https://example.com/stable.bin")
	require.NoError(t, err)
	path := f1.Path()
	require.NoError(t, f1.Close())

	f2, err := Simple("https://example.com/stable.bin")
	require.NoError(t, err)
	defer f2.Close()
	assert.Equal(t, path, f2.Path())
}
