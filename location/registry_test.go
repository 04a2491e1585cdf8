package location_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RayPlante/scifio/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliasMapping(t *testing.T) {
	r := location.NewRegistry()
	assert.Equal(t, "foo.tif", r.GetMappedID("foo.tif"))
	r.MapAlias("foo.tif", "/data/bar.tif")
	assert.Equal(t, "/data/bar.tif", r.GetMappedID("foo.tif"))
}

func TestListLocalDirectoryExcludesHidden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tif"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	r := location.NewRegistry()
	names, err := r.List(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tif"}, names)

	names, err = r.List(dir, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.tif", ".hidden"}, names)
}

func TestListingIsCached(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tif"), []byte("x"), 0o644))

	r := location.NewRegistry()
	first, err := r.List(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.tif"), []byte("x"), 0o644))
	second, err := r.List(dir, false)
	require.NoError(t, err)
	assert.Equal(t, first, second, "cached listing should not see the new file until invalidated")

	r.Invalidate(dir)
	third, err := r.List(dir, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.tif", "b.tif"}, third)
}

func TestLocationEquality(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.tif")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))

	l1, err := location.Resolve(f)
	require.NoError(t, err)
	l2, err := location.Resolve(f)
	require.NoError(t, err)
	assert.True(t, l1.Equal(l2))
}
