package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileIsEmpty(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "devices.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.IsAuthorized("anything"))
}

func TestRegisterAuthorizesKey(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "devices.json"))
	require.NoError(t, err)

	require.NoError(t, r.Register("key-a", "laptop"))
	assert.True(t, r.IsAuthorized("key-a"))
	assert.False(t, r.IsAuthorized("key-b"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "devices.json")

	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Register("key-a", "laptop"))
	require.NoError(t, r.Register("key-b", ""))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	assert.True(t, reopened.IsAuthorized("key-a"))
	assert.True(t, reopened.IsAuthorized("key-b"))
}

func TestReRegisterUpdatesLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	r, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, r.Register("key-a", "old"))
	require.NoError(t, r.Register("key-a", "new"))
	assert.Equal(t, 1, r.Len())

	reopened, err := Open(path)
	require.NoError(t, err)
	reopened.mu.Lock()
	rec := reopened.records["key-a"]
	reopened.mu.Unlock()
	assert.Equal(t, "new", rec.Label)
	assert.False(t, rec.RegisteredAt.IsZero())
}

func TestUpdateLastSeenUnknownKeyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	r, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, r.UpdateLastSeen("ghost"))
	assert.Equal(t, 0, r.Len())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "a no-op must not create the store file")
}

func TestOpenRejectsCorruptStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := Open(path)
	assert.Error(t, err)
}
