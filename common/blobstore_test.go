package common

import (
	"io/ioutil"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockBlobStoreRoundTrip(t *testing.T) {
	store := NewMockBlobStore()

	artifact := `{"name": "m", "columns": ["a"], "coefficients": {"a": 1}, "intercept": 0}`
	require.NoError(t, store.Put("model/m/1", strings.NewReader(artifact), int64(len(artifact))))

	reader, err := store.Get("model/m/1")
	require.NoError(t, err)
	defer reader.Close()

	raw, err := ioutil.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, artifact, string(raw))
}

func TestMockBlobStoreMissingKey(t *testing.T) {
	_, err := NewMockBlobStore().Get("model/nothing/1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No artifact under key")
}

func TestLocalBlobStoreRoundTrip(t *testing.T) {
	store, err := NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	artifact := `{"name": "m", "columns": ["a"], "coefficients": {"a": 1}, "intercept": 0}`
	require.NoError(t, store.Put("model/m/1", strings.NewReader(artifact), int64(len(artifact))))

	reader, err := store.Get("model/m/1")
	require.NoError(t, err)
	defer reader.Close()

	raw, err := ioutil.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, artifact, string(raw))
}

func TestLocalBlobStoreMissingKey(t *testing.T) {
	store, err := NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("model/nothing/1")
	assert.Error(t, err)
}
