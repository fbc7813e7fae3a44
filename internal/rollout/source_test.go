package rollout

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestFileSource_YAML(t *testing.T) {
	path := writePolicy(t, "rollout.yaml", `operations:
  getRecord: on
  searchRecords: "off"
  updateRecord: 25
  closeRecord: forced_legacy
  record.v2.fetch: 10
`)

	snap, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, snap.Len())
	st, _ := snap.State("getRecord")
	assert.Equal(t, On(), st)
	st, _ = snap.State("searchRecords")
	assert.Equal(t, Off(), st)
	st, _ = snap.State("updateRecord")
	assert.Equal(t, Percentage(25), st)
	st, _ = snap.State("closeRecord")
	assert.Equal(t, ForcedLegacy(), st)
	st, ok := snap.State("record.v2.fetch")
	require.True(t, ok, "dotted operation names must not be split")
	assert.Equal(t, Percentage(10), st)
}

func TestFileSource_JSON(t *testing.T) {
	path := writePolicy(t, "rollout.json", `{"operations": {"getRecord": 50, "addWorkNote": "on"}}`)

	snap, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)

	st, _ := snap.State("getRecord")
	assert.Equal(t, Percentage(50), st)
	st, _ = snap.State("addWorkNote")
	assert.Equal(t, On(), st)
}

func TestFileSource_TOML(t *testing.T) {
	path := writePolicy(t, "rollout.toml", `[operations]
getRecord = "on"
updateRecord = 40
closeRecord = "forced_legacy"
`)

	snap, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)

	st, _ := snap.State("updateRecord")
	assert.Equal(t, Percentage(40), st)
	st, _ = snap.State("closeRecord")
	assert.Equal(t, ForcedLegacy(), st)
}

func TestFileSource_MissingSectionIsEmpty(t *testing.T) {
	path := writePolicy(t, "rollout.yaml", "version: 3\n")

	snap, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
}

func TestFileSource_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("invalid state", func(t *testing.T) {
		path := writePolicy(t, "rollout.yaml", "operations:\n  getRecord: sometimes\n")
		_, err := NewFileSource(path).Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "getRecord")
	})

	t.Run("operations not a mapping", func(t *testing.T) {
		path := writePolicy(t, "rollout.yaml", "operations: on\n")
		_, err := NewFileSource(path).Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a mapping")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writePolicy(t, "rollout.yaml", "operations:\n  - [unclosed\n")
		_, err := NewFileSource(path).Load(context.Background())
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		path := writePolicy(t, "rollout.yaml", "operations:\n  a: on\n")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewFileSource(path).Load(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStaticSource(t *testing.T) {
	src, err := NewStaticSource(map[string]interface{}{"getRecord": "10"})
	require.NoError(t, err)

	snap, err := src.Load(context.Background())
	require.NoError(t, err)
	st, _ := snap.State("getRecord")
	assert.Equal(t, Percentage(10), st)

	_, err = NewStaticSource(map[string]interface{}{"getRecord": "bogus"})
	assert.Error(t, err)
}

func TestLayeredSource(t *testing.T) {
	defaults, err := NewStaticSource(map[string]interface{}{
		"getRecord":    "on",
		"updateRecord": "off",
	})
	require.NoError(t, err)
	path := writePolicy(t, "rollout.yaml", "operations:\n  updateRecord: 20\n")

	snap, err := NewLayeredSource(defaults, NewFileSource(path)).Load(context.Background())
	require.NoError(t, err)

	st, _ := snap.State("getRecord")
	assert.Equal(t, On(), st)
	st, _ = snap.State("updateRecord")
	assert.Equal(t, Percentage(20), st)
}

func TestLayeredSource_FailingLayerFailsLoad(t *testing.T) {
	failing := SourceFunc(func(ctx context.Context) (Snapshot, error) {
		return Snapshot{}, errors.New("config store unreachable")
	})
	defaults, err := NewStaticSource(map[string]interface{}{"a": "on"})
	require.NoError(t, err)

	_, err = NewLayeredSource(defaults, failing).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config store unreachable")
}
