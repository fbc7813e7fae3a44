package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/config"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writePolicy(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestPolicyCheck(t *testing.T) {
	t.Run("prints every operation", func(t *testing.T) {
		path := writePolicy(t, "rollout.yaml", `
operations:
  getRecord: on
  createRecord: 25
  closeRecord: forced_legacy
`)
		out, err := execute(t, "policy", "check", path)
		require.NoError(t, err)

		lines := map[string]string{}
		for _, line := range strings.Split(strings.TrimSpace(out), "\n")[1:] {
			fields := strings.Fields(line)
			require.Len(t, fields, 2, line)
			lines[fields[0]] = fields[1]
		}
		assert.Equal(t, map[string]string{
			"getRecord":     "on",
			"searchRecords": "off",
			"createRecord":  "25",
			"updateRecord":  "off",
			"closeRecord":   "forced_legacy",
			"addWorkNote":   "off",
		}, lines)
	})

	t.Run("toml", func(t *testing.T) {
		path := writePolicy(t, "rollout.toml", "[operations]\ngetRecord = \"on\"\n")
		out, err := execute(t, "policy", "check", path)
		require.NoError(t, err)
		assert.Regexp(t, `getRecord\s+on`, out)
	})

	t.Run("unknown operation fails", func(t *testing.T) {
		path := writePolicy(t, "rollout.yaml", "operations:\n  deleteEverything: on\n")
		_, err := execute(t, "policy", "check", path)
		assert.ErrorContains(t, err, "deleteEverything")
	})

	t.Run("invalid state fails", func(t *testing.T) {
		path := writePolicy(t, "rollout.yaml", "operations:\n  getRecord: 250\n")
		_, err := execute(t, "policy", "check", path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "policy", "check", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestPolicyBucket(t *testing.T) {
	path := writePolicy(t, "rollout.yaml", "operations:\n  getRecord: on\n  updateRecord: forced_legacy\n")

	out, err := execute(t, "policy", "bucket", "U024BE7LH", "--policy", path)
	require.NoError(t, err)

	assert.Contains(t, out, "identity U024BE7LH is in bucket ")
	assert.Regexp(t, `getRecord\s+on\s+new`, out)
	assert.Regexp(t, `updateRecord\s+forced_legacy\s+legacy`, out)
	assert.Regexp(t, `searchRecords\s+off\s+legacy`, out)

	first := strings.Split(out, "\n")[0]
	assert.True(t, strings.HasSuffix(first, " "+strconv.Itoa(router.Bucket("U024BE7LH"))), first)
}

func TestInitRollout_DefaultsUnderFile(t *testing.T) {
	path := writePolicy(t, "rollout.yaml", "operations:\n  getRecord: 50\n")
	cfg := config.Defaults().Rollout
	cfg.PolicyFile = path
	cfg.Defaults = map[string]interface{}{"getRecord": "on", "addWorkNote": "on"}

	policy, refresher, err := initRollout(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, refresher)

	assert.Equal(t, "50", policy.Get("getRecord").String())
	assert.Equal(t, "on", policy.Get("addWorkNote").String())
	last, lastErr := refresher.Status()
	assert.NoError(t, lastErr)
	assert.False(t, last.IsZero())
}

func TestInitRollout_BrokenFileStartsOnLegacy(t *testing.T) {
	path := writePolicy(t, "rollout.yaml", "operations: [")
	cfg := config.Defaults().Rollout
	cfg.PolicyFile = path

	policy, _, err := initRollout(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "off", policy.Get("getRecord").String())
}
