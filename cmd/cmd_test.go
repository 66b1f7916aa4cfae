package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/targets"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf("targets:\n  type: sqlite\n  conf:\n    path: %q\nlogging:\n  backend: jsonl\n  path: %q\n",
		filepath.Join(dir, "targets.db"), filepath.Join(dir, "assignments.log"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTargetsCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "", "-c", cfg, "targets", "set", "d1", "--deliveries", "10", "--revenue", "200")
	require.NoError(t, err)
	var dt model.DriverTarget
	require.NoError(t, json.Unmarshal([]byte(out), &dt))
	assert.Equal(t, 10, dt.TargetDeliveries)

	out, err = execute(t, "", "-c", cfg, "targets", "show", "d1")
	require.NoError(t, err)
	var p targets.Progress
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "d1", p.DriverID)
	assert.InDelta(t, 200.0, p.Target.TargetRevenue, 1e-9)

	out, err = execute(t, "", "-c", cfg, "targets", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "reset 1 drivers")
}

func TestOptimizeAndLogsCommands(t *testing.T) {
	cfg := writeConfig(t)
	req := `{
  "vehicles": [{"id": "v1", "location": {"lat": 48.857, "lng": 2.353}, "capacity": 20}],
  "pickupPoints": [{"id": "p1", "location": {"lat": 48.8566, "lng": 2.3522}}],
  "deliveryPoints": [{"id": "o1", "location": {"lat": 48.86, "lng": 2.36}, "load": 5,
    "createdAt": "2026-10-14T09:00:00Z", "slaHours": 4, "pickupId": "p1"}],
  "preferences": {"startTime": "2026-10-14T09:00:00Z"}
}`
	out, err := execute(t, req, "-c", cfg, "optimize")
	require.NoError(t, err)
	var resp model.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Routes, 1)
	assert.Empty(t, resp.Unassigned)

	// one-off runs are not logged
	out, err = execute(t, "", "-c", cfg, "logs")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestOptimizeRejectsBadInput(t *testing.T) {
	_, err := execute(t, "{", "-c", writeConfig(t), "optimize")
	assert.Error(t, err)
}
