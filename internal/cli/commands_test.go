package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pathsync/internal/hierarchy"
	"github.com/roach88/pathsync/internal/node"
	"github.com/roach88/pathsync/internal/store"
	"github.com/roach88/pathsync/internal/testutil"
)

// seedDB creates a SQLite database holding nodes and returns its path.
func seedDB(t *testing.T, nodes ...node.Node) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	testutil.Seed(t, st, nodes...)
	return path
}

var nd = testutil.Node

// driftedTree has one drifted node (2) and two nodes (5, 6) whose parents
// point at each other while their stored paths still claim root 1.
func driftedTree() []node.Node {
	return []node.Node{
		nd(1, 0, 1),
		nd(2, 1, 1),
		nd(3, 1, 1, 3),
		nd(5, 6, 1, 5),
		nd(6, 5, 1, 5, 6),
	}
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func decodeData(t *testing.T, output string, into any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp), output)
	require.Equal(t, "ok", resp.Status, output)
	require.NoError(t, json.Unmarshal(resp.Data, into))
}

func decodeError(t *testing.T, output string) *CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp), output)
	require.Equal(t, "error", resp.Status, output)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestCheck_Consistent(t *testing.T) {
	db := seedDB(t, nd(1, 0, 1), nd(2, 1, 1, 2))

	out, err := execute(NewCheckCommand(&RootOptions{Format: "text"}), "--db", db, "1")
	require.NoError(t, err)
	assert.Equal(t, "✓ root 1: all paths consistent\n", out)
}

func TestCheck_JSONGolden(t *testing.T) {
	db := seedDB(t, driftedTree()...)

	out, err := execute(NewCheckCommand(&RootOptions{Format: "json"}), "--db", db, "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	newGoldie(t).Assert(t, "check_json", []byte(out))
}

func TestCheck_TextGolden(t *testing.T) {
	db := seedDB(t, driftedTree()...)

	out, err := execute(NewCheckCommand(&RootOptions{Format: "text"}), "--db", db, "1")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	newGoldie(t).Assert(t, "check_text", []byte(out))
}

func TestCheck_Errors(t *testing.T) {
	db := seedDB(t, nd(1, 0, 1), nd(2, 1, 1, 2))

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unknown root", []string{"--db", db, "9"}, string(hierarchy.CodeRootNotFound)},
		{"not a root", []string{"--db", db, "2"}, string(hierarchy.CodeInvalidRoot)},
		{"bad id", []string{"--db", db, "abc"}, ErrCodeCommand},
		{"missing db", []string{"1"}, ErrCodeCommand},
		{"bad driver", []string{"--db", db, "--driver", "mysql", "1"}, ErrCodeCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(NewCheckCommand(&RootOptions{Format: "json"}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Equal(t, tt.code, decodeError(t, out).Code)
		})
	}
}

func TestRootOf(t *testing.T) {
	db := seedDB(t, nd(1, 0), nd(2, 1), nd(4, 2))

	out, err := execute(NewRootOfCommand(&RootOptions{Format: "text"}), "--db", db, "4")
	require.NoError(t, err)
	assert.Equal(t, "node 4: root 1\n", out)

	out, err = execute(NewRootOfCommand(&RootOptions{Format: "json"}), "--db", db, "4")
	require.NoError(t, err)
	var report RootOfReport
	decodeData(t, out, &report)
	assert.Equal(t, RootOfReport{Node: 4, Root: 1, Path: node.Path{1}}, report)
}

func TestRootOf_CyclicParents(t *testing.T) {
	db := seedDB(t, nd(1, 0), nd(5, 6), nd(6, 5))

	out, err := execute(NewRootOfCommand(&RootOptions{Format: "json"}), "--db", db, "--max-depth", "20", "5")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, string(hierarchy.CodeRootNotFound), decodeError(t, out).Code)
}

func TestSync_RepairsThenIdempotent(t *testing.T) {
	db := seedDB(t, driftedTree()...)
	rootOpts := &RootOptions{Format: "json", RunIDs: hierarchy.NewFixedGenerator("run-1", "run-2")}

	out, err := execute(NewSyncCommand(rootOpts), "--db", db, "1")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "sync_json", []byte(out))

	out, err = execute(NewSyncCommand(rootOpts), "--db", db, "1")
	require.NoError(t, err)
	var report SyncReport
	decodeData(t, out, &report)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "run-2", report.Results[0].RunID)
	assert.Zero(t, report.Updated)

	// Detached nodes are still reported after repair.
	out, err = execute(NewCheckCommand(&RootOptions{Format: "json"}), "--db", db, "1")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var check CheckReport
	decodeData(t, out, &check)
	require.Len(t, check.Mismatches, 2)
	assert.Equal(t, hierarchy.ReasonDetached, check.Mismatches[0].Reason)
}

func TestSync_All(t *testing.T) {
	db := seedDB(t,
		nd(1, 0, 1), nd(2, 1), nd(3, 2),
		nd(10, 0, 10), nd(11, 10, 10, 11),
		nd(20, 0, 7), nd(21, 20),
	)
	rootOpts := &RootOptions{Format: "json", RunIDs: testutil.NewConstantRunIDs("run-all")}

	out, err := execute(NewSyncCommand(rootOpts), "--db", db, "--all", "--concurrency", "2")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "sync_all_json", []byte(out))

	var report SyncReport
	decodeData(t, out, &report)
	require.Len(t, report.Results, 3)
	assert.Equal(t, node.ID(1), report.Results[0].Root)
	assert.Equal(t, int64(2), report.Results[0].Updated)
	assert.Equal(t, int64(0), report.Results[1].Updated)
	assert.Equal(t, int64(2), report.Results[2].Updated)
	assert.Equal(t, int64(4), report.Updated)
	assert.Zero(t, report.Failed)
}

func TestSync_TextOutput(t *testing.T) {
	db := seedDB(t, nd(1, 0, 1), nd(2, 1))

	out, err := execute(NewSyncCommand(&RootOptions{Format: "text"}), "--db", db, "1")
	require.NoError(t, err)
	assert.Equal(t, "✓ root 1: updated 1 of 2 node(s)\n", out)
}

func TestSync_ArgumentErrors(t *testing.T) {
	db := seedDB(t, nd(1, 0, 1))

	for name, args := range map[string][]string{
		"neither ids nor all": {"--db", db},
		"both ids and all":    {"--db", db, "--all", "1"},
		"zero concurrency":    {"--db", db, "--concurrency", "0", "1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := execute(NewSyncCommand(&RootOptions{Format: "json"}), args...)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestSync_UnknownRootIsReported(t *testing.T) {
	db := seedDB(t, nd(1, 0, 1), nd(2, 1))

	out, err := execute(NewSyncCommand(&RootOptions{Format: "json"}), "--db", db, "1", "9")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var report SyncReport
	decodeData(t, out, &report)
	require.Len(t, report.Results, 2)
	assert.Equal(t, int64(1), report.Results[0].Updated)
	assert.Equal(t, string(hierarchy.CodeRootNotFound), report.Results[1].Code)
	assert.Equal(t, 1, report.Failed)
}

func TestSync_LockTimeoutRetriesAndCounts(t *testing.T) {
	db := seedDB(t, nd(1, 0, 1), nd(2, 1))
	ctx := context.Background()

	holder, err := store.Open(db)
	require.NoError(t, err)
	defer holder.Close()
	tx, err := holder.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	require.NoError(t, tx.LockRoot(ctx, 1, time.Second))

	metricsFile := filepath.Join(t.TempDir(), "pathsync.prom")
	cmd := NewSyncCommand(&RootOptions{Format: "json"})
	out, err := execute(cmd, "--db", db, "1",
		"--lock-timeout", "20ms",
		"--retries", "2",
		"--metrics-file", metricsFile,
	)
	require.Error(t, err)
	assert.Equal(t, ExitLockContention, GetExitCode(err))

	var report SyncReport
	decodeData(t, out, &report)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 3, report.Results[0].Attempts)
	assert.Equal(t, string(hierarchy.CodeRepairTimedOut), report.Results[0].Code)

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `pathsync_db_lock_timeout_total{source="Hierarchy.Synchronize"} 3`)
}

func TestSeed(t *testing.T) {
	dir := t.TempDir()
	fixturePath := filepath.Join(dir, "tree.yaml")
	require.NoError(t, os.WriteFile(fixturePath, []byte(`
name: small
nodes:
  - {id: 1}
  - {id: 2, parent: 1}
  - {id: 3, parent: 2, path: [1, 2, 3]}
`), 0o644))
	db := filepath.Join(dir, "tree.db")

	out, err := execute(NewSeedCommand(&RootOptions{Format: "text"}), "--db", db, fixturePath)
	require.NoError(t, err)
	assert.Equal(t, "✓ Seeded 3 node(s) from small\n", out)

	out, err = execute(NewCheckCommand(&RootOptions{Format: "json"}), "--db", db, "1")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var check CheckReport
	decodeData(t, out, &check)
	require.Len(t, check.Mismatches, 1)
	assert.Equal(t, node.ID(2), check.Mismatches[0].ID)
}

func TestSeed_BadFixture(t *testing.T) {
	fixturePath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(fixturePath, []byte("name: x\nnodes: []\n"), 0o644))

	_, err := execute(NewSeedCommand(&RootOptions{Format: "json"}), "--db", filepath.Join(t.TempDir(), "x.db"), fixturePath)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFile(t *testing.T) {
	db := seedDB(t, nd(1, 0, 1), nd(2, 1, 1, 2))
	other := seedDB(t, nd(1, 0, 1), nd(2, 1))

	cfgPath := filepath.Join(t.TempDir(), "pathsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("db: "+db+"\nmax_depth: 5\n"), 0o644))

	// The file supplies --db.
	_, err := execute(NewCheckCommand(&RootOptions{Format: "json", ConfigPath: cfgPath}), "1")
	require.NoError(t, err)

	// An explicit flag wins over the file.
	_, err = execute(NewCheckCommand(&RootOptions{Format: "json", ConfigPath: cfgPath}), "--db", other, "1")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestConfigFile_Invalid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "pathsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("driver: oracle\n"), 0o644))

	out, err := execute(NewCheckCommand(&RootOptions{Format: "json", ConfigPath: cfgPath}), "1")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, decodeError(t, out).Message, "driver")
}
