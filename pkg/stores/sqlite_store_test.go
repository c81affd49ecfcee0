package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscaffold/openscaffold/pkg/engine"
	"github.com/openscaffold/openscaffold/pkg/manifest"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "scaffold.db")})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:         "run-1",
		PluginID:   "python-core",
		TargetRoot: "/tmp/project",
		Status:     RunStatusRunning,
		StartedAt:  time.Now(),
	}
	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "python-core", got.PluginID)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, store.FinishRun(ctx, "run-1", RunStatusSucceeded, nil))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusSucceeded, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestSQLiteStore_FinishUnknownRun(t *testing.T) {
	store := newTestStore(t)

	err := store.FinishRun(context.Background(), "missing", RunStatusFailed, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_RecordAndListNodes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, &Run{
		ID:         "run-1",
		PluginID:   "stack",
		TargetRoot: "/tmp/project",
		Status:     RunStatusRunning,
		StartedAt:  time.Now(),
	}))

	results := []*engine.NodeResult{
		{
			NodeID:      "node-a",
			PluginID:    "editorconfig",
			Fingerprint: "abc123",
			Status:      engine.NodeStatusApplied,
			Artifacts: []engine.ArtifactResult{
				{Path: ".editorconfig", Strategy: manifest.MergeOverwrite, Action: engine.ArtifactCreated},
			},
			Duration: 12 * time.Millisecond,
		},
		{
			NodeID:      "node-b",
			PluginID:    "linting",
			Fingerprint: "def456",
			Status:      engine.NodeStatusSkipped,
			SkipReason:  engine.SkipAlreadyApplied,
		},
	}
	for _, r := range results {
		require.NoError(t, store.RecordNode(ctx, "run-1", r))
	}

	records, err := store.ListNodesByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "editorconfig", records[0].PluginID)
	assert.Equal(t, string(engine.NodeStatusApplied), records[0].Status)
	assert.Contains(t, records[0].Artifacts, ".editorconfig")
	assert.Equal(t, 12*time.Millisecond, records[0].Duration)

	assert.Equal(t, string(engine.SkipAlreadyApplied), records[1].SkipReason)
}

func TestSQLiteStore_WasApplied(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, &Run{
		ID:         "run-1",
		PluginID:   "gitignore",
		TargetRoot: "/tmp/project",
		Status:     RunStatusSucceeded,
		StartedAt:  time.Now(),
	}))
	require.NoError(t, store.RecordNode(ctx, "run-1", &engine.NodeResult{
		NodeID:      "node-a",
		PluginID:    "gitignore",
		Fingerprint: "abc123",
		Status:      engine.NodeStatusApplied,
	}))

	applied, err := store.WasApplied(ctx, "gitignore", "abc123", "/tmp/project")
	require.NoError(t, err)
	assert.True(t, applied)

	// Different parameters are a different invocation.
	applied, err = store.WasApplied(ctx, "gitignore", "other", "/tmp/project")
	require.NoError(t, err)
	assert.False(t, applied)

	// Different target root does not count.
	applied, err = store.WasApplied(ctx, "gitignore", "abc123", "/tmp/elsewhere")
	require.NoError(t, err)
	assert.False(t, applied)

	// Failed nodes do not count as applied.
	require.NoError(t, store.RecordNode(ctx, "run-1", &engine.NodeResult{
		NodeID:      "node-b",
		PluginID:    "docker",
		Fingerprint: "xyz",
		Status:      engine.NodeStatusFailed,
	}))
	applied, err = store.WasApplied(ctx, "docker", "xyz", "/tmp/project")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSQLiteStore_ListRunsFiltersByTarget(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, root := range []string{"/a", "/a", "/b"} {
		require.NoError(t, store.CreateRun(ctx, &Run{
			ID:         string(rune('1' + i)),
			PluginID:   "app",
			TargetRoot: root,
			Status:     RunStatusSucceeded,
			StartedAt:  time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	runs, err := store.ListRuns(ctx, "/a", 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	all, err := store.ListRuns(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
