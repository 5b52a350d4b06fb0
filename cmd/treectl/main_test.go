package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workspace struct {
	t   *testing.T
	env map[string]string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	return &workspace{t: t, env: map[string]string{
		"TRIAGETREE_STORAGE_DRIVER": "sqlite",
		"TRIAGETREE_SQLITE_PATH":    filepath.Join(dir, "tree.db"),
		"TRIAGETREE_BLOB_DRIVER":    "fs",
		"TRIAGETREE_BLOB_FS_ROOT":   filepath.Join(dir, "blobs"),
		"TRIAGETREE_LOG_LEVEL":      "error",
	}}
}

func (w *workspace) lookup(key string) (string, bool) {
	v, ok := w.env[key]
	return v, ok
}

func (w *workspace) run(args ...string) (int, string, string) {
	w.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr, w.lookup)
	return code, stdout.String(), stderr.String()
}

// ok runs a command that must succeed and decodes its JSON output into out.
func (w *workspace) ok(out any, args ...string) {
	w.t.Helper()
	code, stdout, stderr := w.run(args...)
	require.Equal(w.t, 0, code, "args %v: %s", args, stderr)
	if out != nil {
		require.NoError(w.t, json.Unmarshal([]byte(stdout), out), stdout)
	}
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func TestTreeLifecyclePersistsAcrossInvocations(t *testing.T) {
	w := newWorkspace(t)

	var root struct{ ID int64 }
	w.ok(&root, "create-root", "Cough")
	require.Positive(t, root.ID)

	var again struct{ ID int64 }
	w.ok(&again, "create-root", "Cough")
	assert.Equal(t, root.ID, again.ID)

	var child struct {
		ID      int64
		Created bool
	}
	w.ok(&child, "add-child", id(root.ID), "Dry")
	assert.True(t, child.Created)

	var slot struct {
		Action string
		NodeID int64 `json:"node_id"`
	}
	w.ok(&slot, "put-slot", id(root.ID), "3", "Wet")
	assert.NotZero(t, slot.NodeID)

	var children []struct {
		Label string
		Slot  *int
		Depth int
	}
	w.ok(&children, "children", id(root.ID))
	require.Len(t, children, 2)
	assert.Equal(t, "Dry", children[0].Label)
	assert.Equal(t, 1, children[0].Depth)
	require.NotNil(t, children[1].Slot)
	assert.Equal(t, 3, *children[1].Slot)

	var free struct {
		Slot      int
		Available bool
	}
	w.ok(&free, "free-slot", id(root.ID))
	assert.Equal(t, 2, free.Slot)
	assert.True(t, free.Available)

	var version struct {
		Version int
		ETag    string
		Found   bool
	}
	w.ok(&version, "version", id(root.ID))
	assert.True(t, version.Found)
	assert.Equal(t, 2, version.Version)
	assert.NotEmpty(t, version.ETag)

	var check struct{ Match bool }
	w.ok(&check, "check-version", id(root.ID), `"version:2"`)
	assert.True(t, check.Match)
}

func TestOutcomesAndPaths(t *testing.T) {
	w := newWorkspace(t)
	var root struct{ ID int64 }
	w.ok(&root, "create-root", "Fever")
	var leaf struct{ ID int64 }
	w.ok(&leaf, "add-child", id(root.ID), "High")

	var out struct {
		DiagnosticTriage string `json:"diagnostic_triage"`
	}
	w.ok(&out, "outcome", "set", id(leaf.ID), "--triage", "see a doctor", "--actions", "fluids")
	assert.Equal(t, "see a doctor", out.DiagnosticTriage)

	var path struct {
		NodeID  int64 `json:"node_id"`
		Outcome *struct {
			Actions string
		}
	}
	w.ok(&path, "path", "Fever", "High")
	assert.Equal(t, leaf.ID, path.NodeID)
	require.NotNil(t, path.Outcome)
	assert.Equal(t, "fluids", path.Outcome.Actions)

	code, _, stderr := w.run("path", "Fever", "Low")
	assert.Equal(t, 4, code)
	assert.Contains(t, stderr, "error:")
}

func TestConflictsDraftsAndAudit(t *testing.T) {
	w := newWorkspace(t)
	var root struct{ ID int64 }
	w.ok(&root, "create-root", "Rash")

	var draft struct {
		ID     string
		Status string
	}
	w.ok(&draft, "draft", "create", id(root.ID), "--child", "1:Red", "--child", "2:Itchy!")
	require.NotEmpty(t, draft.ID)

	var diff struct {
		Operations []json.RawMessage
	}
	w.ok(&diff, "draft", "diff", draft.ID)
	assert.Len(t, diff.Operations, 2)

	w.ok(nil, "draft", "publish", draft.ID, "--expected", "0")

	var children []struct{ Label string }
	w.ok(&children, "children", id(root.ID))
	assert.Len(t, children, 2)

	var summary map[string]any
	w.ok(&summary, "conflicts", "summary")
	assert.NotEmpty(t, summary)

	var applied struct {
		AuditID int64 `json:"audit_id"`
	}
	w.ok(&applied, "apply-defaults", "Red", "--choose", "A,B,C,D,E")
	require.Positive(t, applied.AuditID)

	var entries []struct {
		ID        int64
		Operation string
	}
	w.ok(&entries, "audit", "list", "--op", "apply-default")
	require.Len(t, entries, 1)
	assert.Equal(t, applied.AuditID, entries[0].ID)

	var undo struct{ Undone bool }
	w.ok(&undo, "audit", "undo", id(applied.AuditID))
	assert.True(t, undo.Undone)
	w.ok(&undo, "audit", "undo", id(applied.AuditID))
	assert.False(t, undo.Undone)
}

func TestExportWritesToBlobStore(t *testing.T) {
	w := newWorkspace(t)
	var root struct{ ID int64 }
	w.ok(&root, "create-root", "Headache")
	w.ok(nil, "add-child", id(root.ID), "Sudden")

	var m struct {
		RunID string `json:"run_id"`
		Paths int
	}
	w.ok(&m, "export", "--actor", "ops")
	require.NotEmpty(t, m.RunID)
	assert.Equal(t, 1, m.Paths)

	var runs []string
	w.ok(&runs, "export", "list")
	assert.Equal(t, []string{m.RunID}, runs)

	var shown struct {
		Manifest struct{ Actor string }
		Paths    []struct{ Labels []string }
	}
	w.ok(&shown, "export", "show", m.RunID, "--paths")
	assert.Equal(t, "ops", shown.Manifest.Actor)
	require.Len(t, shown.Paths, 1)
	assert.Equal(t, []string{"Headache", "Sudden"}, shown.Paths[0].Labels)
}

func TestExitCodes(t *testing.T) {
	w := newWorkspace(t)
	var root struct{ ID int64 }
	w.ok(&root, "create-root", "Cough")

	cases := []struct {
		name string
		args []string
		code int
	}{
		{"bad id", []string{"node", "abc"}, 64},
		{"unknown flag", []string{"roots", "--nope"}, 64},
		{"clear needs confirmation", []string{"clear"}, 64},
		{"bad conditional header", []string{"check-version", id(root.ID), "v?"}, 64},
		{"slot out of range", []string{"put-slot", id(root.ID), "9", "X"}, 2},
		{"version mismatch", []string{"put-slot", id(root.ID), "1", "X", "--expected", "4"}, 3},
		{"missing node", []string{"node", "999"}, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := w.run(tc.args...)
			assert.Equal(t, tc.code, code, stderr)
		})
	}
}

func TestInvalidConfigIsUsageError(t *testing.T) {
	w := newWorkspace(t)
	w.env["TRIAGETREE_STORAGE_DRIVER"] = "oracle"
	code, _, stderr := w.run("roots")
	assert.Equal(t, 64, code)
	assert.Contains(t, stderr, "invalid config")
}

func TestMetricsFlagWritesPrometheusText(t *testing.T) {
	w := newWorkspace(t)
	code, _, stderr := w.run("roots", "--metrics")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "# TYPE")
}

func TestTraceFlagWritesSpans(t *testing.T) {
	w := newWorkspace(t)
	code, _, stderr := w.run("node", "7", "--trace")
	assert.Equal(t, 4, code)
	assert.Contains(t, stderr, `"op":"get_node"`)
	assert.Contains(t, stderr, `"kind":"not_found"`)
}
