package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"podium/internal/task"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	return m
}

func TestCreateListDelete(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Create("web-app"))
	require.ErrorContains(t, m.Create("web-app"), "already exists")
	require.Error(t, m.Create("../escape"))
	require.Error(t, m.Create("bad name"))

	require.NoError(t, m.Create("api"))
	names, err := m.List()
	require.NoError(t, err)
	require.Equal(t, []string{"api", "web-app"}, names)

	require.NoError(t, m.Delete("api"))
	require.ErrorContains(t, m.Delete("api"), "not found")
}

func TestWriteReadRemoveFile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create("ws"))

	require.NoError(t, m.WriteFile("ws", "src/app/main.py", "print('hi')"))
	content, err := m.ReadFile("ws", "src/app/main.py")
	require.NoError(t, err)
	require.Equal(t, "print('hi')", content)

	require.Error(t, m.WriteFile("ws", "../outside.txt", "nope"))
	require.Error(t, m.WriteFile("ws", "/etc/passwd", "nope"))

	require.NoError(t, m.RemoveFile("ws", "src/app/main.py"))

	// Empty parent dirs are pruned up to the workspace root.
	dir, err := m.Path("ws")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "src"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(dir)
	require.NoError(t, err)
}

func TestPurgeFiles(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create("ws"))
	require.NoError(t, m.WriteFile("ws", "a.txt", "a"))
	require.NoError(t, m.WriteFile("ws", "nested/b.txt", "b"))
	require.NoError(t, m.WriteFile("ws", "nested/keep.txt", "keep"))

	removed := m.PurgeFiles("ws", []string{"a.txt", "nested/b.txt", "missing.txt"})
	require.Equal(t, []string{"a.txt", "nested/b.txt"}, removed)

	files, err := m.Files("ws")
	require.NoError(t, err)
	require.Equal(t, []string{"nested/keep.txt"}, files)
}

func TestSnapshotInlinesTruncatedTextContent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create("ws"))
	require.NoError(t, m.WriteFile("ws", "short.md", "# readme"))
	require.NoError(t, m.WriteFile("ws", "long.py", strings.Repeat("x", snapshotTruncateAt+500)))
	require.NoError(t, m.WriteFile("ws", "image.png", "binarybinary"))

	snap, err := m.Take("ws")
	require.NoError(t, err)
	require.Len(t, snap.Files, 3)
	require.True(t, snap.Contains("short.md"))

	byPath := map[string]FileSnapshot{}
	for _, f := range snap.Files {
		byPath[f.Path] = f
	}
	require.Equal(t, "# readme", byPath["short.md"].Content)
	require.Len(t, byPath["long.py"].Content, snapshotTruncateAt)
	require.True(t, byPath["long.py"].Truncated)
	require.Empty(t, byPath["image.png"].Content)
}

func TestSnapshotCacheServesUnchangedFiles(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create("ws"))
	require.NoError(t, m.WriteFile("ws", "a.txt", "one"))

	snap1, err := m.Take("ws")
	require.NoError(t, err)
	require.Equal(t, "one", snap1.Files[0].Content)

	snap2, err := m.Take("ws")
	require.NoError(t, err)
	require.Equal(t, "one", snap2.Files[0].Content)
}

func TestEvaluatePlanAndFirstIncomplete(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create("ws"))
	require.NoError(t, m.WriteFile("ws", "schema.sql", "create table t(x int);"))
	require.NoError(t, m.WriteFile("ws", "api/server.py", "app"))

	plan := &task.Plan{Phases: []task.Phase{
		{ID: "p1", Name: "schema", ExpectedFiles: []string{"schema.sql"}},
		{ID: "p2", Name: "api", ExpectedFiles: []string{"api/server.py", "api/routes.py"}},
		{ID: "p3", Name: "ui", ExpectedFiles: []string{"ui/index.html"}},
	}}

	snap, err := m.Take("ws")
	require.NoError(t, err)

	statuses := EvaluatePlan(plan, snap)
	require.Len(t, statuses, 3)
	require.True(t, statuses[0].Complete)
	require.False(t, statuses[1].Complete)
	require.Equal(t, []string{"api/routes.py"}, statuses[1].MissingFiles)
	require.False(t, statuses[2].Complete)

	first := FirstIncomplete(statuses)
	require.NotNil(t, first)
	require.Equal(t, "p2", first.Phase.ID)

	require.Nil(t, FirstIncomplete(EvaluatePlan(nil, snap)))
}
