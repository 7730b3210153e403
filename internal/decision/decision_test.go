package decision

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFencedJSON(t *testing.T) {
	raw := "Here is my plan:\n```json\n{\"analysis\": \"needs a schema\", \"progress_percent\": 40, \"is_complete\": false, \"parallel_tasks\": [{\"task_id\": \"s1\", \"type\": \"create_file\", \"file_path\": \"schema.sql\", \"description\": \"database schema\"}]}\n```\nDone."

	d, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "needs a schema", d.Analysis)
	require.Equal(t, 40, d.ProgressPercent)
	require.Len(t, d.ParallelTasks, 1)
	require.Equal(t, "schema.sql", d.ParallelTasks[0].FilePath)
}

func TestParseBareJSON(t *testing.T) {
	d, err := Parse(`{"analysis": "done", "progress_percent": 100, "is_complete": true, "completion_reason": "all phases finished"}`)
	require.NoError(t, err)
	require.True(t, d.IsComplete)
	require.Equal(t, "all phases finished", d.CompletionReason)
}

func TestParseRepairsTrailingComma(t *testing.T) {
	d, err := Parse(`{"analysis": "ok", "progress_percent": 10, "is_complete": false,}`)
	require.NoError(t, err)
	require.Equal(t, "ok", d.Analysis)
}

func TestParseSurroundingProse(t *testing.T) {
	d, err := Parse(`I think we should proceed. {"analysis": "next step", "progress_percent": 55, "is_complete": false, "next_action": {"type": "create_file", "file_path": "main.py", "description": "entry point"}} Let me know.`)
	require.NoError(t, err)
	require.NotNil(t, d.NextAction)
	require.Equal(t, "main.py", d.NextAction.FilePath)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("I could not decide anything useful this time.")
	require.Error(t, err)
}

func TestParseClampsProgress(t *testing.T) {
	d, err := Parse(`{"analysis": "x", "progress_percent": 240, "is_complete": false}`)
	require.NoError(t, err)
	require.Equal(t, 100, d.ProgressPercent)
}

func TestParseValidatesSubTasks(t *testing.T) {
	_, err := Parse(`{"analysis": "x", "progress_percent": 10, "is_complete": false, "parallel_tasks": [{"task_id": "s1", "type": "create_file", "description": "no path"}]}`)
	require.ErrorContains(t, err, "file_path")

	_, err = Parse(`{"analysis": "x", "progress_percent": 10, "is_complete": false, "next_action": {"file_path": "a.py", "description": "typeless"}}`)
	require.ErrorContains(t, err, "type")
}
