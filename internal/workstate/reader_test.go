package workstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestReader(t *testing.T) (*Reader, string) {
	t.Helper()
	root := t.TempDir()
	return NewReader(root, logger.Default()), root
}

func TestTasks(t *testing.T) {
	r, root := newTestReader(t)

	writeFile(t, filepath.Join(root, "crew", "tasks", "t1.json"),
		`{"id":"t1","subject":"fix login","status":"pending"}`)
	writeFile(t, filepath.Join(root, "crew", "tasks", "t2.json"),
		`{"id":"t2","subject":"ship it","status":"completed"}`)

	tasks, err := r.Tasks("crew")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "t1", tasks[0].ID)
	require.True(t, tasks[0].Open())
	require.False(t, tasks[1].Open())
}

func TestTasksSkipsMalformedFiles(t *testing.T) {
	r, root := newTestReader(t)

	writeFile(t, filepath.Join(root, "crew", "tasks", "good.json"),
		`{"id":"good","status":"pending"}`)
	writeFile(t, filepath.Join(root, "crew", "tasks", "partial.json"),
		`{"id":"partial","stat`)
	writeFile(t, filepath.Join(root, "crew", "tasks", "notes.txt"), "not a task")

	tasks, err := r.Tasks("crew")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "good", tasks[0].ID)
}

func TestTasksAllTeams(t *testing.T) {
	r, root := newTestReader(t)

	writeFile(t, filepath.Join(root, "alpha", "tasks", "a.json"), `{"id":"a","status":"pending"}`)
	writeFile(t, filepath.Join(root, "beta", "tasks", "b.json"), `{"id":"b","status":"pending"}`)

	tasks, err := r.Tasks("")
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	teams, err := r.Teams()
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, teams)
}

func TestUnreadMessages(t *testing.T) {
	r, root := newTestReader(t)

	writeFile(t, filepath.Join(root, "crew", "inbox", "lead", "m1.json"),
		`{"id":"m1","from":"worker","body":"done with t1","read":false}`)
	writeFile(t, filepath.Join(root, "crew", "inbox", "lead", "m2.json"),
		`{"id":"m2","from":"worker","body":"old news","read":true}`)

	msgs, err := r.UnreadMessages("crew")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)
}

func TestHasPendingWork(t *testing.T) {
	r, root := newTestReader(t)

	has, err := r.HasPendingWork("crew")
	require.NoError(t, err)
	require.False(t, has)

	writeFile(t, filepath.Join(root, "crew", "tasks", "t1.json"), `{"id":"t1","status":"completed"}`)
	has, err = r.HasPendingWork("crew")
	require.NoError(t, err)
	require.False(t, has)

	writeFile(t, filepath.Join(root, "crew", "inbox", "lead", "m1.json"), `{"id":"m1","read":false}`)
	has, err = r.HasPendingWork("crew")
	require.NoError(t, err)
	require.True(t, has)
}

func TestHasPendingWorkMissingRoot(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "nope"), logger.Default())
	has, err := r.HasPendingWork("")
	require.NoError(t, err)
	require.False(t, has)
}

func TestTeamManifest(t *testing.T) {
	r, root := newTestReader(t)

	writeFile(t, filepath.Join(root, "crew", "team.yaml"),
		"name: crew\nlead: lead\nmembers:\n  - name: lead\n    model: claude-sonnet-4-5\n  - name: worker\n")

	team, err := r.Team("crew")
	require.NoError(t, err)
	require.NotNil(t, team)
	require.Equal(t, "crew", team.Name)
	require.Len(t, team.Members, 2)

	missing, err := r.Team("ghost")
	require.NoError(t, err)
	require.Nil(t, missing)
}
