package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_AddTreeSkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "left-pad"), 0o755))

	w, err := newWatcher(root)
	require.NoError(t, err)
	require.NoError(t, w.addTree())
	defer w.fs.Close()

	watched := w.fs.WatchList()
	for _, p := range watched {
		assert.NotContains(t, p, ".git")
		assert.NotContains(t, p, "node_modules")
	}
	assert.Contains(t, watched, filepath.Join(root, "src"))
}

func TestClassify_MapsFsnotifyOpsToFileEventKinds(t *testing.T) {
	cases := []struct {
		op   fsnotify.Op
		want string
		ok   bool
	}{
		{fsnotify.Create, "add", true},
		{fsnotify.Write, "change", true},
		{fsnotify.Remove, "delete", true},
		{fsnotify.Rename, "delete", true},
		{fsnotify.Chmod, "", false},
	}

	for _, c := range cases {
		kind, ok := classify(fsnotify.Event{Name: "x", Op: c.op})
		assert.Equal(t, c.ok, ok)
		if ok {
			assert.Equal(t, c.want, string(kind))
		}
	}
}
