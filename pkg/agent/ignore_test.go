package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldIgnorePath(t *testing.T) {
	cases := []struct {
		path   string
		ignore bool
	}{
		{"main.py", false},
		{"src/app.go", false},
		{".git/HEAD", true},
		{"node_modules/left-pad/index.js", true},
		{"__pycache__/mod.cpython-311.pyc", true},
		{"build/output.bin", true},
		{".hidden-file", true},
		{"src/.cache/tmp", true},
		{"notes.txt.swp", true},
		{"a.tmp", true},
		{"README.md~", true},
	}

	for _, c := range cases {
		assert.Equal(t, c.ignore, shouldIgnorePath(c.path), "path=%s", c.path)
	}
}
