package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveConflict(t *testing.T) {
	cases := []struct {
		name       string
		localExist bool
		localText  string
		serverText string
		want       conflictWinner
	}{
		{"local absent server non-empty", false, "", "print('hi')", winnerServer},
		{"local non-empty server empty", true, "print('hi')", "", winnerLocal},
		{"both empty", true, "", "", winnerNone},
		{"both empty, local absent", false, "", "", winnerNone},
		{"both non-empty and different", true, "local version", "server version", winnerServer},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := resolveConflict(c.localExist, c.localText, c.serverText)
			assert.Equal(t, c.want, got)
		})
	}
}
