package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmd_RequiresUser(t *testing.T) {
	for _, sub := range []string{"status", "reconcile", "token", "watch"} {
		t.Run(sub, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{sub})
			require.ErrorIs(t, cmd.Execute(), errMissingUser)
		})
	}
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"status", "reconcile", "token", "watch"} {
		require.True(t, names[want], want)
	}
}
