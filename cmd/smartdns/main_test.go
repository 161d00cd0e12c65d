package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCommandPrintsVersion(t *testing.T) {
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Equal(t, version, strings.TrimSpace(out.String()))
}

func TestRunCommandRequiresReadableConfig(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "--config", "/nonexistent/smartdns.conf"})
	root.SilenceErrors = true
	root.SilenceUsage = true

	err := root.Execute()
	require.Error(t, err)
}

func TestRootCommandHasExpectedSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["run"])
	require.True(t, names["version"])
}
