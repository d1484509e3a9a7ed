package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"download", "resolve", "catalog"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q to be registered", name)
	}
}

func TestRootCommand_Use(t *testing.T) {
	assert.Equal(t, "pubfetch", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
}

func TestDownloadCommand_Flags(t *testing.T) {
	flags := downloadCmd.Flags()

	for _, name := range []string{"input", "output-dir", "auth", "update-catalog", "yes"} {
		require.NotNil(t, flags.Lookup(name), "expected flag %q", name)
	}
}

func TestResolveCommand_RequiresArg(t *testing.T) {
	err := resolveCmd.Args(resolveCmd, []string{})
	assert.Error(t, err)

	err = resolveCmd.Args(resolveCmd, []string{"10.1000/xyz"})
	assert.NoError(t, err)
}

func TestCatalogCommand_Flags(t *testing.T) {
	flags := catalogCmd.Flags()
	require.NotNil(t, flags.Lookup("input"))
	require.NotNil(t, flags.Lookup("catalog"))
}

func TestPromptYesNo(t *testing.T) {
	var out strings.Builder

	assert.True(t, promptYesNo(strings.NewReader("y\n"), &out, "Continue?", false))
	assert.True(t, promptYesNo(strings.NewReader("YES\n"), &out, "Continue?", false))
	assert.False(t, promptYesNo(strings.NewReader("n\n"), &out, "Continue?", true))
	assert.False(t, promptYesNo(strings.NewReader("no\n"), &out, "Continue?", true))

	// Empty or unrecognized input falls back to the default.
	assert.True(t, promptYesNo(strings.NewReader("\n"), &out, "Continue?", true))
	assert.False(t, promptYesNo(strings.NewReader("\n"), &out, "Continue?", false))
	assert.True(t, promptYesNo(strings.NewReader("maybe\n"), &out, "Continue?", true))
	assert.False(t, promptYesNo(strings.NewReader(""), &out, "Continue?", false))

	assert.Contains(t, out.String(), "Continue?")
}
