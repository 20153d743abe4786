package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "coedit", cmd.Use)
	assert.Contains(t, cmd.Long, "markdown")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "check-config", "drafts", "revisions", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	configFlag := serveCmd.Flags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "coedit.yaml", configFlag.DefValue)

	rootFlag := serveCmd.Flags().Lookup("root")
	require.NotNil(t, rootFlag)
	// --root is required, so default is empty
	assert.Equal(t, "", rootFlag.DefValue)

	addrFlag := serveCmd.Flags().Lookup("addr")
	require.NotNil(t, addrFlag)
	assert.Equal(t, ":4100", addrFlag.DefValue)

	dbFlag := serveCmd.Flags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "coedit.db", dbFlag.DefValue)
}

func TestCheckConfigCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	checkCmd, _, err := cmd.Find([]string{"check-config"})
	require.NoError(t, err)

	configFlag := checkCmd.Flags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "coedit.yaml", configFlag.DefValue)
}

func TestDraftsCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	draftsCmd, _, err := cmd.Find([]string{"drafts"})
	require.NoError(t, err)

	dbFlag := draftsCmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "coedit.db", dbFlag.DefValue)

	restoreCmd, _, err := cmd.Find([]string{"drafts", "restore"})
	require.NoError(t, err)
	require.NotNil(t, restoreCmd)
	assert.Equal(t, "restore", restoreCmd.Name())

	outFlag := restoreCmd.Flags().Lookup("out")
	require.NotNil(t, outFlag)
}

func TestRevisionsCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	revisionsCmd, _, err := cmd.Find([]string{"revisions"})
	require.NoError(t, err)

	dbFlag := revisionsCmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)

	limitFlag := revisionsCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "0", limitFlag.DefValue)

	showCmd, _, err := cmd.Find([]string{"revisions", "show"})
	require.NoError(t, err)
	require.NotNil(t, showCmd)
	assert.Equal(t, "show", showCmd.Name())
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestFormatValidation(t *testing.T) {
	// Test valid formats
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	// Test invalid formats
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "check-config"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
