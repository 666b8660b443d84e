package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/ibkv-project/ibkv/common"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	out := &bytes.Buffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := dataDir + "/ibkv.toml"
	body := "data_dir = \"" + dataDir + "\"\n" +
		"buf_pool_size = \"4MiB\"\n" +
		"log_buffer_size = \"64KiB\"\n" +
		"log_file_size = \"256KiB\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestStartupCommandRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	out := runCmd(t, "--config", cfgPath, "startup")
	require.Contains(t, out, "ibkv started against "+dir)
}

func TestCheckpointCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	out := runCmd(t, "--config", cfgPath, "checkpoint")
	require.Contains(t, out, "checkpoint complete")
}

func TestDefragCommandWithNothingToSweep(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	out := runCmd(t, "--config", cfgPath, "defrag")
	require.Contains(t, out, "nothing to sweep")
}

func TestUnsupportedFormatRejected(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "--format", "BOGUS", "startup"})
	err := root.Execute()
	// resolveFormat passes an unknown name through, so engine.Startup
	// refuses it as unsupported.
	require.Error(t, err)
	require.Equal(t, common.ErrUnsupported, common.CodeOf(err))
}
