package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestWriteRead(t *testing.T) {
	root := t.TempDir()
	blob := filepath.Join(t.TempDir(), "blob")
	require.Nil(t, os.WriteFile(blob, []byte{0, 1, 2}, 0644))

	_, _, err := run(t, "write", "clicks", "user=ann", "page=/home", "--root", root, "--schema", "click")
	require.Nil(t, err)
	_, _, err = run(t, "write", "clicks", "user=bob", "raw=@"+blob, "--root", root, "--schema", "click")
	require.Nil(t, err)

	out, errOut, err := run(t, "read", "clicks", "--root", root, "--from", "BEGINNING")
	require.Nil(t, err)
	assert.True(t, strings.HasPrefix(errOut, "position: "))

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var first, second printedRecord
	require.Nil(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Nil(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "click", first.Schema)
	assert.Equal(t, "ann", first.Fields["user"])
	assert.Equal(t, "/home", first.Fields["page"])
	// bytes are printed base64 encoded
	assert.Equal(t, "AAEC", second.Fields["raw"])

	// the stored position picks up after the last record
	out, _, err = run(t, "read", "clicks", "--root", root)
	require.Nil(t, err)
	assert.Empty(t, out)
}

func TestRead_PositionNotStored(t *testing.T) {
	root := t.TempDir()
	_, _, err := run(t, "write", "clicks", "user=ann", "--root", root)
	require.Nil(t, err)

	// a directory in the way of the temporary position file
	require.Nil(t, os.Mkdir(filepath.Join(root, "clicks", "Reader.pos.tmp"), 0755))

	out, _, err := run(t, "read", "clicks", "--root", root)
	assert.NotNil(t, err)
	assert.Contains(t, out, "ann")
}

func TestStatClearPurge(t *testing.T) {
	root := t.TempDir()
	for _, user := range []string{"a", "b", "c"} {
		_, _, err := run(t, "write", "clicks", "user="+user, "--root", root)
		require.Nil(t, err)
	}

	out, _, err := run(t, "stat", "clicks", "--root", root)
	require.Nil(t, err)
	var stats struct {
		Segments int
		Live     int
	}
	require.Nil(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Segments)
	assert.Equal(t, 3, stats.Live)

	out, _, err = run(t, "purge", "clicks", "--root", root)
	require.Nil(t, err)
	assert.Equal(t, "removed 0 segments\n", out)

	_, _, err = run(t, "clear", "clicks", "--root", root)
	require.Nil(t, err)
	out, _, err = run(t, "read", "clicks", "--root", root, "--from", "BEGINNING")
	require.Nil(t, err)
	assert.Empty(t, out)
}

func TestInvalidInput(t *testing.T) {
	root := t.TempDir()
	_, _, err := run(t, "write", "clicks", "novalue", "--root", root)
	assert.NotNil(t, err)

	_, _, err = run(t, "read", "clicks", "--root", root, "--log-level", "loud")
	assert.NotNil(t, err)

	_, _, err = run(t, "read", "clicks", "--root", root, "--from", "!!")
	assert.NotNil(t, err)
}
