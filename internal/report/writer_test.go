package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/adaliases/internal/logging"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriter_Commit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user_aliases.csv")

	w, err := Create(path, nil)
	require.NoError(t, err)

	require.NoError(t, w.WriteHeader("sAMAccountName", "Email Aliases"))
	require.NoError(t, w.WriteRow("jdoe", "jdoe@alt.org john.doe@alt.org"))
	require.NoError(t, w.WriteRow("o'brien, pat", ""))
	require.NoError(t, w.WriteRow("quote\"d", "josé@nyu.edu"))

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "destination must not exist before commit")

	require.NoError(t, w.Commit())
	assert.Equal(t, 3, w.Rows())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"sAMAccountName,Email Aliases\r\n"+
			"jdoe,jdoe@alt.org john.doe@alt.org\r\n"+
			"\"o'brien, pat\",\r\n"+
			"\"quote\"\"d\",josé@nyu.edu\r\n",
		string(data))
	assert.Equal(t, []string{"user_aliases.csv"}, listDir(t, dir))

	assert.ErrorIs(t, w.WriteRow("late", ""), ErrClosed)
	assert.ErrorIs(t, w.Commit(), ErrClosed)
	assert.NoError(t, w.Abort())
}

func TestWriter_CommitReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adusers.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0o644))

	w, err := Create(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow("111", "alice"))
	require.NoError(t, w.WriteRow("222", "bob"))
	require.NoError(t, w.Commit())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "111,alice\r\n222,bob\r\n", string(data))
}

func TestWriter_CommitMode(t *testing.T) {
	tests := []struct {
		name     string
		existing os.FileMode
		want     os.FileMode
	}{
		{"new report", 0, 0o644},
		{"restricted report keeps its mode", 0o600, 0o600},
		{"group writable report keeps its mode", 0o664, 0o664},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "user_aliases.csv")
			if tt.existing != 0 {
				require.NoError(t, os.WriteFile(path, []byte("stale\n"), tt.existing))
				require.NoError(t, os.Chmod(path, tt.existing))
			}

			w, err := Create(path, nil)
			require.NoError(t, err)
			require.NoError(t, w.WriteRow("jdoe", ""))
			require.NoError(t, w.Commit())

			fi, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fi.Mode().Perm())
		})
	}
}

func TestWriter_Abort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user_aliases.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0o644))

	w, err := Create(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow("jdoe", ""))
	require.NoError(t, w.Abort())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous run\n", string(data))
	assert.Equal(t, []string{"user_aliases.csv"}, listDir(t, dir))

	assert.ErrorIs(t, w.WriteHeader("a"), ErrClosed)
	assert.NoError(t, w.Abort())
}

func TestWriter_CommitFailureLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user_aliases.csv")
	// A non-empty directory at the destination makes the rename fail.
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), nil, 0o644))

	var logs bytes.Buffer
	logger, _, err := logging.New(logging.Options{Output: &logs, Level: "debug"})
	require.NoError(t, err)

	w, err := Create(path, logger)
	require.NoError(t, err)
	require.NoError(t, w.WriteRow("jdoe", "jdoe@alt.org"))

	err = w.Commit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rename")
	assert.Equal(t, []string{"user_aliases.csv"}, listDir(t, dir))
	assert.Contains(t, logs.String(), "Failed to commit report")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreate_Errors(t *testing.T) {
	_, err := Create("", nil)
	assert.Error(t, err)

	_, err = Create(filepath.Join(t.TempDir(), "missing", "out.csv"), nil)
	assert.Error(t, err)
}
