package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	burrow "github.com/Paranoid-AF/burrow"
	"github.com/Paranoid-AF/burrow/audit"
	"github.com/Paranoid-AF/burrow/command"
	"github.com/Paranoid-AF/burrow/session"
)

func newRegistry(t *testing.T, opts Options) *command.Registry {
	t.Helper()
	reg := command.NewRegistry()
	Register(reg, opts)
	return reg
}

// newSession returns a connected session rooted at a fresh temp dir with
// symlinks resolved, so paths compare equal to os.Getwd output.
func newSession(t *testing.T) *session.Session {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return session.New(dir, "127.0.0.1:40000")
}

func run(reg *command.Registry, sess *session.Session, name string, args ...string) command.Result {
	return reg.Run(context.Background(), sess, &burrow.Request{Command: name, Args: args})
}

func TestRegisterAllBuiltins(t *testing.T) {
	reg := newRegistry(t, Options{})
	assert.Equal(t, []string{
		"cat", "cd", "download", "exit", "help", "history", "ls", "mkdir",
		"pwd", "rm", "touch", "unzip", "upload", "upload_folder", "whoami",
	}, reg.Names())
}

func TestCdThenPwd(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)
	root := sess.Dir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))

	res := run(reg, sess, "cd", "sub")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Changed directory to "+filepath.Join(root, "sub"), res.Message)

	res = run(reg, sess, "pwd")
	assert.True(t, res.OK)
	assert.Equal(t, filepath.Join(root, "sub"), res.Message)

	res = run(reg, sess, "cd", "..")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, root, sess.Dir())
}

func TestCdErrors(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)

	res := run(reg, sess, "cd")
	assert.Equal(t, command.Failure("No directory specified"), res)

	res = run(reg, sess, "cd", "nope")
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "Error changing directory:")
}

func TestLsSortedNewlineJoined(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)
	for _, name := range []string{"b.txt", "a.txt", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(sess.Dir(), name), nil, 0644))
	}

	res := run(reg, sess, "ls")
	assert.True(t, res.OK)
	assert.Equal(t, "a.txt\nb.txt\nc", res.Message)

	res = run(reg, sess, "ls", "missing")
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "Error listing directory:")
}

func TestLsEmptyDirectory(t *testing.T) {
	reg := newRegistry(t, Options{})
	res := run(reg, newSession(t), "ls")
	assert.True(t, res.OK)
	assert.Equal(t, "", res.Message)
}

func TestMkdirTouchCatRm(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)

	res := run(reg, sess, "mkdir", "a/b")
	assert.Equal(t, "Created directory: a/b", res.Message)
	assert.DirExists(t, filepath.Join(sess.Dir(), "a", "b"))

	res = run(reg, sess, "touch", "a/b/note.txt")
	assert.Equal(t, "Created file: a/b/note.txt", res.Message)
	assert.FileExists(t, filepath.Join(sess.Dir(), "a", "b", "note.txt"))

	require.NoError(t, os.WriteFile(filepath.Join(sess.Dir(), "a", "b", "note.txt"), []byte("hi"), 0644))
	res = run(reg, sess, "cat", "a/b/note.txt")
	assert.True(t, res.OK)
	assert.Equal(t, "hi", res.Message)

	res = run(reg, sess, "rm", "a/b/note.txt")
	assert.Equal(t, "Removed file: a/b/note.txt", res.Message)

	res = run(reg, sess, "rm", "a")
	assert.Equal(t, "Removed directory: a", res.Message)
	assert.NoDirExists(t, filepath.Join(sess.Dir(), "a"))

	res = run(reg, sess, "rm", "a")
	assert.False(t, res.OK)
	assert.Equal(t, "No such file or directory: a", res.Message)
}

func TestTouchKeepsContentAndBumpsMtime(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)
	path := filepath.Join(sess.Dir(), "keep.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	res := run(reg, sess, "touch", "keep.txt")
	require.True(t, res.OK)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(old.Add(time.Minute)))
}

func TestMissingArgumentMessages(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)

	tests := map[string]string{
		"mkdir":         "No directory name specified",
		"rm":            "No file or directory specified",
		"cat":           "No file specified",
		"touch":         "No file specified",
		"unzip":         "Usage: unzip <archive> [destination]",
		"upload":        "Usage: upload <local_path> [remote_name]",
		"download":      "Usage: download <file_path> [save_name]",
		"upload_folder": "Usage: upload_folder <local_folder_path> [remote_folder_name]",
	}
	for name, want := range tests {
		res := run(reg, sess, name)
		assert.False(t, res.OK, name)
		assert.Equal(t, want, res.Message, name)
	}
}

func TestUploadInlineContent(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)

	req := &burrow.Request{Command: "upload", Args: []string{"/somewhere/else/notes.txt"}}
	require.NoError(t, req.SetExtra("file_content", "hello burrow"))

	res := reg.Run(context.Background(), sess, req)
	require.True(t, res.OK, res.Message)
	path := filepath.Join(sess.Dir(), "notes.txt")
	assert.Equal(t, "File uploaded successfully to: "+path, res.Message)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello burrow", string(data))
}

func TestUploadInlineDefaultName(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)

	req := &burrow.Request{Command: "upload"}
	require.NoError(t, req.SetExtra("file_content", "x"))

	res := reg.Run(context.Background(), sess, req)
	require.True(t, res.OK, res.Message)
	assert.FileExists(t, filepath.Join(sess.Dir(), defaultUploadName))
}

func TestUploadRejectsNonStringContent(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)
	src := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(src, []byte("daemon-side data"), 0600))

	for _, raw := range []string{`123`, `null`, `{"a":1}`} {
		req := &burrow.Request{Command: "upload", Args: []string{src}}
		req.Extra = map[string]json.RawMessage{"file_content": json.RawMessage(raw)}

		res := reg.Run(context.Background(), sess, req)
		assert.False(t, res.OK, raw)
		assert.True(t, strings.HasPrefix(res.Message, "Error saving file: "), res.Message)
		assert.NoFileExists(t, filepath.Join(sess.Dir(), "secret.txt"))
	}
}

func TestUploadAndDownloadCopyFiles(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)
	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, []byte{0, 1, 2}, 0640))

	res := run(reg, sess, "upload", src, "up.bin")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "File uploaded successfully as: "+filepath.Join(sess.Dir(), "up.bin"), res.Message)

	res = run(reg, sess, "download", src)
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "File downloaded successfully to "+filepath.Join(sess.Dir(), "src.bin"), res.Message)

	data, err := os.ReadFile(filepath.Join(sess.Dir(), "src.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, data)

	res = run(reg, sess, "download", "missing.bin")
	assert.Equal(t, "File not found: missing.bin", res.Message)
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestUnzip(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)
	writeZip(t, filepath.Join(sess.Dir(), "a.zip"), map[string]string{
		"top.txt":      "top",
		"dir/deep.txt": "deep",
	})

	res := run(reg, sess, "unzip", "a.zip", "out")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Extracted a.zip to out", res.Message)

	data, err := os.ReadFile(filepath.Join(sess.Dir(), "out", "dir", "deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))

	res = run(reg, sess, "unzip", "a.zip")
	require.True(t, res.OK, res.Message)
	assert.FileExists(t, filepath.Join(sess.Dir(), "top.txt"))
}

func TestUnzipRejectsEscapingEntries(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)
	require.NoError(t, os.Mkdir(filepath.Join(sess.Dir(), "inner"), 0755))
	writeZip(t, filepath.Join(sess.Dir(), "evil.zip"), map[string]string{"../escaped.txt": "x"})

	res := run(reg, sess, "unzip", "evil.zip", "inner")
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "Error extracting evil.zip:")
	assert.NoFileExists(t, filepath.Join(sess.Dir(), "escaped.txt"))
}

func TestUploadFolder(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)

	src := filepath.Join(t.TempDir(), "project")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "README"), []byte("readme"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "pkg", "main.go"), []byte("package main"), 0644))

	res := run(reg, sess, "upload_folder", src, "copy")
	require.True(t, res.OK, res.Message)
	dest := filepath.Join(sess.Dir(), "copy")
	assert.Equal(t, "Folder uploaded and extracted successfully to: "+dest, res.Message)

	data, err := os.ReadFile(filepath.Join(dest, "project", "pkg", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))

	res = run(reg, sess, "upload_folder", filepath.Join(src, "missing"))
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "Folder not found:")
}

func TestHelp(t *testing.T) {
	reg := newRegistry(t, Options{})
	sess := newSession(t)

	res := run(reg, sess, "help")
	require.True(t, res.OK)
	assert.Contains(t, res.Message, "Available commands:")
	assert.Contains(t, res.Message, "upload_folder <local_folder_path> [remote_folder_name]")

	res = run(reg, sess, "help", "cd")
	assert.Equal(t, "Usage: cd <dir>", res.Message)

	res = run(reg, sess, "help", "mkdri")
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "Unknown command: mkdri")
	assert.Contains(t, res.Message, "mkdir")
}

func TestWhoamiAndExitRequireConnection(t *testing.T) {
	reg := newRegistry(t, Options{})

	dir := t.TempDir()
	local := session.New(dir, "")
	for _, name := range []string{"whoami", "exit"} {
		res := run(reg, local, name)
		assert.False(t, res.OK)
		assert.Equal(t, "Command requires a connection: "+name, res.Message)
	}

	remote := newSession(t)
	res := run(reg, remote, "whoami")
	require.True(t, res.OK)
	assert.Contains(t, res.Message, "Session: "+remote.ID)
	assert.Contains(t, res.Message, "Remote: 127.0.0.1:40000")

	res = run(reg, remote, "exit")
	assert.Equal(t, command.Terminate("Goodbye"), res)
}

func TestHistory(t *testing.T) {
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer log.Close()

	reg := newRegistry(t, Options{History: log, HistoryLimit: 2})
	sess := newSession(t)

	res := run(reg, sess, "history")
	assert.Equal(t, "No history", res.Message)

	for _, name := range []string{"ls", "pwd", "bogus"} {
		require.NoError(t, log.Record(audit.Entry{Session: sess.ID, Command: name, OK: name != "bogus"}))
	}
	require.NoError(t, log.Record(audit.Entry{Session: "other", Command: "rm"}))

	res = run(reg, sess, "history")
	require.True(t, res.OK, res.Message)
	assert.Contains(t, res.Message, "bogus")
	assert.Contains(t, res.Message, "pwd")
	assert.NotContains(t, res.Message, "ls")
	assert.NotContains(t, res.Message, "rm")

	res = run(reg, sess, "history", "zero")
	assert.Equal(t, "Invalid count: zero", res.Message)
}

func TestHistoryDisabled(t *testing.T) {
	reg := newRegistry(t, Options{})
	res := run(reg, newSession(t), "history")
	assert.False(t, res.OK)
	assert.Equal(t, "History is not enabled", res.Message)
}
