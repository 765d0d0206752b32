package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zip"

	"github.com/Paranoid-AF/burrow/command"
)

const defaultUploadName = "uploaded_file.txt"

type unzip struct{}

func (unzip) Name() string  { return "unzip" }
func (unzip) Usage() string { return "unzip <archive> [destination]" }

func (unzip) Execute(ctx context.Context, inv *command.Invocation) command.Result {
	archive, ok := inv.Arg(0)
	if !ok {
		return command.Failure("Usage: unzip <archive> [destination]")
	}
	dest, ok := inv.Arg(1)
	if !ok {
		dest = "."
	}

	zr, err := zip.OpenReader(inv.Session.Resolve(archive))
	if err != nil {
		return command.Failuref("Error extracting %s: %v", archive, err)
	}
	defer zr.Close()

	if err := extractZip(ctx, &zr.Reader, inv.Session.Resolve(dest)); err != nil {
		return command.Failuref("Error extracting %s: %v", archive, err)
	}
	return command.Success("Extracted " + archive + " to " + dest)
}

// upload stores inline file_content under the session directory. Without
// inline content it copies a daemon-side file instead.
type upload struct{}

func (upload) Name() string  { return "upload" }
func (upload) Usage() string { return "upload <local_path> [remote_name]" }

func (upload) Execute(_ context.Context, inv *command.Invocation) command.Result {
	if raw, ok := inv.Extra["file_content"]; ok {
		var content *string
		if err := json.Unmarshal(raw, &content); err != nil {
			return command.Failuref("Error saving file: %v", err)
		}
		if content == nil {
			return command.Failure("Error saving file: file_content is null")
		}
		name := defaultUploadName
		if arg, ok := inv.Arg(0); ok {
			if base := filepath.Base(arg); base != "." && base != string(filepath.Separator) {
				name = base
			}
		}
		path := inv.Session.Resolve(name)
		if err := renameio.WriteFile(path, []byte(*content), 0644); err != nil {
			return command.Failuref("Error saving file: %v", err)
		}
		return command.Success("File uploaded successfully to: " + path)
	}

	local, ok := inv.Arg(0)
	if !ok {
		return command.Failure("Usage: upload <local_path> [remote_name]")
	}
	remote, ok := inv.Arg(1)
	if !ok {
		remote = filepath.Base(local)
	}
	path, res := copyIntoSession(inv, local, remote, "Error during upload")
	if !res.OK {
		return res
	}
	return command.Success("File uploaded successfully as: " + path)
}

type download struct{}

func (download) Name() string  { return "download" }
func (download) Usage() string { return "download <file_path> [save_name]" }

func (download) Execute(_ context.Context, inv *command.Invocation) command.Result {
	src, ok := inv.Arg(0)
	if !ok {
		return command.Failure("Usage: download <file_path> [save_name]")
	}
	name, ok := inv.Arg(1)
	if !ok {
		name = filepath.Base(src)
	}
	path, res := copyIntoSession(inv, src, name, "Error during download")
	if !res.OK {
		return res
	}
	return command.Success("File downloaded successfully to " + path)
}

// copyIntoSession copies the regular file src to name under the session
// directory and returns the destination path.
func copyIntoSession(inv *command.Invocation, src, name, errPrefix string) (string, command.Result) {
	srcPath := inv.Session.Resolve(src)
	info, err := os.Stat(srcPath)
	if err != nil || !info.Mode().IsRegular() {
		return "", command.Failure("File not found: " + src)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return "", command.Failuref("%s: %v", errPrefix, err)
	}
	defer f.Close()

	dest := inv.Session.Resolve(name)
	if err := writeAtomic(dest, f, info.Mode().Perm()); err != nil {
		return "", command.Failuref("%s: %v", errPrefix, err)
	}
	return dest, command.Success(dest)
}

type uploadFolder struct{}

func (uploadFolder) Name() string  { return "upload_folder" }
func (uploadFolder) Usage() string { return "upload_folder <local_folder_path> [remote_folder_name]" }

func (uploadFolder) Execute(ctx context.Context, inv *command.Invocation) command.Result {
	folder, ok := inv.Arg(0)
	if !ok {
		return command.Failure("Usage: upload_folder <local_folder_path> [remote_folder_name]")
	}
	src := inv.Session.Resolve(folder)
	name, ok := inv.Arg(1)
	if !ok {
		name = filepath.Base(src)
	}

	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return command.Failure("Folder not found: " + folder)
	}

	var buf bytes.Buffer
	if err := zipDir(ctx, src, &buf); err != nil {
		return command.Failuref("Error during folder upload: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return command.Failuref("Error during folder upload: %v", err)
	}

	dest := inv.Session.Resolve(name)
	if err := extractZip(ctx, zr, dest); err != nil {
		return command.Failuref("Error during folder upload: %v", err)
	}
	return command.Success("Folder uploaded and extracted successfully to: " + dest)
}
