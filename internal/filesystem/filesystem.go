package filesystem

import (
	"os"
	"path/filepath"
	"strings"

	"resumexfer/internal/errors"
)

// FileInfo describes the local file a session reads or writes.
type FileInfo struct {
	Name string
	Size int64
	Path string
}

// ValidateFilePath rejects directory traversal in a path received over
// the wire — a filename line is attacker-controlled on the server side.
func ValidateFilePath(path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return errors.NewValidationError("file_path", path, "path contains directory traversal")
	}
	return nil
}

// Stat returns size/name information about a local file.
func Stat(path string) (*FileInfo, error) {
	if err := ValidateFilePath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}
	if info.IsDir() {
		return nil, errors.NewValidationError("file_path", path, "cannot transfer a directory")
	}

	return &FileInfo{Name: info.Name(), Size: info.Size(), Path: path}, nil
}

// Exists reports whether path exists and is a regular file, along with
// its current size when it does. A missing file is not an error here:
// the Sender (§4.3) and Receiver (§4.4) both treat "no local file" as a
// normal branch of the protocol, not a failure.
func Exists(path string) (size int64, ok bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

// OpenForRead opens the authoritative file a Sender streams from.
func OpenForRead(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewFileSystemError("open", path, err)
	}
	return f, nil
}

// OpenForResume reopens an existing partial file for read+write so a
// Receiver can seek past the validated prefix and keep writing (§4.4.9).
func OpenForResume(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.NewFileSystemError("open_resume", path, err)
	}
	return f, nil
}

// CreateFresh creates a new file for a Receiver with no local partial.
func CreateFresh(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.NewFileSystemError("create", path, err)
	}
	return f, nil
}

// EnsureDirectoryExists creates a directory if it doesn't already exist.
func EnsureDirectoryExists(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}
	return nil
}
