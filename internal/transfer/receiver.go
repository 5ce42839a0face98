package transfer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"resumexfer/internal/errors"
	"resumexfer/internal/filesystem"
	"resumexfer/internal/hashlog"
	"resumexfer/internal/logging"
	"resumexfer/internal/progress"
	"resumexfer/internal/protocol"
)

// Receiver is the copy-owner side of a transfer: it materializes the
// peer's file locally, resuming from whatever local partial already
// validates against the peer's content (§4.4).
type Receiver struct {
	Session    *Session
	TotalSize  int64
	UseHashLog bool
	Silent     bool
}

// Run executes the full receiver protocol and returns once the file has
// been fully materialized or the session has failed.
func (r *Receiver) Run(ctx context.Context) error {
	if r.TotalSize <= 0 {
		return errors.NewValidationError("total_size", r.Session.Path, "remote file is missing")
	}
	if err := filesystem.ValidateFilePath(r.Session.Path); err != nil {
		return err
	}

	logging.LogSessionStart(r.Session.ID, "receiver", string(r.Session.Verb), r.Session.Path, r.TotalSize)

	localSize, exists := filesystem.Exists(r.Session.Path)
	var existFileSize int64

	if !exists {
		if err := protocol.SendLine(r.Session.Writer, protocol.LineStart); err != nil {
			return err
		}
		if err := protocol.SendInt64(r.Session.Writer, 0); err != nil {
			return err
		}
		if err := protocol.FlushWriter(r.Session.Writer); err != nil {
			return err
		}
		return r.materialize(ctx, 0)
	}

	if localSize > r.TotalSize {
		if !confirmPrompt("Local partial file is larger than the remote file.") {
			return errors.NewValidationError("resume", r.Session.Path, "operator declined overwrite")
		}
	}

	validated, err := r.runCheckBranch(ctx, localSize)
	if err != nil {
		return err
	}
	existFileSize = validated

	if err := protocol.SendLine(r.Session.Writer, protocol.LineStart); err != nil {
		return err
	}
	if err := protocol.SendInt64(r.Session.Writer, existFileSize); err != nil {
		return err
	}
	if err := protocol.FlushWriter(r.Session.Writer); err != nil {
		return err
	}

	if existFileSize == r.TotalSize {
		slog.Info("Transfer short-circuited, already complete", "session_id", r.Session.ID)
		return nil
	}

	return r.materialize(ctx, existFileSize)
}

// runCheckBranch performs the §4.4.4/5/6 client-validator role.
func (r *Receiver) runCheckBranch(ctx context.Context, localSize int64) (int64, error) {
	file, err := filesystem.OpenForRead(r.Session.Path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if err := protocol.SendLine(r.Session.Writer, protocol.LineCheck); err != nil {
		return 0, err
	}
	if err := protocol.SendInt64(r.Session.Writer, localSize); err != nil {
		return 0, err
	}
	if err := protocol.FlushWriter(r.Session.Writer); err != nil {
		return 0, err
	}

	logPath := ""
	if r.UseHashLog {
		logPath = hashlog.PathFor(r.Session.Path)
	}

	pipeline := &HashPipeline{
		Session:  r.Session,
		File:     file,
		Boundary: localSize,
		Role:     RoleClientValidator,
		LogPath:  logPath,
	}

	result, err := pipeline.Run(ctx)
	if err != nil {
		return 0, err
	}

	logging.LogResumeOutcome(r.Session.ID, localSize, result.ValidatedSize, result.Matched)

	if !result.Matched {
		if !confirmPrompt("Local data does not match the remote file past the validated prefix.") {
			return 0, errors.NewValidationError("resume", r.Session.Path, "operator declined overwrite")
		}
	}

	return result.ValidatedSize, nil
}

// materialize opens the local file appropriately for from and reads the
// remaining bytes off the socket until total_size is reached.
func (r *Receiver) materialize(ctx context.Context, from int64) error {
	var file *os.File
	var err error

	if from > 0 {
		file, err = filesystem.OpenForResume(r.Session.Path)
		if err != nil {
			return err
		}
		if _, serr := file.Seek(from, io.SeekStart); serr != nil {
			return errors.NewFileSystemError("seek", r.Session.Path, serr)
		}
	} else {
		if dir := parentDir(r.Session.Path); dir != "" {
			if err := filesystem.EnsureDirectoryExists(dir); err != nil {
				return err
			}
		}
		file, err = filesystem.CreateFresh(r.Session.Path)
		if err != nil {
			return err
		}
	}
	defer file.Close()

	remaining := r.TotalSize - from
	reporter := progress.NewReporter(progress.PhaseTransfer, remaining, r.Silent)
	defer reporter.Finish()
	start := time.Now()

	buf := make([]byte, TransferChunkSize)
	for remaining > 0 {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}

		n, err := protocol.ReadChunk(ctx, r.Session.Reader, buf[:want])
		if n == 0 && err == nil {
			return errors.NewNetworkError("read_tail", r.Session.Conn.RemoteAddr().String(), io.ErrClosedPipe)
		}
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return errors.NewFileSystemError("write_tail", r.Session.Path, werr)
			}
			remaining -= int64(n)
			reporter.Advance(int64(n))
		}
		if err != nil {
			return errors.NewNetworkError("read_tail", r.Session.Conn.RemoteAddr().String(), err)
		}
	}

	logging.LogTransferComplete(r.Session.ID, r.Session.Path, r.TotalSize-from, time.Since(start))
	return nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
