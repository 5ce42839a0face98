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

// Sender is the authoritative side of a transfer: it owns the true file
// content and streams whatever the peer doesn't already have (§4.3).
type Sender struct {
	Session    *Session
	UseHashLog bool
	Silent     bool
	// PreAdvertised is set on the PUT direction's client side, where the
	// file size already crossed the wire as the handshake's total_size
	// line (§4.2 step 5); the usual step-1 size advertisement is skipped
	// so the line isn't sent twice.
	PreAdvertised bool
}

// Run executes the full sender protocol against an already-established
// session and returns once the verb has completed or failed.
func (s *Sender) Run(ctx context.Context) error {
	info, statErr := filesystem.Stat(s.Session.Path)
	if statErr != nil {
		logging.LogError(statErr, "sender stat")
		if s.PreAdvertised {
			return statErr
		}
		if err := protocol.SendInt64(s.Session.Writer, protocol.MissingFileSize); err != nil {
			return err
		}
		return protocol.FlushWriter(s.Session.Writer)
	}

	if !s.PreAdvertised {
		if err := protocol.SendInt64(s.Session.Writer, info.Size); err != nil {
			return err
		}
		if err := protocol.FlushWriter(s.Session.Writer); err != nil {
			return err
		}
	}

	file, err := filesystem.OpenForRead(s.Session.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	mode, err := protocol.ReadLine(ctx, s.Session.Reader)
	if err != nil {
		return err
	}

	var existFileSize int64

	switch mode {
	case protocol.LineCheck:
		existFileSize, err = s.runCheckBranch(ctx, file, info.Size)
		if err != nil {
			return err
		}

		next, err := protocol.ReadLine(ctx, s.Session.Reader)
		if err != nil {
			return err
		}
		if next != protocol.LineStart {
			return errors.NewProtocolError("sender_check", "expected START after CHECK branch", nil)
		}

	case protocol.LineStart:
		// no-op: existFileSize stays 0 pending the peer's exist-size line.

	default:
		return errors.NewProtocolError("sender_mode", "expected CHECK or START", nil)
	}

	peerExistSize, err := protocol.ReadInt64(ctx, s.Session.Reader)
	if err != nil {
		return err
	}
	if peerExistSize != existFileSize {
		return errors.NewProtocolError("sender_exist_size", "peer exist size does not match validated size", nil)
	}

	logging.LogSessionStart(s.Session.ID, "sender", string(s.Session.Verb), s.Session.Path, info.Size)

	if existFileSize == info.Size {
		slog.Info("Transfer short-circuited, already complete", "session_id", s.Session.ID)
		return nil
	}

	return s.streamTail(ctx, file, existFileSize, info.Size)
}

// runCheckBranch performs the §4.3.b/c validator role: read the peer's
// claimed local size, validate the overlapping prefix via the Hash
// Pipeline, and on mismatch prompt the operator before continuing.
func (s *Sender) runCheckBranch(ctx context.Context, file *os.File, fileSize int64) (int64, error) {
	remoteExistSize, err := protocol.ReadInt64(ctx, s.Session.Reader)
	if err != nil {
		return 0, err
	}
	if remoteExistSize > fileSize {
		remoteExistSize = fileSize
	}

	logPath := ""
	if s.UseHashLog {
		logPath = hashlog.PathFor(s.Session.Path)
	}

	pipeline := &HashPipeline{
		Session:  s.Session,
		File:     file,
		Boundary: remoteExistSize,
		Role:     RoleServerValidator,
		LogPath:  logPath,
	}

	result, err := pipeline.Run(ctx)
	if err != nil {
		return 0, err
	}

	logging.LogResumeOutcome(s.Session.ID, remoteExistSize, result.ValidatedSize, result.Matched)

	if !result.Matched {
		if !confirmPrompt("Do you want to overwrite the existed data that does match with remove file?") {
			return 0, errors.NewValidationError("resume", s.Session.Path, "operator declined overwrite")
		}
	}

	return result.ValidatedSize, nil
}

// streamTail writes the remaining bytes raw, with no per-chunk ack.
func (s *Sender) streamTail(ctx context.Context, file *os.File, from, total int64) error {
	if _, err := file.Seek(from, io.SeekStart); err != nil {
		return errors.NewFileSystemError("seek", s.Session.Path, err)
	}

	remaining := total - from
	reporter := progress.NewReporter(progress.PhaseTransfer, remaining, s.Silent)
	defer reporter.Finish()
	start := time.Now()

	buf := make([]byte, TransferChunkSize)
	for remaining > 0 {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}

		n, err := file.Read(buf[:want])
		if n > 0 {
			if _, werr := s.Session.Writer.Write(buf[:n]); werr != nil {
				return errors.NewNetworkError("write_tail", s.Session.Conn.RemoteAddr().String(), werr)
			}
			remaining -= int64(n)
			reporter.Advance(int64(n))
		}
		if err != nil && err != io.EOF {
			return errors.NewFileSystemError("read_tail", s.Session.Path, err)
		}
		if err == io.EOF {
			break
		}
	}

	if err := protocol.FlushWriter(s.Session.Writer); err != nil {
		return err
	}

	logging.LogTransferComplete(s.Session.ID, s.Session.Path, total-from, time.Since(start))
	return nil
}
