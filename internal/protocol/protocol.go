// Package protocol implements the line-framed control channel shared by
// every session: one TCP stream carries newline-delimited ASCII control
// lines followed by a raw tail of file bytes, with no length prefix on
// lines — readers scan up to the next '\n' through the one buffered
// reader that later also serves the tail, so no bytes are lost.
package protocol

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"resumexfer/internal/errors"
)

// Verb is the session verb a client sends after the key handshake.
type Verb string

const (
	VerbGet Verb = "GET"
	VerbPut Verb = "PUT"
)

// Control line tokens exchanged during resume negotiation.
const (
	LineCheck = "CHECK"
	LineStart = "START"

	// KeyAccepted and KeyRejected are the handshake reply lines.
	KeyAccepted = "0"
	KeyRejected = "1"

	// DigestMatch and DigestMismatch are consumer replies during the
	// Hash Pipeline's one-line digest exchange.
	DigestMatch    = "0"
	DigestMismatch = "1"

	// MissingFileSize is what a Sender advertises when its source file
	// does not exist.
	MissingFileSize int64 = -1
)

// ParseVerb validates a line against the two legal session verbs.
func ParseVerb(line string) (Verb, error) {
	switch Verb(line) {
	case VerbGet, VerbPut:
		return Verb(line), nil
	default:
		return "", errors.NewProtocolError("parse_verb", fmt.Sprintf("unrecognized verb %q", line), nil)
	}
}

// ReadLine reads one newline-delimited control line, context-aware so a
// session can be aborted while blocked on an idle peer. The trailing
// delimiter is stripped; surrounding whitespace is trimmed.
func ReadLine(ctx context.Context, reader *bufio.Reader) (string, error) {
	line, err := readStringWithContext(ctx, reader, '\n')
	if err != nil {
		return "", errors.NewProtocolError("read_line", "failed to read control line", err)
	}
	return strings.TrimSpace(line), nil
}

// SendLine writes one newline-terminated control line. Callers must not
// pass a string containing '\n'.
func SendLine(writer *bufio.Writer, line string) error {
	if strings.ContainsRune(line, '\n') {
		return errors.NewProtocolError("send_line", "control line must not embed a newline", nil)
	}
	if _, err := writer.WriteString(line + "\n"); err != nil {
		return errors.NewProtocolError("send_line", "failed to write control line", err)
	}
	return nil
}

// ReadInt64 reads a control line and parses it as a base-10 integer.
func ReadInt64(ctx context.Context, reader *bufio.Reader) (int64, error) {
	line, err := ReadLine(ctx, reader)
	if err != nil {
		return 0, err
	}
	val, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, errors.NewProtocolError("read_int64", fmt.Sprintf("invalid integer %q", line), err)
	}
	return val, nil
}

// SendInt64 writes an integer as a decimal control line.
func SendInt64(writer *bufio.Writer, val int64) error {
	return SendLine(writer, strconv.FormatInt(val, 10))
}

// FlushWriter flushes buffered control/tail bytes to the socket.
func FlushWriter(writer *bufio.Writer) error {
	if err := writer.Flush(); err != nil {
		return errors.NewProtocolError("flush", "failed to flush writer", err)
	}
	return nil
}

// readStringWithContext mirrors the rest of this package's I/O helpers:
// the blocking read runs in a goroutine so a cancelled context can
// unblock the caller even though bufio.Reader itself has no deadline.
func readStringWithContext(ctx context.Context, reader *bufio.Reader, delim byte) (string, error) {
	type stringResult struct {
		s   string
		err error
	}

	resultCh := make(chan stringResult, 1)
	readCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		str, err := reader.ReadString(delim)
		select {
		case <-readCtx.Done():
		default:
			resultCh <- stringResult{str, err}
		}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return result.s, result.err
		}
		return result.s, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ReadChunk reads whatever is immediately available into buf (at most
// len(buf) bytes, possibly fewer), context-aware, used for the raw tail
// stream (§4.3/§4.4) where no per-chunk framing exists beyond the
// previously negotiated byte count — callers loop until their target
// count is reached.
func ReadChunk(ctx context.Context, reader *bufio.Reader, buf []byte) (int, error) {
	type readResult struct {
		n   int
		err error
	}

	resultCh := make(chan readResult, 1)
	readCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		n, err := readAtLeastOnce(reader, buf)
		select {
		case <-readCtx.Done():
		default:
			resultCh <- readResult{n, err}
		}
	}()

	select {
	case result := <-resultCh:
		return result.n, result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func readAtLeastOnce(reader *bufio.Reader, buf []byte) (int, error) {
	return reader.Read(buf)
}
