// Package transfer implements the resumable single-file copy: the
// Sender and Receiver roles, the Hash Pipeline that overlaps disk
// hashing with the network digest exchange, and the Session type that
// ties one accepted or dialed connection to a role and a file.
package transfer

import (
	"bufio"
	"net"

	"github.com/google/uuid"

	"resumexfer/internal/config"
	"resumexfer/internal/protocol"
)

// Session is one authenticated TCP exchange: a socket, the verb agreed
// during the handshake, and the local file path it concerns. It
// exclusively owns its connection; the Sender or Receiver running on it
// opens the file, and the Hash Pipeline borrows the socket and that file
// handle only for the duration of validation.
type Session struct {
	ID     string
	Conn   net.Conn
	Reader *bufio.Reader
	Writer *bufio.Writer
	Verb   protocol.Verb
	Path   string
}

// NewSession wraps an established connection with buffered line I/O and
// a correlation id used in every log line emitted for this exchange.
func NewSession(conn net.Conn, verb protocol.Verb, path string) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Conn:   conn,
		Reader: bufio.NewReader(conn),
		Writer: bufio.NewWriter(conn),
		Verb:   verb,
		Path:   path,
	}
}

// Close releases the underlying connection. A Session transfers at most
// one file and is never reused after this.
func (s *Session) Close() error {
	return s.Conn.Close()
}

// HashChunkSize and TransferChunkSize are fixed for the lifetime of a
// session and must match the peer; re-exported here so sender.go and
// receiver.go don't need to import config directly for these two constants.
const (
	HashChunkSize     = config.HashChunkSize
	TransferChunkSize = config.TransferChunkSize
)
