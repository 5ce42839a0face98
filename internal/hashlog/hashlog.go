// Package hashlog persists and replays the per-file running-MD5 prefix
// records that let a resumed session skip re-hashing a validated prefix
// across separate invocations of the tool.
package hashlog

import (
	"bufio"
	"crypto/md5"
	"encoding"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"strconv"
	"strings"

	"resumexfer/internal/config"
	"resumexfer/internal/errors"
)

// md5StateSize is the length of the byte slice crypto/md5's hash.Hash
// produces from MarshalBinary, measured at runtime instead of hardcoded
// so Load checks state records against the length this build's stdlib
// actually produces; records whose state has any other length are
// rejected as corrupt.
var md5StateSize = func() int {
	data, err := md5.New().(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		panic("hashlog: md5.New() does not support MarshalBinary: " + err.Error())
	}
	return len(data)
}()

// Record is one line of the log: the running MD5 of bytes [0, Cumulative)
// equals Digest, and State is the hasher's raw internal state at that
// same boundary (crypto/md5's MarshalBinary output, hex-encoded).
// Digest alone cannot seed further hashing — a finalized digest already
// has MD5's length padding baked in, so writing more bytes onto a hasher
// reconstructed from it would compute MD5(prefix || padding || tail)
// instead of the true MD5(prefix || tail). State is what makes resuming
// the running digest across sessions correct; Digest exists for the
// wire exchange, which only ever compares finalized digests of equal
// prefixes. Records are strictly ordered by Cumulative, and Cumulative
// is always a multiple of config.HashChunkSize — the final short chunk
// of a file is never recorded.
type Record struct {
	Cumulative int64
	Digest     string
	State      string
}

// PathFor returns the side-file path for a data file.
func PathFor(dataPath string) string {
	return dataPath + config.HashLogSuffix
}

// Load reads and validates every record in path. A missing file returns
// an empty slice and no error — that's the normal "no prior log" case.
// A present-but-corrupt file is a fatal error for the session per §4.6.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewFileSystemError("open_hashlog", path, err)
	}
	defer f.Close()

	var records []Record
	var prev int64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		rec, err := parseLine(line)
		if err != nil {
			return nil, errors.NewHashLogError(path, line, err)
		}
		if rec.Cumulative <= prev && len(records) > 0 {
			return nil, errors.NewHashLogError(path, line, fmt.Errorf("cumulative bytes %d not strictly increasing after %d", rec.Cumulative, prev))
		}
		if rec.Cumulative%config.HashChunkSize != 0 {
			return nil, errors.NewHashLogError(path, line, fmt.Errorf("cumulative bytes %d is not a multiple of the hash chunk size", rec.Cumulative))
		}

		records = append(records, rec)
		prev = rec.Cumulative
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewFileSystemError("read_hashlog", path, err)
	}

	return records, nil
}

func parseLine(line string) (Record, error) {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) != 3 {
		return Record{}, fmt.Errorf("expected three tab-separated fields, got %d", len(fields))
	}

	cumulative, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid cumulative byte count: %w", err)
	}

	digest := fields[1]
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != md5.Size*2 {
		return Record{}, fmt.Errorf("invalid hex md5 digest %q", digest)
	}

	state := fields[2]
	stateBytes, err := hex.DecodeString(state)
	if err != nil || len(stateBytes) != md5StateSize {
		return Record{}, fmt.Errorf("invalid md5 state %q", state)
	}

	return Record{Cumulative: cumulative, Digest: digest, State: state}, nil
}

// Writer appends chunk-boundary records to a side-file as a session
// validates or hashes them. The zero value is not usable; call Open.
type Writer struct {
	f *os.File
}

// Open opens (creating if needed) the side-file for append-only writes.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.NewFileSystemError("open_hashlog", path, err)
	}
	return &Writer{f: f}, nil
}

// Append durably records that the running digest of bytes [0, cumulative)
// is digest, with state the hasher's raw internal state at that same
// boundary. Per §4.6's durability invariant, the caller must only call
// this after the corresponding chunk has been locally computed (sender)
// or acknowledged by the peer (receiver).
func (w *Writer) Append(cumulative int64, digest, state string) error {
	line := fmt.Sprintf("%d\t%s\t%s\n", cumulative, digest, state)
	if _, err := w.f.WriteString(line); err != nil {
		return errors.NewFileSystemError("append_hashlog", w.f.Name(), err)
	}
	return w.f.Sync()
}

// Close releases the underlying file handle.
func (w *Writer) Close() error {
	return w.f.Close()
}

// ReplayItem is one pre-validated chunk reconstructed from the log, fed
// directly into a HashPipeline queue ahead of any freshly hashed chunks.
type ReplayItem struct {
	Digest string
	Delta  int64
}

// Replay converts a loaded record set into pipeline-ready items, and
// reports the offset the producer should seek to and the raw hasher
// state it should adopt before hashing forward from there.
func Replay(records []Record) (items []ReplayItem, resumeOffset int64, resumeState string) {
	var prev int64
	for _, rec := range records {
		items = append(items, ReplayItem{Digest: rec.Digest, Delta: rec.Cumulative - prev})
		prev = rec.Cumulative
	}
	if len(records) == 0 {
		return nil, 0, ""
	}
	last := records[len(records)-1]
	return items, last.Cumulative, last.State
}

// ResumeHash reconstructs the live md5.Hash that produced stateHex via
// MarshalBinary, so Write-ing further bytes onto it continues the exact
// same running digest the log recorded. This only works because state
// is captured from the hasher before finalization — a finalized digest
// has MD5's length padding already folded in and cannot be un-padded,
// so it can never seed further hashing correctly.
func ResumeHash(stateHex string) (hash.Hash, error) {
	raw, err := hex.DecodeString(stateHex)
	if err != nil {
		return nil, fmt.Errorf("invalid md5 state %q: %w", stateHex, err)
	}

	h := md5.New()
	unmarshaler, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, fmt.Errorf("md5 implementation does not support state resumption")
	}
	if err := unmarshaler.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("restoring md5 state: %w", err)
	}

	return h, nil
}
