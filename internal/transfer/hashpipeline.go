package transfer

import (
	"context"
	"crypto/md5"
	"encoding"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"resumexfer/internal/config"
	"resumexfer/internal/errors"
	"resumexfer/internal/hashlog"
	"resumexfer/internal/protocol"
)

// HashChunk is one running-digest record handed from the producer to
// the consumer. State is only populated for freshly hashed chunks (not
// ones replayed from a prior log) and carries the hasher's raw internal
// state at this boundary, for persisting alongside Digest so a future
// session can correctly resume hashing past this point. The producer
// closes the channel in place of emitting an explicit sentinel record
// once it stops, whether from reaching the boundary or from the
// consumer flagging a mismatch.
type HashChunk struct {
	Digest string
	State  string
	Size   int64
}

// ConsumerRole selects which half of §4.3/§4.4's one-line digest
// exchange the pipeline's consumer performs.
type ConsumerRole int

const (
	// RoleServerValidator reads the peer's digest and replies match/mismatch
	// — the Sender's role in §4.3.b.
	RoleServerValidator ConsumerRole = iota
	// RoleClientValidator sends the locally computed digest and awaits a
	// reply — the Receiver's role in §4.4.5.
	RoleClientValidator
)

// HashPipeline overlaps local disk hashing with the socket-bound digest
// exchange (§4.5), preserving strict file-offset ordering between the
// two. A single pipeline handles one validation pass for one session.
type HashPipeline struct {
	Session  *Session
	File     *os.File
	Boundary int64 // sender: remote_exist_size; receiver: local file size
	Role     ConsumerRole
	LogPath  string // empty disables the hash log for this session
}

// Result is what a completed validation pass produced.
type Result struct {
	ValidatedSize int64
	Matched       bool // true if no mismatch was ever observed
}

// Run starts the producer and consumer, waits for both to join, and
// returns the validated prefix length. It never returns an error for a
// mismatch — that's a normal outcome (Matched=false) the caller (Sender
// or Receiver) turns into an operator prompt.
func (p *HashPipeline) Run(ctx context.Context) (Result, error) {
	queue := make(chan HashChunk, 4)
	var abort atomic.Bool
	var producerErr error

	var logWriter *hashlog.Writer
	var records []hashlog.Record
	if p.LogPath != "" {
		var err error
		records, err = hashlog.Load(p.LogPath)
		if err != nil {
			return Result{}, err
		}
		logWriter, err = hashlog.Open(p.LogPath)
		if err != nil {
			return Result{}, err
		}
		defer logWriter.Close()
	}

	replayItems, resumeOffset, resumeState := hashlog.Replay(records)
	if resumeOffset > p.Boundary {
		// A stale log outruns the current boundary; ignore it and
		// start fresh rather than feeding the pipeline nonsense.
		replayItems, resumeOffset, resumeState = nil, 0, ""
	}

	// Appends only go past the last boundary already in the log, even
	// when a stale log was not replayed, so the log stays strictly ordered.
	var loggedUpTo int64
	if len(records) > 0 {
		loggedUpTo = records[len(records)-1].Cumulative
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		producerErr = produce(p.File, resumeOffset, resumeState, p.Boundary, replayItems, queue, &abort)
	}()

	result, consumeErr := p.consume(ctx, queue, logWriter, loggedUpTo, &abort)
	wg.Wait()

	if consumeErr != nil {
		return Result{}, consumeErr
	}
	if producerErr != nil {
		return Result{}, producerErr
	}
	return result, nil
}

// produce owns the file cursor: it seeds replayed chunks into the queue
// first, then reads forward in config.HashChunkSize slices (the final
// slice at the boundary may be shorter), updating a single running MD5
// context, until the boundary is reached or abort is set.
func produce(file *os.File, startOffset int64, resumeState string, boundary int64, replay []hashlog.ReplayItem, queue chan<- HashChunk, abort *atomic.Bool) error {
	defer close(queue)

	for _, item := range replay {
		if abort.Load() {
			return nil
		}
		queue <- HashChunk{Digest: item.Digest, Size: item.Delta}
	}

	if startOffset > 0 {
		if _, err := file.Seek(startOffset, io.SeekStart); err != nil {
			return errors.NewFileSystemError("seek", file.Name(), err)
		}
	}

	runner := newRunningDigest(resumeState)

	offset := startOffset
	buf := make([]byte, config.HashChunkSize)
	for offset < boundary {
		if abort.Load() {
			return nil
		}

		want := boundary - offset
		if want > config.HashChunkSize {
			want = config.HashChunkSize
		}

		n, err := io.ReadFull(file, buf[:want])
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return errors.NewFileSystemError("read", file.Name(), err)
		}
		if n == 0 {
			break
		}

		digest, state, err := runner.update(buf[:n])
		if err != nil {
			return err
		}
		offset += int64(n)

		queue <- HashChunk{Digest: digest, State: state, Size: int64(n)}
	}

	return nil
}

// runningDigest wraps an md5.Hash so produce doesn't need to know
// whether it started fresh or resumed from a hash-log state.
type runningDigest struct {
	h hashHasher
}

type hashHasher interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
	encoding.BinaryMarshaler
}

// newMD5 asserts that crypto/md5's hash.Hash also implements
// MarshalBinary, same as hashlog.md5StateSize does at init — true of
// every Go release this module targets.
func newMD5() hashHasher {
	hh, ok := md5.New().(hashHasher)
	if !ok {
		panic("transfer: crypto/md5 hash does not implement MarshalBinary")
	}
	return hh
}

func newRunningDigest(resumeState string) *runningDigest {
	if resumeState == "" {
		return &runningDigest{h: newMD5()}
	}
	h, err := hashlog.ResumeHash(resumeState)
	if err != nil {
		// A corrupt seed state cannot safely continue; Load already
		// validates state records, so reaching this is equivalent to a
		// corrupt log line slipping through, and a fresh context would
		// produce a wrong cumulative digest that the wire exchange will
		// simply report as a mismatch rather than desync silently.
		return &runningDigest{h: newMD5()}
	}
	hh, ok := h.(hashHasher)
	if !ok {
		return &runningDigest{h: newMD5()}
	}
	return &runningDigest{h: hh}
}

// update writes p onto the running hasher and returns both the
// finalized digest of everything hashed so far (for the wire exchange
// and for display) and the hasher's raw pre-finalization state (for
// persisting to the hash log so a later session can resume hashing
// from exactly this point).
func (r *runningDigest) update(p []byte) (digest, state string, err error) {
	r.h.Write(p)
	digest = fmt.Sprintf("%x", r.h.Sum(nil))

	raw, err := r.h.MarshalBinary()
	if err != nil {
		return "", "", fmt.Errorf("capturing md5 state: %w", err)
	}
	state = hex.EncodeToString(raw)

	return digest, state, nil
}

// consume owns the socket for the duration of validation, performing
// the one-line exchange for every chunk the producer emits, in order.
// loggedUpTo is the last boundary the log already records (covering
// every chunk replayed from it); chunks up to there are re-validated
// against the peer but not re-appended to the log.
func (p *HashPipeline) consume(ctx context.Context, queue <-chan HashChunk, logWriter *hashlog.Writer, loggedUpTo int64, abort *atomic.Bool) (Result, error) {
	var validatedSize int64
	matched := true
	var loopErr error

	for chunk := range queue {
		ok, err := p.exchange(ctx, chunk.Digest)
		if err != nil {
			loopErr = err
			abort.Store(true)
			break
		}
		if !ok {
			matched = false
			abort.Store(true)
			break
		}

		validatedSize += chunk.Size

		if logWriter != nil && validatedSize%config.HashChunkSize == 0 && validatedSize > loggedUpTo {
			if err := logWriter.Append(validatedSize, chunk.Digest, chunk.State); err != nil {
				loopErr = err
				abort.Store(true)
				break
			}
		}
	}

	// Drain any chunks still in flight after a mismatch or an error so the
	// producer goroutine is never left blocked on a full, abandoned channel.
	for range queue {
	}

	if loopErr != nil {
		return Result{}, loopErr
	}
	return Result{ValidatedSize: validatedSize, Matched: matched}, nil
}

func (p *HashPipeline) exchange(ctx context.Context, localDigest string) (bool, error) {
	switch p.Role {
	case RoleServerValidator:
		peerDigest, err := protocol.ReadLine(ctx, p.Session.Reader)
		if err != nil {
			return false, err
		}
		if peerDigest == localDigest {
			if err := protocol.SendLine(p.Session.Writer, protocol.DigestMatch); err != nil {
				return false, err
			}
			return true, protocol.FlushWriter(p.Session.Writer)
		}
		if err := protocol.SendLine(p.Session.Writer, protocol.DigestMismatch); err != nil {
			return false, err
		}
		return false, protocol.FlushWriter(p.Session.Writer)

	case RoleClientValidator:
		if err := protocol.SendLine(p.Session.Writer, localDigest); err != nil {
			return false, err
		}
		if err := protocol.FlushWriter(p.Session.Writer); err != nil {
			return false, err
		}
		reply, err := protocol.ReadLine(ctx, p.Session.Reader)
		if err != nil {
			return false, err
		}
		return reply == protocol.DigestMatch, nil

	default:
		return false, errors.NewProtocolError("hash_exchange", "unknown consumer role", nil)
	}
}
