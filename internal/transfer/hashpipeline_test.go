package transfer

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"resumexfer/internal/config"
	"resumexfer/internal/hashlog"
	"resumexfer/internal/protocol"
)

func TestHashPipelineWritesLog(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	dstPath := filepath.Join(dir, "dest.bin")

	content := make([]byte, 12*1024*1024)
	for i := range content {
		content[i] = byte(i*7 + 3)
	}
	require.NoError(t, os.WriteFile(srcPath, content, 0644))
	require.NoError(t, os.WriteFile(dstPath, content[:7*1024*1024], 0644))

	senderSession, receiverSession := runPair(t, srcPath, dstPath)
	defer senderSession.Close()
	defer receiverSession.Close()

	sender := &Sender{Session: senderSession, Silent: true, UseHashLog: true}
	receiver := &Receiver{Session: receiverSession, Silent: true, UseHashLog: true}

	done := make(chan error, 1)
	go func() { done <- sender.Run(context.Background()) }()

	size, err := protocol.ReadInt64(context.Background(), receiverSession.Reader)
	require.NoError(t, err)
	receiver.TotalSize = size

	require.NoError(t, receiver.Run(context.Background()))
	require.NoError(t, <-done)

	senderRecords, err := hashlog.Load(hashlog.PathFor(srcPath))
	require.NoError(t, err)
	require.Len(t, senderRecords, 1)
	require.Equal(t, int64(config.HashChunkSize), senderRecords[0].Cumulative)

	receiverRecords, err := hashlog.Load(hashlog.PathFor(dstPath))
	require.NoError(t, err)
	require.Len(t, receiverRecords, 1)
}

// TestHashPipelineResumesAcrossSessions runs two independent pipeline
// passes over the same on-disk hash log, as two separate invocations of
// the tool would. The validator side (LogPath set) only ever hashes
// forward from whatever the log last recorded; the peer (no LogPath)
// always hashes the full range from scratch as ground truth. If
// resuming the running digest from the log ever desyncs from a true
// cumulative hash, the second pass's digest exchange reports a
// mismatch and Matched comes back false.
func TestHashPipelineResumesAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	logPath := hashlog.PathFor(path)

	total := int64(2*config.HashChunkSize + 37)
	content := make([]byte, total)
	for i := range content {
		content[i] = byte(i*31 + 7)
	}
	require.NoError(t, os.WriteFile(path, content, 0644))

	runPass := func(boundary int64) Result {
		serverConn, clientConn := net.Pipe()
		defer serverConn.Close()
		defer clientConn.Close()

		serverSession := NewSession(serverConn, protocol.VerbGet, path)
		clientSession := NewSession(clientConn, protocol.VerbGet, path)

		validatorFile, err := os.Open(path)
		require.NoError(t, err)
		defer validatorFile.Close()
		truthFile, err := os.Open(path)
		require.NoError(t, err)
		defer truthFile.Close()

		validator := &HashPipeline{Session: serverSession, File: validatorFile, Boundary: boundary, Role: RoleServerValidator, LogPath: logPath}
		truth := &HashPipeline{Session: clientSession, File: truthFile, Boundary: boundary, Role: RoleClientValidator}

		results := make(chan Result, 2)
		errs := make(chan error, 2)

		go func() {
			r, err := validator.Run(context.Background())
			results <- r
			errs <- err
		}()
		go func() {
			r, err := truth.Run(context.Background())
			results <- r
			errs <- err
		}()

		r1, r2 := <-results, <-results
		err1, err2 := <-errs, <-errs
		require.NoError(t, err1)
		require.NoError(t, err2)
		require.Equal(t, r1.ValidatedSize, r2.ValidatedSize)
		require.Equal(t, r1.Matched, r2.Matched)

		return r1
	}

	first := runPass(config.HashChunkSize)
	require.True(t, first.Matched)
	require.Equal(t, int64(config.HashChunkSize), first.ValidatedSize)

	records, err := hashlog.Load(logPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(config.HashChunkSize), records[0].Cumulative)

	second := runPass(total)
	require.True(t, second.Matched, "resumed digest desynced from a from-scratch hash of the same bytes")
	require.Equal(t, total, second.ValidatedSize)

	records, err = hashlog.Load(logPath)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(config.HashChunkSize), records[0].Cumulative)
	require.Equal(t, int64(2*config.HashChunkSize), records[1].Cumulative)
}

func TestHashPipelineDirectRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	content := make([]byte, 3*1024*1024)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, content, 0644))

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverSession := NewSession(serverConn, protocol.VerbGet, path)
	clientSession := NewSession(clientConn, protocol.VerbGet, path)

	file1, err := os.Open(path)
	require.NoError(t, err)
	defer file1.Close()
	file2, err := os.Open(path)
	require.NoError(t, err)
	defer file2.Close()

	serverPipeline := &HashPipeline{Session: serverSession, File: file1, Boundary: int64(len(content)), Role: RoleServerValidator}
	clientPipeline := &HashPipeline{Session: clientSession, File: file2, Boundary: int64(len(content)), Role: RoleClientValidator}

	results := make(chan Result, 2)
	errs := make(chan error, 2)

	go func() {
		r, err := serverPipeline.Run(context.Background())
		results <- r
		errs <- err
	}()
	go func() {
		r, err := clientPipeline.Run(context.Background())
		results <- r
		errs <- err
	}()

	r1, r2 := <-results, <-results
	err1, err2 := <-errs, <-errs
	require.NoError(t, err1)
	require.NoError(t, err2)

	require.True(t, r1.Matched)
	require.True(t, r2.Matched)
	require.Equal(t, int64(len(content)), r1.ValidatedSize)
	require.Equal(t, int64(len(content)), r2.ValidatedSize)
}
