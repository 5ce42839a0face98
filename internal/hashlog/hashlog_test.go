package hashlog

import (
	"crypto/md5"
	"encoding"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumexfer/internal/config"
)

func digestOf(data []byte) string {
	sum := md5.Sum(data)
	return fmt.Sprintf("%x", sum)
}

// stateAfter returns the hex-encoded raw MarshalBinary state of an md5
// hasher that has consumed exactly data, the same shape hashpipeline.go
// captures at a chunk boundary.
func stateAfter(t *testing.T, data []byte) string {
	t.Helper()
	h := md5.New()
	_, err := h.Write(data)
	require.NoError(t, err)
	raw, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	require.NoError(t, err)
	return hex.EncodeToString(raw)
}

func TestLoadMissingFile(t *testing.T) {
	records, err := Load(filepath.Join(t.TempDir(), "nope.hashlog"))
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin.hashlog")

	w, err := Open(path)
	require.NoError(t, err)

	first := make([]byte, config.HashChunkSize)
	second := append(append([]byte{}, first...), make([]byte, config.HashChunkSize)...)

	require.NoError(t, w.Append(config.HashChunkSize, digestOf(first), stateAfter(t, first)))
	require.NoError(t, w.Append(2*config.HashChunkSize, digestOf(second), stateAfter(t, second)))
	require.NoError(t, w.Close())

	records, err := Load(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(config.HashChunkSize), records[0].Cumulative)
	assert.Equal(t, int64(2*config.HashChunkSize), records[1].Cumulative)
	assert.NotEmpty(t, records[0].State)
	assert.NotEqual(t, records[0].State, records[1].State)
}

func TestLoadRejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hashlog")
	require.NoError(t, os.WriteFile(path, []byte("not-a-valid-line\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNonAlignedCumulative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "misaligned.hashlog")
	line := fmt.Sprintf("123\t%s\t%s\n", digestOf([]byte("x")), stateAfter(t, []byte("x")))
	require.NoError(t, os.WriteFile(path, []byte(line), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsTruncatedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short-state.hashlog")
	line := fmt.Sprintf("%d\t%s\tdeadbeef\n", config.HashChunkSize, digestOf([]byte("x")))
	require.NoError(t, os.WriteFile(path, []byte(line), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	records := []Record{
		{Cumulative: config.HashChunkSize, Digest: "a", State: "state-a"},
		{Cumulative: 2 * config.HashChunkSize, Digest: "b", State: "state-b"},
	}

	items, offset, state := Replay(records)
	require.Len(t, items, 2)
	assert.Equal(t, int64(config.HashChunkSize), items[0].Delta)
	assert.Equal(t, int64(config.HashChunkSize), items[1].Delta)
	assert.Equal(t, int64(2*config.HashChunkSize), offset)
	assert.Equal(t, "state-b", state)
}

func TestReplayEmpty(t *testing.T) {
	items, offset, state := Replay(nil)
	assert.Nil(t, items)
	assert.Equal(t, int64(0), offset)
	assert.Equal(t, "", state)
}

func TestResumeHashContinuesDigest(t *testing.T) {
	part1 := make([]byte, 37)
	for i := range part1 {
		part1[i] = byte(i)
	}
	part2 := make([]byte, 19)
	for i := range part2 {
		part2[i] = byte(200 + i)
	}

	resumed, err := ResumeHash(stateAfter(t, part1))
	require.NoError(t, err)
	_, _ = resumed.Write(part2)
	gotFull := fmt.Sprintf("%x", resumed.Sum(nil))

	wantFull := digestOf(append(append([]byte{}, part1...), part2...))
	assert.Equal(t, wantFull, gotFull)
}

// TestResumeHashBlockAlignedPrefix exercises a prefix that's an exact
// multiple of MD5's 64-byte block size, matching where a real hash-chunk
// boundary lands — the case where a finalized-digest reconstruction
// would most plausibly "accidentally" work if it were going to.
func TestResumeHashBlockAlignedPrefix(t *testing.T) {
	part1 := make([]byte, 256)
	for i := range part1 {
		part1[i] = byte(i)
	}
	part2 := make([]byte, 19)
	for i := range part2 {
		part2[i] = byte(90 + i)
	}

	resumed, err := ResumeHash(stateAfter(t, part1))
	require.NoError(t, err)
	_, _ = resumed.Write(part2)
	gotFull := fmt.Sprintf("%x", resumed.Sum(nil))

	wantFull := digestOf(append(append([]byte{}, part1...), part2...))
	assert.Equal(t, wantFull, gotFull)
}
