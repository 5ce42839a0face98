package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumexfer/internal/config"
	"resumexfer/internal/protocol"
	"resumexfer/internal/server"
)

func TestModeVerb(t *testing.T) {
	get, err := modeVerb(config.ModeGet)
	require.NoError(t, err)
	assert.Equal(t, protocol.VerbGet, get)

	put, err := modeVerb(config.ModePut)
	require.NoError(t, err)
	assert.Equal(t, protocol.VerbPut, put)

	_, err = modeVerb(config.ModeLs)
	require.Error(t, err)
}

func startTestServer(t *testing.T, cfg *config.Config) context.CancelFunc {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = server.Run(ctx, cfg) }()

	addr := ln.Addr().String()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return cancel
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	t.Fatalf("server never became reachable on %s", addr)
	return cancel
}

func TestRunPutMissingLocalFileReportsError(t *testing.T) {
	srvCfg := &config.Config{Key: "shared-secret"}
	defer startTestServer(t, srvCfg)()

	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.bin")

	cliCfg := &config.Config{Address: "127.0.0.1", Port: srvCfg.Port, Key: "shared-secret", Mode: config.ModePut}
	err := Run(context.Background(), cliCfg, path)
	require.Error(t, err)
}

func TestRunDialFailureReturnsNetworkError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	cliCfg := &config.Config{Address: "127.0.0.1", Port: 1, Key: "k", Mode: config.ModeGet}
	err := Run(context.Background(), cliCfg, path)
	require.Error(t, err)
}
