// Package server implements the Listener half of session establishment
// (spec §4.2, §2): accept loop, key handshake, verb dispatch to
// transfer.Sender/Receiver.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"resumexfer/internal/config"
	"resumexfer/internal/errors"
	"resumexfer/internal/logging"
	"resumexfer/internal/network"
	"resumexfer/internal/protocol"
	"resumexfer/internal/transfer"
)

// Run starts the listener and serves connections until it's closed or
// the process is interrupted; each accepted connection handles exactly
// one session (spec §3: "each session transfers at most one file").
func Run(ctx context.Context, cfg *config.Config) error {
	addr := fmt.Sprintf(":%d", cfg.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewNetworkError("listen", addr, err)
	}
	defer listener.Close()

	slog.Info("Server ready to accept connections", "address", addr)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Failed to accept connection", "error", err)
			continue
		}

		go handleConnection(conn, cfg)
	}
}

// handleConnection runs one session end to end: handshake, verb
// dispatch, and the Sender/Receiver protocol, logging but not
// propagating errors since a listener outlives any single client.
func handleConnection(conn net.Conn, cfg *config.Config) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	slog.Info("New connection", "remote_addr", remoteAddr)

	if err := conn.SetDeadline(time.Time{}); err != nil {
		slog.Error("Failed to disable connection deadline", "error", err)
		return
	}
	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	ctx := context.Background()

	key, err := protocol.ReadLine(ctx, reader)
	if err != nil {
		slog.Error("Failed to read key", "remote_addr", remoteAddr, "error", err)
		return
	}

	if key != cfg.Key {
		slog.Warn("Rejected bad key", "remote_addr", remoteAddr)
		protocol.SendLine(writer, protocol.KeyRejected)
		protocol.FlushWriter(writer)
		logging.LogError(errors.NewAuthError(remoteAddr), "handshake")
		return
	}

	if err := protocol.SendLine(writer, protocol.KeyAccepted); err != nil {
		slog.Error("Failed to send key acceptance", "error", err)
		return
	}
	if err := protocol.FlushWriter(writer); err != nil {
		slog.Error("Failed to flush key acceptance", "error", err)
		return
	}

	verbLine, err := protocol.ReadLine(ctx, reader)
	if err != nil {
		slog.Error("Failed to read verb", "remote_addr", remoteAddr, "error", err)
		return
	}
	verb, err := protocol.ParseVerb(verbLine)
	if err != nil {
		logging.LogError(err, "handshake")
		return
	}

	path, err := protocol.ReadLine(ctx, reader)
	if err != nil {
		slog.Error("Failed to read filename", "remote_addr", remoteAddr, "error", err)
		return
	}

	session := transfer.NewSession(conn, verb, path)
	session.Reader = reader
	session.Writer = writer

	switch verb {
	case protocol.VerbGet:
		sender := &transfer.Sender{Session: session, UseHashLog: cfg.HashLog}
		if err := sender.Run(ctx); err != nil {
			logging.LogError(err, "sender")
		}

	case protocol.VerbPut:
		totalSize, err := protocol.ReadInt64(ctx, reader)
		if err != nil {
			slog.Error("Failed to read total_size", "remote_addr", remoteAddr, "error", err)
			return
		}
		receiver := &transfer.Receiver{Session: session, TotalSize: totalSize, UseHashLog: cfg.HashLog}
		if err := receiver.Run(ctx); err != nil {
			logging.LogError(err, "receiver")
		}
	}
}
