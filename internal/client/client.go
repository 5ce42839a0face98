// Package client implements the Dialer half of session establishment
// (spec §4.2): connect, exchange the pre-shared key, send the verb and
// filename, then hand the connection to transfer.Sender/Receiver.
package client

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"resumexfer/internal/config"
	"resumexfer/internal/errors"
	"resumexfer/internal/filesystem"
	"resumexfer/internal/network"
	"resumexfer/internal/protocol"
	"resumexfer/internal/transfer"
)

// Run dials the server, performs the handshake for one file, and blocks
// until that transfer completes or fails.
func Run(ctx context.Context, cfg *config.Config, path string) error {
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return errors.NewNetworkError("dial", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return errors.NewNetworkError("set_deadline", addr, err)
	}
	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	if err := protocol.SendLine(writer, cfg.Key); err != nil {
		return err
	}
	if err := protocol.FlushWriter(writer); err != nil {
		return err
	}

	reply, err := protocol.ReadLine(ctx, reader)
	if err != nil {
		return err
	}
	if reply != protocol.KeyAccepted {
		slog.Error("Bad key")
		return errors.NewAuthError(addr)
	}

	verb, err := modeVerb(cfg.Mode)
	if err != nil {
		return err
	}

	if err := protocol.SendLine(writer, string(verb)); err != nil {
		return err
	}
	if err := protocol.SendLine(writer, path); err != nil {
		return err
	}

	session := transfer.NewSession(conn, verb, path)
	session.Reader = reader
	session.Writer = writer

	switch verb {
	case protocol.VerbGet:
		// The GET handshake carries no extra line; the peer's Sender
		// advertises file_size as the first line of its own protocol.
		if err := protocol.FlushWriter(writer); err != nil {
			return err
		}
		size, err := protocol.ReadInt64(ctx, reader)
		if err != nil {
			return err
		}
		receiver := &transfer.Receiver{Session: session, TotalSize: size, UseHashLog: cfg.HashLog}
		return receiver.Run(ctx)

	case protocol.VerbPut:
		// PUT carries total_size as an extra handshake line (§4.2 step
		// 5); the Sender below must not re-advertise it.
		info, statErr := filesystem.Stat(path)
		if statErr != nil {
			return statErr
		}
		if err := protocol.SendInt64(writer, info.Size); err != nil {
			return err
		}
		if err := protocol.FlushWriter(writer); err != nil {
			return err
		}
		sender := &transfer.Sender{Session: session, UseHashLog: cfg.HashLog, PreAdvertised: true}
		return sender.Run(ctx)

	default:
		return errors.NewProtocolError("client_verb", "unsupported verb", nil)
	}
}

func modeVerb(mode config.Mode) (protocol.Verb, error) {
	switch mode {
	case config.ModeGet:
		return protocol.VerbGet, nil
	case config.ModePut:
		return protocol.VerbPut, nil
	default:
		return "", errors.NewValidationError("mode", mode, "unsupported client mode")
	}
}
