/*
Copyright 2025 Yousaf Gill. All rights reserved.
Use of this source code is governed by the MIT license
that can be found in the LICENSE file.

resumexfer is a resumable network file transfer utility: a client dials a
server, the two sides validate however much of a partial file already
matches using a running-MD5 hash pipeline, and only the unvalidated tail
crosses the wire.

The program operates in two modes:

1. Server Mode: a long-lived listener accepting one session per connection

2. Client Mode: dials a server and acts as Sender (put) or Receiver (get)
*/
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"resumexfer/internal/client"
	"resumexfer/internal/config"
	"resumexfer/internal/logging"
	"resumexfer/internal/server"
)

func main() {
	if err := logging.SetupLogger(); err != nil {
		slog.Error("Failed to setup logging", "error", err)
		os.Exit(1)
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}
	logging.LogConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.IsServer() {
		if err := server.Run(ctx, cfg); err != nil && ctx.Err() == nil {
			logging.LogError(err, "server")
			os.Exit(1)
		}
		return
	}

	if cfg.File == "" {
		runInteractiveClient(ctx, cfg)
		return
	}

	if err := client.Run(ctx, cfg, cfg.File); err != nil {
		logging.LogError(err, "client")
		os.Exit(1)
	}
}

// runInteractiveClient mirrors the original tool's "Input File Name"
// prompt loop: with no -f given, it keeps asking for a path and dialing
// a fresh session for each one until a blank line is entered. Each
// entry is its own session and connection (spec §3: a session transfers
// at most one file and its connection is never reused), so this loop
// dials anew per file rather than literally keeping one socket open.
func runInteractiveClient(ctx context.Context, cfg *config.Config) {
	stdin := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("Input File Name: ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			return
		}

		path := strings.TrimSpace(line)
		if path == "" {
			return
		}

		if err := client.Run(ctx, cfg, path); err != nil {
			logging.LogError(err, "client")
		}
	}
}
