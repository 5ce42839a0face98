package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"resumexfer/internal/config"
	"resumexfer/internal/errors"
	"resumexfer/internal/filesystem"
)

// SetupLogger initializes structured logging with file and console output.
func SetupLogger() error {
	if err := filesystem.EnsureDirectoryExists("logs"); err != nil {
		return err
	}

	logFileName := filepath.Join("logs",
		"resumexfer_"+time.Now().Format("20060102_150405")+".log")

	logFile, err := os.Create(logFileName)
	if err != nil {
		slog.Warn("Failed to create log file, using console only", "error", err)
		return nil
	}

	multiWriter := io.MultiWriter(os.Stdout, logFile)

	opts := &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: true,
	}

	handler := slog.NewTextHandler(multiWriter, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Logging initialized", "log_file", logFileName)
	return nil
}

// LogConfig logs the current configuration.
func LogConfig(cfg *config.Config) {
	if cfg.IsServer() {
		slog.Info("Configuration loaded", "role", "server", "port", cfg.Port, "hash_log", cfg.HashLog)
		return
	}

	slog.Info("Configuration loaded",
		"role", "client",
		"mode", cfg.Mode,
		"address", cfg.Address,
		"port", cfg.Port,
		"file", cfg.File,
		"hash_log", cfg.HashLog)
}

// LogError logs an error with appropriate context.
func LogError(err error, context string) {
	switch e := err.(type) {
	case *errors.NetworkError:
		slog.Error("Network error", "context", context, "operation", e.Op, "address", e.Addr, "error", e.Err)
	case *errors.FileSystemError:
		slog.Error("File system error", "context", context, "operation", e.Op, "path", e.Path, "error", e.Err)
	case *errors.ProtocolError:
		slog.Error("Protocol error", "context", context, "operation", e.Op, "message", e.Message, "error", e.Err)
	case *errors.ValidationError:
		slog.Error("Validation error", "context", context, "field", e.Field, "value", e.Value, "message", e.Message)
	case *errors.AuthError:
		slog.Error("Authentication error", "context", context, "addr", e.Addr)
	case *errors.HashLogError:
		slog.Error("Hash log error", "context", context, "path", e.Path, "line", e.Line, "error", e.Err)
	default:
		slog.Error("Unhandled error", "context", context, "error", err)
	}
}

// LogSessionStart logs the beginning of a transfer session.
func LogSessionStart(sessionID, role, verb, filename string, fileSize int64) {
	slog.Info("Session started",
		"session_id", sessionID,
		"role", role,
		"verb", verb,
		"file", filename,
		"file_size_mb", float64(fileSize)/(1024*1024))
}

// LogResumeOutcome logs the result of prefix validation for one session.
func LogResumeOutcome(sessionID string, existSize, validatedSize int64, matched bool) {
	slog.Info("Resume validation complete",
		"session_id", sessionID,
		"exist_size", existSize,
		"validated_size", validatedSize,
		"fully_matched", matched)
}

// LogTransferComplete logs successful transfer completion.
func LogTransferComplete(sessionID, filename string, size int64, duration time.Duration) {
	var rateMBps float64
	if duration > 0 {
		rateMBps = float64(size) / (1024 * 1024) / duration.Seconds()
	}
	slog.Info("Transfer completed successfully",
		"session_id", sessionID,
		"filename", filename,
		"size_mb", float64(size)/(1024*1024),
		"duration", duration.Round(time.Second),
		"average_rate_mbps", rateMBps)
}

// Warning prints a boxed banner ahead of an operator prompt, matching
// the original tool's warning() helper.
func Warning(msg string) {
	border := "################################"
	fmt.Println(border)
	fmt.Println("Warning.")
	fmt.Println(msg)
	fmt.Println(border)
}
