package network

import (
	"log/slog"
	"net"
	"time"

	"resumexfer/internal/errors"
)

const tcpBufferSize = 1024 * 1024 // 1 MiB

// OptimizeTCPConnection applies TCP optimizations to a connection: these
// only tune the socket, they never touch bytes that cross the wire, so
// they stay legal under the byte-exact transfer protocol.
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil
	}

	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewNetworkError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	if err := tcpConn.SetNoDelay(true); err != nil {
		slog.Warn("Failed to disable Nagle's algorithm", "error", err)
	}

	if err := tcpConn.SetReadBuffer(tcpBufferSize); err != nil {
		slog.Warn("Failed to set TCP read buffer", "error", err)
	}

	if err := tcpConn.SetWriteBuffer(tcpBufferSize); err != nil {
		slog.Warn("Failed to set TCP write buffer", "error", err)
	}

	return nil
}

// RateTracker smooths an instantaneous byte rate with an exponential
// moving average, the way the original bandwidth estimator smoothed its
// transfer rate, repurposed here to feed the progress reporter's
// speed readout instead of an adaptive send delay.
type RateTracker struct {
	lastSample time.Time
	avgRate    float64 // bytes/sec
}

// NewRateTracker returns a tracker with its clock started now.
func NewRateTracker() *RateTracker {
	return &RateTracker{lastSample: time.Now()}
}

// Update folds n bytes transferred since the previous call into the
// moving average and returns the current smoothed rate in bytes/sec.
func (r *RateTracker) Update(n int64) float64 {
	now := time.Now()
	elapsed := now.Sub(r.lastSample)
	r.lastSample = now

	if elapsed <= 0 {
		return r.avgRate
	}

	current := float64(n) / elapsed.Seconds()
	if r.avgRate == 0 {
		r.avgRate = current
	} else {
		r.avgRate = 0.7*r.avgRate + 0.3*current
	}

	return r.avgRate
}
