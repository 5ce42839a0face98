// Package progress renders best-effort, carriage-return-rewound status
// lines for the validation and tail-streaming phases of a transfer. It
// has no effect on transfer correctness and may be silenced entirely.
package progress

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"resumexfer/internal/network"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// formatSize scales a byte count to the largest unit <= value using a
// binary (1024) factor, mirroring the original tool's get_size_str.
func formatSize(bytes float64) string {
	unit := 0
	for bytes >= 1024 && unit < len(sizeUnits)-1 {
		bytes /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f%s", bytes, sizeUnits[unit])
}

var timeUnits = []string{"s", "min", "h", "d", "m", "y"}
var timeScales = []float64{60, 60, 24, 30, 12}

// formatDuration scales a second count up through minutes, hours, days,
// months and years, mirroring the original tool's get_time_str.
func formatDuration(seconds float64) string {
	unit := 0
	for unit < len(timeScales) && seconds >= timeScales[unit] {
		seconds /= timeScales[unit]
		unit++
	}
	return fmt.Sprintf("%.1f%s", seconds, timeUnits[unit])
}

// Phase names the two stages that report progress independently, since
// their totals (validated prefix vs. remaining tail) differ.
type Phase string

const (
	PhaseValidate Phase = "validating"
	PhaseTransfer Phase = "transferring"
)

// Reporter drives one progressbar.ProgressBar for the current phase and
// tracks instantaneous speed via an exponential moving average.
type Reporter struct {
	total       int64
	transferred atomic.Int64
	phase       Phase
	start       time.Time
	lastUpdate  time.Time
	rate        *network.RateTracker
	bar         *progressbar.ProgressBar
	silent      bool
}

// NewReporter builds a reporter for total bytes of work in phase. When
// stdout is not a terminal the bar still runs but width falls back to a
// sane default instead of querying the (nonexistent) terminal size.
func NewReporter(phase Phase, total int64, silent bool) *Reporter {
	width := 30
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		width = w - 50
		if width < 10 {
			width = 10
		}
	}

	now := time.Now()
	r := &Reporter{
		total:      total,
		phase:      phase,
		start:      now,
		lastUpdate: now,
		rate:       network.NewRateTracker(),
		silent:     silent,
	}

	if !silent {
		r.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(string(phase)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(width),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	return r
}

// Advance records n additional bytes processed and refreshes the line.
func (r *Reporter) Advance(n int64) {
	transferred := r.transferred.Add(n)
	instantaneous := r.rate.Update(n)

	if r.bar != nil {
		_ = r.bar.Add64(n)
	}

	if r.silent {
		return
	}

	elapsed := time.Since(r.start)
	var percent float64
	if r.total > 0 {
		percent = float64(transferred) / float64(r.total) * 100
	}

	var avgSpeed float64
	if elapsed.Seconds() > 0 {
		avgSpeed = float64(transferred) / elapsed.Seconds()
	}

	var eta string
	if instantaneous > 1 {
		remaining := float64(r.total-transferred) / instantaneous
		eta = formatDuration(remaining)
	} else {
		eta = "unknown"
	}

	fmt.Printf("\r%s: %s / %s (%.1f%%) elapsed %s avg %s/s inst %s/s eta %s",
		r.phase,
		formatSize(float64(transferred)),
		formatSize(float64(r.total)),
		percent,
		formatDuration(elapsed.Seconds()),
		formatSize(avgSpeed),
		formatSize(instantaneous),
		eta)
}

// Finish completes the bar and emits a trailing newline.
func (r *Reporter) Finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
	if !r.silent {
		fmt.Println()
	}
}
